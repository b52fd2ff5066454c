package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Envelope is the transport shape of an outbox event published downstream.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	OrgID           string          `json:"org_id,omitempty"`
	TimestampMicros int64           `json:"timestamp"`
	Payload         json.RawMessage `json:"payload"`
}

var errMissingType = errors.New("events: event type missing")

// NewEnvelope wraps an outbox entry for publishing.
func NewEnvelope(entry OutboxEntry) (Envelope, error) {
	eventType := strings.TrimSpace(entry.Type)
	if eventType == "" {
		return Envelope{}, errMissingType
	}
	if entry.ID == uuid.Nil {
		return Envelope{}, fmt.Errorf("events: entry id required for %s", eventType)
	}
	payload := entry.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return Envelope{
		EventID:         entry.ID,
		EventType:       eventType,
		OrgID:           entry.OrgID,
		TimestampMicros: entry.CreatedAt.UTC().UnixMicro(),
		Payload:         append(json.RawMessage(nil), payload...),
	}, nil
}

// Decode unmarshals an entry's payload into dst.
func Decode(entry OutboxEntry, dst any) error {
	if err := json.Unmarshal(entry.Payload, dst); err != nil {
		return fmt.Errorf("events: decode %s payload: %w", entry.Type, err)
	}
	return nil
}
