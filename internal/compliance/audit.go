// Package compliance records access to protected health information.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AuditEventType names what happened to the protected record.
type AuditEventType string

const (
	// EventNotesRead is logged when a participant reads a session's notes.
	EventNotesRead AuditEventType = "phi.notes_read"
	// EventNoteAdded is logged when a note is written to a session.
	EventNoteAdded AuditEventType = "phi.note_added"
	// EventSOAPDrafted is logged when a SOAP note is drafted from a transcript.
	EventSOAPDrafted AuditEventType = "phi.soap_drafted"
	// EventDisclaimerAdded is logged when a machine-drafted note is stamped.
	EventDisclaimerAdded AuditEventType = "phi.disclaimer_added"
)

var actionEvents = map[string]AuditEventType{
	"notes_read": EventNotesRead,
	"note_added": EventNoteAdded,
	"soap_draft": EventSOAPDrafted,
	"disclaimer": EventDisclaimerAdded,
}

// AuditEvent is an immutable PHI access record.
type AuditEvent struct {
	ID        string          `json:"id"`
	EventType AuditEventType  `json:"event_type"`
	OrgID     string          `json:"org_id"`
	SessionID uuid.UUID       `json:"session_id"`
	ActorID   uuid.UUID       `json:"actor_id"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditDetails holds event-specific context. No note content is ever stored.
type AuditDetails struct {
	NoteType        string `json:"note_type,omitempty"`
	Model           string `json:"model,omitempty"`
	TranscriptChars int    `json:"transcript_chars,omitempty"`
	DisclaimerLevel string `json:"disclaimer_level,omitempty"`
}

// AuditService writes and queries phi_access_events.
type AuditService struct {
	db  *sql.DB
	now func() time.Time
}

func NewAuditService(db *sql.DB) *AuditService {
	if db == nil {
		panic("compliance: db required")
	}
	return &AuditService{db: db, now: time.Now}
}

// LogEvent records an audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage(`{}`)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO phi_access_events (id, event_type, org_id, session_id, actor_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, string(event.EventType), event.OrgID, event.SessionID, event.ActorID, []byte(event.Details), event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

// RecordNoteAccess maps a note action ("notes_read", "note_added", ...) to
// its event type and logs it.
func (s *AuditService) RecordNoteAccess(ctx context.Context, orgID string, sessionID, actorID uuid.UUID, action string) error {
	eventType, ok := actionEvents[action]
	if !ok {
		eventType = AuditEventType("phi." + strings.ToLower(strings.TrimSpace(action)))
	}
	return s.LogEvent(ctx, AuditEvent{
		EventType: eventType,
		OrgID:     orgID,
		SessionID: sessionID,
		ActorID:   actorID,
	})
}

// LogSOAPDrafted records a transcript being sent to the drafting model.
func (s *AuditService) LogSOAPDrafted(ctx context.Context, orgID string, sessionID, actorID uuid.UUID, model string, transcriptChars int) error {
	details, _ := json.Marshal(AuditDetails{NoteType: "soap", Model: model, TranscriptChars: transcriptChars})
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventSOAPDrafted,
		OrgID:     orgID,
		SessionID: sessionID,
		ActorID:   actorID,
		Details:   details,
	})
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	OrgID      string
	SessionID  uuid.UUID
	EventTypes []AuditEventType
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}

// QueryEvents lists audit events newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, org_id, session_id, actor_id, details, created_at
		FROM phi_access_events
		WHERE org_id = $1`
	args := []any{filter.OrgID}
	argIdx := 2

	if filter.SessionID != uuid.Nil {
		query += fmt.Sprintf(" AND session_id = $%d", argIdx)
		args = append(args, filter.SessionID)
		argIdx++
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			types[i] = string(t)
		}
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argIdx)
		args = append(args, pq.Array(types))
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			e         AuditEvent
			eventType string
			sessionID string
			actorID   string
			details   []byte
		)
		if err := rows.Scan(&e.ID, &eventType, &e.OrgID, &sessionID, &actorID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.EventType = AuditEventType(eventType)
		e.SessionID, _ = uuid.Parse(sessionID)
		e.ActorID, _ = uuid.Parse(actorID)
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: audit rows: %w", err)
	}
	return events, nil
}
