package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DisclaimerLevel represents the verbosity of the disclaimer.
type DisclaimerLevel string

const (
	DisclaimerShort  DisclaimerLevel = "short"
	DisclaimerMedium DisclaimerLevel = "medium"
	DisclaimerFull   DisclaimerLevel = "full"
)

const (
	disclaimerShortText = "AI draft. Review before signing."

	disclaimerMediumText = "This note was drafted automatically from a session transcript and must be reviewed by the treating therapist."

	disclaimerFullText = "This note was drafted automatically from a session transcript. It may omit or misstate clinical details and is not part of the medical record until the treating therapist has reviewed, corrected and signed it."
)

// DisclaimerConfig configures the disclaimer service.
type DisclaimerConfig struct {
	Level      DisclaimerLevel
	Enabled    bool
	CustomText string
}

func DefaultDisclaimerConfig() DisclaimerConfig {
	return DisclaimerConfig{Level: DisclaimerMedium, Enabled: true}
}

// DisclaimerService stamps machine-drafted notes.
type DisclaimerService struct {
	audit  *AuditService
	config DisclaimerConfig
}

func NewDisclaimerService(audit *AuditService, config DisclaimerConfig) *DisclaimerService {
	return &DisclaimerService{audit: audit, config: config}
}

// Text returns the configured disclaimer.
func (s *DisclaimerService) Text() string {
	if s.config.CustomText != "" {
		return s.config.CustomText
	}
	switch s.config.Level {
	case DisclaimerShort:
		return disclaimerShortText
	case DisclaimerFull:
		return disclaimerFullText
	default:
		return disclaimerMediumText
	}
}

// DisclaimerOptions identifies the note being stamped.
type DisclaimerOptions struct {
	OrgID     string
	SessionID uuid.UUID
	ActorID   uuid.UUID
}

// AddDisclaimer prefixes note with the disclaimer unless it already carries it.
func (s *DisclaimerService) AddDisclaimer(ctx context.Context, note string, opts DisclaimerOptions) (string, error) {
	if !s.config.Enabled {
		return note, nil
	}
	disclaimer := s.Text()
	if strings.Contains(note, disclaimer) {
		return note, nil
	}
	result := fmt.Sprintf("[%s]\n\n%s", disclaimer, strings.TrimSpace(note))

	if s.audit != nil && opts.SessionID != uuid.Nil {
		details, _ := json.Marshal(AuditDetails{NoteType: "soap", DisclaimerLevel: string(s.config.Level)})
		if err := s.audit.LogEvent(ctx, AuditEvent{
			EventType: EventDisclaimerAdded,
			OrgID:     opts.OrgID,
			SessionID: opts.SessionID,
			ActorID:   opts.ActorID,
			Details:   details,
		}); err != nil {
			return result, err
		}
	}
	return result, nil
}
