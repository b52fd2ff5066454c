// Package notes drafts SOAP notes from session transcripts.
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wolfman30/teletherapy-platform/internal/archive"
	"github.com/wolfman30/teletherapy-platform/internal/compliance"
	"github.com/wolfman30/teletherapy-platform/internal/sessions"
	"github.com/wolfman30/teletherapy-platform/internal/tenancy"
	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

const maxTranscriptChars = 120_000

// ErrTranscriptRequired is returned for empty or oversized transcripts.
var ErrTranscriptRequired = errors.New("notes: transcript is required and must be under 120000 characters")

// SessionNotes is the slice of the sessions service the drafter needs.
type SessionNotes interface {
	GetSessionByID(ctx context.Context, id uuid.UUID) (*sessions.Session, error)
	AddSessionNote(ctx context.Context, sessionID uuid.UUID, actor tenancy.Actor, noteType sessions.NoteType, content string) (*sessions.SessionNote, error)
}

type soapDrafter interface {
	Draft(ctx context.Context, transcript string) (SOAPNote, error)
	Model() string
}

type draftAuditor interface {
	LogSOAPDrafted(ctx context.Context, orgID string, sessionID, actorID uuid.UUID, model string, transcriptChars int) error
}

type transcriptArchiver interface {
	ArchiveTranscript(ctx context.Context, record *archive.TranscriptRecord) (string, error)
}

type disclaimer interface {
	AddDisclaimer(ctx context.Context, note string, opts compliance.DisclaimerOptions) (string, error)
}

// Draft is the result of a SOAP drafting request.
type Draft struct {
	SOAP     SOAPNote              `json:"soap"`
	Note     *sessions.SessionNote `json:"note"`
	Redacted bool                  `json:"redacted"`
}

// Service drafts and stores SOAP notes for live or finished sessions.
type Service struct {
	sessions   SessionNotes
	drafter    soapDrafter
	audit      draftAuditor
	disclaimer disclaimer
	archive    transcriptArchiver
	logger     *logging.Logger
}

func NewService(store SessionNotes, drafter soapDrafter, audit draftAuditor, disc disclaimer, logger *logging.Logger) *Service {
	if store == nil {
		panic("notes: session store required")
	}
	if drafter == nil {
		panic("notes: drafter required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{sessions: store, drafter: drafter, audit: audit, disclaimer: disc, logger: logger}
}

// WithArchive keeps each redacted transcript and its draft in long-term storage.
func (s *Service) WithArchive(a transcriptArchiver) *Service {
	s.archive = a
	return s
}

// DraftSOAP drafts a SOAP note from transcript and stores it on the session.
// Only the session's therapist may draft, and only once the session has started.
func (s *Service) DraftSOAP(ctx context.Context, sessionID uuid.UUID, actor tenancy.Actor, transcript string) (*Draft, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" || utf8.RuneCountInString(transcript) > maxTranscriptChars {
		return nil, ErrTranscriptRequired
	}

	sess, err := s.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != sess.TherapistID {
		return nil, sessions.ErrUnauthorized
	}
	if sess.Status != sessions.StatusInProgress && sess.Status != sessions.StatusCompleted {
		return nil, fmt.Errorf("%w: SOAP notes need an in-progress or completed session", sessions.ErrInvalidTransition)
	}

	clean, redacted := RedactIdentifiers(transcript)
	if s.audit != nil {
		if err := s.audit.LogSOAPDrafted(ctx, sess.OrgID, sess.ID, actor.UserID, s.drafter.Model(), utf8.RuneCountInString(clean)); err != nil {
			return nil, fmt.Errorf("notes: audit draft: %w", err)
		}
	}

	soap, err := s.drafter.Draft(ctx, clean)
	if err != nil {
		return nil, err
	}

	content := soap.Format()
	if s.disclaimer != nil {
		content, err = s.disclaimer.AddDisclaimer(ctx, content, compliance.DisclaimerOptions{
			OrgID:     sess.OrgID,
			SessionID: sess.ID,
			ActorID:   actor.UserID,
		})
		if err != nil {
			s.logger.Warn("notes: disclaimer audit failed", "session_id", sess.ID, "error", err)
		}
	}

	note, err := s.sessions.AddSessionNote(ctx, sess.ID, actor, sessions.NoteSOAP, content)
	if err != nil {
		return nil, err
	}
	s.logger.Info("soap note drafted", "session_id", sess.ID, "note_id", note.ID, "redacted", redacted)

	if s.archive != nil {
		_, err := s.archive.ArchiveTranscript(ctx, &archive.TranscriptRecord{
			OrgID:      sess.OrgID,
			SessionID:  sess.ID,
			NoteID:     note.ID,
			AuthorID:   actor.UserID,
			Model:      s.drafter.Model(),
			Redacted:   redacted,
			Transcript: clean,
			SOAP: archive.SOAPSection{
				Subjective: soap.Subjective,
				Objective:  soap.Objective,
				Assessment: soap.Assessment,
				Plan:       soap.Plan,
			},
		})
		if err != nil {
			s.logger.Warn("notes: transcript archive failed", "session_id", sess.ID, "note_id", note.ID, "error", err)
		}
	}
	return &Draft{SOAP: soap, Note: note, Redacted: redacted}, nil
}
