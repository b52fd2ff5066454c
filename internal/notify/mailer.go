package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/teletherapy-platform/internal/events"
	"github.com/wolfman30/teletherapy-platform/internal/sessions"
	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

// SessionDirectory resolves a session to its participants' contact details.
type SessionDirectory interface {
	GetSessionDetails(ctx context.Context, id uuid.UUID) (*sessions.SessionDetails, error)
}

// SessionMailer emails participants when a session changes state. It is
// driven by the outbox deliverer.
type SessionMailer struct {
	email     EmailSender
	directory SessionDirectory
	loc       *time.Location
	logger    *logging.Logger
}

func NewSessionMailer(email EmailSender, directory SessionDirectory, loc *time.Location, logger *logging.Logger) *SessionMailer {
	if email == nil {
		panic("notify: email sender required")
	}
	if directory == nil {
		panic("notify: session directory required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SessionMailer{email: email, directory: directory, loc: loc, logger: logger}
}

// MailedEventTypes are the session events that produce email. Joins do not.
var MailedEventTypes = []string{
	sessions.EventBooked,
	sessions.EventRescheduled,
	sessions.EventCancelled,
	sessions.EventCompleted,
}

// Handle implements events.DeliveryHandler. Callers filter with
// events.OnlyTypes(mailer, MailedEventTypes...).
func (m *SessionMailer) Handle(ctx context.Context, entry events.OutboxEntry) error {
	var evt sessions.SessionEvent
	if err := events.Decode(entry, &evt); err != nil {
		return err
	}
	if evt.SessionID == uuid.Nil {
		m.logger.Warn("notify: session event without session id", "event_id", entry.ID, "type", entry.Type)
		return nil
	}

	details, err := m.directory.GetSessionDetails(ctx, evt.SessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			m.logger.Warn("notify: session vanished before notification", "session_id", evt.SessionID)
			return nil
		}
		return fmt.Errorf("notify: load session %s: %w", evt.SessionID, err)
	}

	var errs []error
	for _, r := range recipientsFor(details) {
		msg, ok := sessionMessage(entry.Type, evt, details, r, m.loc)
		if !ok {
			continue
		}
		if err := m.email.Send(ctx, msg); err != nil {
			m.logger.Error("notify: failed to send session email", "error", err, "session_id", evt.SessionID, "type", entry.Type)
			errs = append(errs, err)
			continue
		}
		m.logger.Info("notify: session email sent", "session_id", evt.SessionID, "type", entry.Type, "therapist", r.Therapist)
	}
	return errors.Join(errs...)
}

var _ events.DeliveryHandler = (*SessionMailer)(nil)
