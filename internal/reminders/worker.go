package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/teletherapy-platform/internal/notify"
	"github.com/wolfman30/teletherapy-platform/internal/sessions"
	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

type reminderStore interface {
	ListDue(ctx context.Context, from, until time.Time, limit int) ([]uuid.UUID, error)
	Claim(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	Release(ctx context.Context, id uuid.UUID) error
}

// Worker emails both participants ahead of upcoming sessions.
type Worker struct {
	store     reminderStore
	directory notify.SessionDirectory
	sender    notify.EmailSender
	lead      time.Duration
	loc       *time.Location
	now       func() time.Time
	logger    *logging.Logger
}

// Option customises a Worker.
type Option func(*Worker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithLocation sets the timezone used when rendering session times.
func WithLocation(loc *time.Location) Option {
	return func(w *Worker) {
		if loc != nil {
			w.loc = loc
		}
	}
}

func NewWorker(store reminderStore, directory notify.SessionDirectory, sender notify.EmailSender, lead time.Duration, logger *logging.Logger, opts ...Option) *Worker {
	if store == nil {
		panic("reminders: store required")
	}
	if directory == nil {
		panic("reminders: session directory required")
	}
	if sender == nil {
		panic("reminders: email sender required")
	}
	if lead <= 0 {
		lead = 24 * time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &Worker{
		store:     store,
		directory: directory,
		sender:    sender,
		lead:      lead,
		loc:       time.UTC,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs ProcessDue every interval until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := w.ProcessDue(ctx); err != nil {
			w.logger.Error("reminders: pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessDue reminds every due session once. Returns the number of sessions
// for which at least one participant was emailed.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	now := w.now().UTC()
	ids, err := w.store.ListDue(ctx, now, now.Add(w.lead), 100)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	w.logger.Info("reminders: processing due sessions", "count", len(ids))

	sent := 0
	for _, id := range ids {
		ok, err := w.processOne(ctx, id, now)
		if err != nil {
			w.logger.Error("reminders: failed to remind session", "session_id", id, "error", err)
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

func (w *Worker) processOne(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	claimed, err := w.store.Claim(ctx, id, now)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	details, err := w.directory.GetSessionDetails(ctx, id)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return false, nil
		}
		return false, w.release(ctx, id, fmt.Errorf("load session: %w", err))
	}

	delivered := 0
	var errs []error
	for _, therapist := range []bool{false, true} {
		msg, ok := notify.ReminderMessage(details, therapist, w.loc)
		if !ok {
			continue
		}
		if err := w.sender.Send(ctx, msg); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	if delivered == 0 && len(errs) > 0 {
		return false, w.release(ctx, id, errors.Join(errs...))
	}
	for _, err := range errs {
		w.logger.Warn("reminders: partial delivery", "session_id", id, "error", err)
	}

	w.logger.Info("reminders: reminder sent", "session_id", id, "recipients", delivered, "scheduled_at", details.ScheduledAt)
	return delivered > 0, nil
}

func (w *Worker) release(ctx context.Context, id uuid.UUID, cause error) error {
	if err := w.store.Release(ctx, id); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
