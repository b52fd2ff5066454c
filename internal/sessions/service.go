package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/teletherapy-platform/internal/observability/metrics"
	"github.com/wolfman30/teletherapy-platform/internal/tenancy"
	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

var sessionsTracer = otel.Tracer("teletherapy.internal.sessions")

// Event types written to the outbox.
const (
	EventBooked      = "session.booked"
	EventJoined      = "session.joined"
	EventCompleted   = "session.completed"
	EventRescheduled = "session.rescheduled"
	EventCancelled   = "session.cancelled"
)

// SessionEvent is the outbox payload for lifecycle events.
type SessionEvent struct {
	SessionID         uuid.UUID  `json:"session_id"`
	PatientID         uuid.UUID  `json:"patient_id"`
	TherapistID       uuid.UUID  `json:"therapist_id"`
	ActorID           uuid.UUID  `json:"actor_id"`
	Status            Status     `json:"status"`
	ScheduledAt       time.Time  `json:"scheduled_at"`
	DurationMinutes   int        `json:"duration_minutes"`
	Reason            string     `json:"reason,omitempty"`
	RoomURL           string     `json:"room_url,omitempty"`
	PreviousSessionID *uuid.UUID `json:"previous_session_id,omitempty"`
}

// EventSink persists lifecycle events for asynchronous delivery.
type EventSink interface {
	Insert(ctx context.Context, orgID string, eventType string, payload any) (uuid.UUID, error)
}

// RoomProvider provisions a video room for a session and returns its join URL.
type RoomProvider interface {
	EnsureRoom(ctx context.Context, sessionID uuid.UUID, expiresAt time.Time) (string, error)
}

// PaymentVerifier confirms a payment reference with the payment provider.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, reference string) (VerifiedPayment, error)
}

// PaymentVerifierFunc adapts a function to PaymentVerifier.
type PaymentVerifierFunc func(ctx context.Context, reference string) (VerifiedPayment, error)

func (f PaymentVerifierFunc) VerifyPayment(ctx context.Context, reference string) (VerifiedPayment, error) {
	return f(ctx, reference)
}

// NoteAuditor records access to clinical notes.
type NoteAuditor interface {
	RecordNoteAccess(ctx context.Context, orgID string, sessionID, actorID uuid.UUID, action string) error
}

// Policy holds the scheduling rules.
type Policy struct {
	DefaultDurationMinutes int
	MaxDurationMinutes     int
	JoinEarly              time.Duration
	JoinLate               time.Duration
	CancellationLead       time.Duration
	DefaultCurrency        string
}

// DefaultPolicy returns the platform's standard scheduling rules.
func DefaultPolicy() Policy {
	return Policy{
		DefaultDurationMinutes: 60,
		MaxDurationMinutes:     240,
		JoinEarly:              30 * time.Minute,
		JoinLate:               15 * time.Minute,
		CancellationLead:       24 * time.Hour,
		DefaultCurrency:        "NGN",
	}
}

// Service mediates session creation, availability queries and status transitions.
type Service struct {
	repo     Repository
	logger   *logging.Logger
	now      func() time.Time
	loc      *time.Location
	policy   Policy
	cache    SlotCache
	events   EventSink
	rooms    RoomProvider
	payments PaymentVerifier
	auditor  NoteAuditor
	metrics  *metrics.SessionMetrics
}

// Option customizes a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithPolicy(p Policy) Option {
	return func(s *Service) {
		def := DefaultPolicy()
		if p.DefaultDurationMinutes <= 0 {
			p.DefaultDurationMinutes = def.DefaultDurationMinutes
		}
		if p.MaxDurationMinutes <= 0 {
			p.MaxDurationMinutes = def.MaxDurationMinutes
		}
		if p.DefaultCurrency == "" {
			p.DefaultCurrency = def.DefaultCurrency
		}
		s.policy = p
	}
}

func WithSlotCache(c SlotCache) Option       { return func(s *Service) { s.cache = c } }
func WithEvents(e EventSink) Option          { return func(s *Service) { s.events = e } }
func WithRoomProvider(r RoomProvider) Option { return func(s *Service) { s.rooms = r } }
func WithPaymentVerifier(v PaymentVerifier) Option {
	return func(s *Service) { s.payments = v }
}
func WithNoteAuditor(a NoteAuditor) Option { return func(s *Service) { s.auditor = a } }
func WithMetrics(m *metrics.SessionMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs the session lifecycle service.
func NewService(repo Repository, logger *logging.Logger, opts ...Option) *Service {
	if repo == nil {
		panic("sessions: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
		loc:    time.UTC,
		policy: DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy exposes the active scheduling rules.
func (s *Service) Policy() Policy {
	return s.policy
}

// BookSession books a session after verifying the therapist's weekly availability and
// that no other booking overlaps. The check and insert run under a therapist lock.
func (s *Service) BookSession(ctx context.Context, in BookSessionInput) (sess *Session, err error) {
	ctx, span := s.start(ctx, "sessions.book",
		attribute.String("teletherapy.therapist_id", in.TherapistID.String()),
		attribute.String("teletherapy.patient_id", in.PatientID.String()),
	)
	defer func() { s.finish(span, "book", err) }()

	now := s.now().UTC()
	if in.DurationMinutes == 0 {
		in.DurationMinutes = s.policy.DefaultDurationMinutes
	}
	if in.SessionType == "" {
		in.SessionType = TypeVideo
	}
	if in.Currency == "" {
		in.Currency = s.policy.DefaultCurrency
	}
	if err := s.validateBooking(in, now); err != nil {
		return nil, err
	}

	amount := in.AmountPaid
	currency := strings.ToUpper(in.Currency)
	var reference *string
	if s.payments != nil {
		amount = 0
		if ref := strings.TrimSpace(in.PaymentReference); ref != "" {
			verified, err := s.payments.VerifyPayment(ctx, ref)
			if err != nil {
				s.logger.Warn("payment verification failed", "reference", ref, "error", err)
				return nil, fmt.Errorf("%w: %v", ErrPaymentNotVerified, err)
			}
			amount = verified.Amount
			if verified.Currency != "" {
				currency = strings.ToUpper(verified.Currency)
			}
			reference = &verified.Reference
		}
	} else if ref := strings.TrimSpace(in.PaymentReference); ref != "" {
		reference = &ref
	}

	sess = &Session{
		ID:               uuid.New(),
		OrgID:            in.OrgID,
		PatientID:        in.PatientID,
		TherapistID:      in.TherapistID,
		ScheduledAt:      in.ScheduledAt.UTC(),
		DurationMinutes:  in.DurationMinutes,
		SessionType:      in.SessionType,
		Status:           StatusScheduled,
		AmountPaid:       amount,
		Currency:         currency,
		PaymentReference: reference,
		Notes:            optionalString(in.Notes),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.repo.WithTherapistLock(ctx, in.TherapistID, func(tx Repository) error {
		if err := s.ensureBookable(ctx, tx, in.TherapistID, sess.Interval(), uuid.Nil); err != nil {
			return err
		}
		return tx.InsertSession(ctx, sess)
	})
	if err != nil {
		if isBusinessError(err) {
			s.logger.Info("booking rejected", "therapist_id", in.TherapistID, "scheduled_at", sess.ScheduledAt, "reason", err)
			return nil, err
		}
		s.logger.Error("failed to book session", "therapist_id", in.TherapistID, "error", err)
		return nil, fmt.Errorf("sessions: failed to book: %w", err)
	}

	s.invalidateDay(ctx, sess.TherapistID, sess.ScheduledAt)
	s.emit(ctx, EventBooked, sess, in.PatientID, "", nil)
	s.logger.Info("session booked", "session_id", sess.ID, "therapist_id", sess.TherapistID, "patient_id", sess.PatientID, "scheduled_at", sess.ScheduledAt)
	return sess, nil
}

func (s *Service) validateBooking(in BookSessionInput, now time.Time) error {
	switch {
	case in.PatientID == uuid.Nil || in.TherapistID == uuid.Nil:
		return fmt.Errorf("%w: patient and therapist are required", ErrInvalidInput)
	case in.PatientID == in.TherapistID:
		return fmt.Errorf("%w: patient and therapist must differ", ErrInvalidInput)
	case in.DurationMinutes < 0 || in.DurationMinutes > s.policy.MaxDurationMinutes:
		return fmt.Errorf("%w: duration must be between 1 and %d minutes", ErrInvalidInput, s.policy.MaxDurationMinutes)
	case !in.SessionType.Valid():
		return fmt.Errorf("%w: unknown session type %q", ErrInvalidInput, in.SessionType)
	case in.AmountPaid < 0:
		return fmt.Errorf("%w: amount cannot be negative", ErrInvalidInput)
	case !in.ScheduledAt.After(now):
		return fmt.Errorf("%w: scheduled time must be in the future", ErrInvalidInput)
	}
	return nil
}

// ensureBookable checks availability windows and overlaps using the given repository.
func (s *Service) ensureBookable(ctx context.Context, repo Repository, therapistID uuid.UUID, iv Interval, excludeID uuid.UUID) error {
	slots, err := repo.WeeklyAvailability(ctx, therapistID)
	if err != nil {
		return err
	}
	if !withinAvailability(slots, iv, s.loc) {
		s.metrics.ObserveRejection("unavailable")
		return ErrTherapistUnavailable
	}
	conflict, err := repo.HasConflict(ctx, therapistID, iv, excludeID)
	if err != nil {
		return err
	}
	if conflict {
		s.metrics.ObserveRejection("slot_taken")
		return ErrSlotTaken
	}
	return nil
}

// CheckTherapistAvailability reports whether [start, end) lies inside an enabled
// weekly window and overlaps no existing booking. Store failures are returned as errors.
func (s *Service) CheckTherapistAvailability(ctx context.Context, therapistID uuid.UUID, start, end time.Time) (available bool, err error) {
	ctx, span := s.start(ctx, "sessions.check_availability",
		attribute.String("teletherapy.therapist_id", therapistID.String()))
	defer func() { s.finish(span, "check_availability", err) }()

	if therapistID == uuid.Nil || !end.After(start) {
		return false, fmt.Errorf("%w: end must be after start", ErrInvalidInput)
	}
	err = s.ensureBookable(ctx, s.repo, therapistID, Interval{Start: start, End: end}, uuid.Nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrTherapistUnavailable), errors.Is(err, ErrSlotTaken):
		return false, nil
	default:
		return false, fmt.Errorf("sessions: availability check: %w", err)
	}
}

// GetAvailableSlots enumerates free slots of the given length on the calendar day of date.
func (s *Service) GetAvailableSlots(ctx context.Context, therapistID uuid.UUID, date time.Time, durationMinutes int) (slots []TimeSlot, err error) {
	ctx, span := s.start(ctx, "sessions.available_slots",
		attribute.String("teletherapy.therapist_id", therapistID.String()))
	defer func() { s.finish(span, "available_slots", err) }()

	if therapistID == uuid.Nil {
		return nil, fmt.Errorf("%w: therapist is required", ErrInvalidInput)
	}
	if durationMinutes == 0 {
		durationMinutes = s.policy.DefaultDurationMinutes
	}
	if durationMinutes < 0 || durationMinutes > s.policy.MaxDurationMinutes {
		return nil, fmt.Errorf("%w: duration out of range", ErrInvalidInput)
	}

	started := time.Now()
	now := s.now()
	day := dayInterval(date, s.loc)
	dayKey := day.Start.Format(time.DateOnly)

	cacheVersion := ""
	if s.cache != nil {
		cached, ok, cerr := s.cache.Get(ctx, therapistID, dayKey, durationMinutes)
		if cerr != nil {
			s.logger.Warn("slot cache read failed", "therapist_id", therapistID, "error", cerr)
		} else if ok {
			s.metrics.ObserveSlotQuery(true, time.Since(started).Seconds())
			return notBefore(cached, now), nil
		}
		if cacheVersion, cerr = s.cache.Version(ctx, therapistID, dayKey); cerr != nil {
			s.logger.Warn("slot cache version read failed", "therapist_id", therapistID, "error", cerr)
			cacheVersion = ""
		}
	}

	weekly, err := s.repo.WeeklyAvailability(ctx, therapistID)
	if err != nil {
		return nil, fmt.Errorf("sessions: load availability: %w", err)
	}
	windows := windowsOn(weekly, day.Start, s.loc)
	all := []TimeSlot{}
	if len(windows) > 0 {
		booked, err := s.repo.BookedIntervals(ctx, therapistID, day)
		if err != nil {
			return nil, fmt.Errorf("sessions: load bookings: %w", err)
		}
		all = append(all, enumerateSlots(windows, time.Duration(durationMinutes)*time.Minute, booked, time.Time{})...)
	}

	if s.cache != nil && cacheVersion != "" {
		if cerr := s.cache.Set(ctx, therapistID, dayKey, durationMinutes, cacheVersion, all); cerr != nil {
			s.logger.Warn("slot cache write failed", "therapist_id", therapistID, "error", cerr)
		}
	}
	s.metrics.ObserveSlotQuery(false, time.Since(started).Seconds())
	return notBefore(all, now), nil
}

func notBefore(slots []TimeSlot, now time.Time) []TimeSlot {
	out := make([]TimeSlot, 0, len(slots))
	for _, slot := range slots {
		if !slot.Start.Before(now) {
			out = append(out, slot)
		}
	}
	return out
}

// GetSessions lists sessions across the platform (admin view).
func (s *Service) GetSessions(ctx context.Context, filter ListFilter) ([]Session, error) {
	out, err := s.repo.ListSessions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("sessions: list: %w", err)
	}
	return out, nil
}

// GetUserSessions lists sessions where userID is the patient or the therapist.
func (s *Service) GetUserSessions(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]Session, error) {
	if userID == uuid.Nil {
		return nil, ErrUnauthorized
	}
	filter.ParticipantID = &userID
	return s.GetSessions(ctx, filter)
}

// GetUpcomingSessions lists live sessions of userID from the join window onwards, soonest first.
func (s *Service) GetUpcomingSessions(ctx context.Context, userID uuid.UUID, limit int) ([]Session, error) {
	from := s.now().Add(-s.policy.JoinLate)
	return s.GetUserSessions(ctx, userID, ListFilter{
		Statuses:  []Status{StatusScheduled, StatusInProgress},
		From:      &from,
		Ascending: true,
		Limit:     limit,
	})
}

// GetSessionByID loads a single session.
func (s *Service) GetSessionByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.repo.GetSession(ctx, id)
}

// GetSessionDetails loads a session with participant names, notes and change history.
func (s *Service) GetSessionDetails(ctx context.Context, id uuid.UUID) (*SessionDetails, error) {
	details, err := s.repo.GetSessionDetails(ctx, id)
	if err != nil {
		return nil, err
	}
	if details.SessionNotes, err = s.repo.ListNotes(ctx, id); err != nil {
		return nil, err
	}
	if details.Changes, err = s.repo.ListChanges(ctx, id); err != nil {
		return nil, err
	}
	return details, nil
}

// JoinSession lets the patient or therapist enter the session during its join window.
func (s *Service) JoinSession(ctx context.Context, sessionID uuid.UUID, actor tenancy.Actor) (joined *Session, err error) {
	ctx, span := s.start(ctx, "sessions.join", attribute.String("teletherapy.session_id", sessionID.String()))
	defer func() { s.finish(span, "join", err) }()

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsParticipant(actor.UserID) {
		return nil, ErrUnauthorized
	}
	if sess.Status != StatusScheduled && sess.Status != StatusInProgress {
		return nil, ErrInvalidTransition
	}

	now := s.now().UTC()
	if now.Before(sess.ScheduledAt.Add(-s.policy.JoinEarly)) {
		return nil, ErrJoinTooEarly
	}
	if now.After(sess.ScheduledAt.Add(s.policy.JoinLate)) {
		return nil, ErrJoinTooLate
	}

	var roomURL *string
	if s.rooms != nil && sess.RoomURL == nil && sess.SessionType != TypeInPerson {
		url, err := s.rooms.EnsureRoom(ctx, sess.ID, sess.EndsAt().Add(time.Hour))
		if err != nil {
			return nil, fmt.Errorf("sessions: provision room: %w", err)
		}
		roomURL = &url
	}

	joined, err = s.repo.TransitionStatus(ctx, sessionID, []Status{StatusScheduled, StatusInProgress}, StatusUpdate{
		To:        StatusInProgress,
		At:        now,
		StartedAt: &now,
		RoomURL:   roomURL,
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, EventJoined, joined, actor.UserID, "", nil)
	s.logger.Info("session joined", "session_id", sessionID, "user_id", actor.UserID)
	return joined, nil
}

// CompleteSession marks a session completed. Only the therapist (or an admin) may complete.
func (s *Service) CompleteSession(ctx context.Context, sessionID uuid.UUID, actor tenancy.Actor, summary string) (completed *Session, err error) {
	ctx, span := s.start(ctx, "sessions.complete", attribute.String("teletherapy.session_id", sessionID.String()))
	defer func() { s.finish(span, "complete", err) }()

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != sess.TherapistID && !actor.AdministersOrg(sess.OrgID) {
		return nil, ErrUnauthorized
	}
	if sess.Status != StatusScheduled && sess.Status != StatusInProgress {
		return nil, ErrInvalidTransition
	}

	now := s.now().UTC()
	err = s.repo.WithTherapistLock(ctx, sess.TherapistID, func(tx Repository) error {
		var terr error
		completed, terr = tx.TransitionStatus(ctx, sessionID, []Status{StatusScheduled, StatusInProgress}, StatusUpdate{
			To:          StatusCompleted,
			At:          now,
			CompletedAt: &now,
			Summary:     optionalString(summary),
		})
		if terr != nil {
			return terr
		}
		return tx.InsertChange(ctx, &SessionChange{
			SessionID: sessionID,
			Kind:      ChangeCompletion,
			ChangedBy: actor.UserID,
			Reason:    strings.TrimSpace(summary),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, EventCompleted, completed, actor.UserID, "", nil)
	s.logger.Info("session completed", "session_id", sessionID, "by", actor.UserID)
	return completed, nil
}

// RescheduleSession moves a scheduled session. The original row becomes "rescheduled" and a
// new scheduled session is created at newStart; the new session is returned.
func (s *Service) RescheduleSession(ctx context.Context, sessionID uuid.UUID, actor tenancy.Actor, newStart time.Time, reason string) (moved *Session, err error) {
	ctx, span := s.start(ctx, "sessions.reschedule", attribute.String("teletherapy.session_id", sessionID.String()))
	defer func() { s.finish(span, "reschedule", err) }()

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsParticipant(actor.UserID) && !actor.AdministersOrg(sess.OrgID) {
		return nil, ErrUnauthorized
	}
	if sess.Status != StatusScheduled {
		return nil, ErrInvalidTransition
	}
	now := s.now().UTC()
	if !newStart.After(now) {
		return nil, fmt.Errorf("%w: new time must be in the future", ErrInvalidInput)
	}
	if newStart.Equal(sess.ScheduledAt) {
		return nil, fmt.Errorf("%w: new time equals the current time", ErrInvalidInput)
	}

	reason = strings.TrimSpace(reason)
	moved = &Session{
		ID:               uuid.New(),
		OrgID:            sess.OrgID,
		PatientID:        sess.PatientID,
		TherapistID:      sess.TherapistID,
		ScheduledAt:      newStart.UTC(),
		DurationMinutes:  sess.DurationMinutes,
		SessionType:      sess.SessionType,
		Status:           StatusScheduled,
		AmountPaid:       sess.AmountPaid,
		Currency:         sess.Currency,
		PaymentReference: sess.PaymentReference,
		Notes:            sess.Notes,
		RescheduledFrom:  &sess.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.repo.WithTherapistLock(ctx, sess.TherapistID, func(tx Repository) error {
		if err := s.ensureBookable(ctx, tx, sess.TherapistID, moved.Interval(), sess.ID); err != nil {
			return err
		}
		if _, err := tx.TransitionStatus(ctx, sessionID, []Status{StatusScheduled}, StatusUpdate{
			To:               StatusRescheduled,
			At:               now,
			RescheduleReason: optionalString(reason),
		}); err != nil {
			return err
		}
		if err := tx.InsertSession(ctx, moved); err != nil {
			return err
		}
		previous := sess.ScheduledAt
		return tx.InsertChange(ctx, &SessionChange{
			SessionID:           sessionID,
			Kind:                ChangeReschedule,
			ChangedBy:           actor.UserID,
			Reason:              reason,
			PreviousScheduledAt: &previous,
			NewScheduledAt:      &moved.ScheduledAt,
			NewSessionID:        &moved.ID,
			CreatedAt:           now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidateDay(ctx, sess.TherapistID, sess.ScheduledAt)
	s.invalidateDay(ctx, sess.TherapistID, moved.ScheduledAt)
	s.emit(ctx, EventRescheduled, moved, actor.UserID, reason, &sess.ID)
	s.logger.Info("session rescheduled", "session_id", sessionID, "new_session_id", moved.ID, "scheduled_at", moved.ScheduledAt)
	return moved, nil
}

// CancelSession cancels a scheduled session no later than the cancellation lead time.
func (s *Service) CancelSession(ctx context.Context, sessionID uuid.UUID, actor tenancy.Actor, reason string) (cancelled *Session, err error) {
	ctx, span := s.start(ctx, "sessions.cancel", attribute.String("teletherapy.session_id", sessionID.String()))
	defer func() { s.finish(span, "cancel", err) }()

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsParticipant(actor.UserID) && !actor.AdministersOrg(sess.OrgID) {
		return nil, ErrUnauthorized
	}
	if sess.Status != StatusScheduled {
		return nil, ErrInvalidTransition
	}
	now := s.now().UTC()
	if sess.ScheduledAt.Sub(now) < s.policy.CancellationLead {
		return nil, ErrCancellationWindow
	}

	reason = strings.TrimSpace(reason)
	err = s.repo.WithTherapistLock(ctx, sess.TherapistID, func(tx Repository) error {
		var terr error
		cancelled, terr = tx.TransitionStatus(ctx, sessionID, []Status{StatusScheduled}, StatusUpdate{
			To:                 StatusCancelled,
			At:                 now,
			CancelledAt:        &now,
			CancellationReason: optionalString(reason),
		})
		if terr != nil {
			return terr
		}
		return tx.InsertChange(ctx, &SessionChange{
			SessionID: sessionID,
			Kind:      ChangeCancellation,
			ChangedBy: actor.UserID,
			Reason:    reason,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidateDay(ctx, sess.TherapistID, sess.ScheduledAt)
	s.emit(ctx, EventCancelled, cancelled, actor.UserID, reason, nil)
	s.logger.Info("session cancelled", "session_id", sessionID, "by", actor.UserID)
	return cancelled, nil
}

// AddSessionNote appends a note written by a participant.
func (s *Service) AddSessionNote(ctx context.Context, sessionID uuid.UUID, actor tenancy.Actor, noteType NoteType, content string) (*SessionNote, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: note content is required", ErrInvalidInput)
	}
	if noteType == "" {
		noteType = NoteGeneral
	}
	if noteType != NoteGeneral && noteType != NoteSOAP {
		return nil, fmt.Errorf("%w: unknown note type %q", ErrInvalidInput, noteType)
	}
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsParticipant(actor.UserID) {
		return nil, ErrUnauthorized
	}

	note := &SessionNote{
		ID:        uuid.New(),
		SessionID: sessionID,
		AuthorID:  actor.UserID,
		NoteType:  noteType,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.InsertNote(ctx, note); err != nil {
		return nil, err
	}
	s.audit(ctx, sess, actor, "note_added")
	return note, nil
}

// GetSessionNotes returns a session's notes to one of its participants.
func (s *Service) GetSessionNotes(ctx context.Context, sessionID uuid.UUID, actor tenancy.Actor) ([]SessionNote, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsParticipant(actor.UserID) {
		return nil, ErrUnauthorized
	}
	notes, err := s.repo.ListNotes(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, sess, actor, "notes_read")
	if notes == nil {
		notes = []SessionNote{}
	}
	return notes, nil
}

// GetWeeklyAvailability returns a therapist's configured windows.
func (s *Service) GetWeeklyAvailability(ctx context.Context, therapistID uuid.UUID) ([]AvailabilitySlot, error) {
	slots, err := s.repo.WeeklyAvailability(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	if slots == nil {
		slots = []AvailabilitySlot{}
	}
	return slots, nil
}

// SetWeeklyAvailability replaces a therapist's windows. Only the therapist or an admin may do so.
func (s *Service) SetWeeklyAvailability(ctx context.Context, therapistID uuid.UUID, actor tenancy.Actor, slots []AvailabilitySlot) ([]AvailabilitySlot, error) {
	if actor.UserID != therapistID && !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if err := validateWeekly(slots); err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceWeeklyAvailability(ctx, therapistID, slots); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.InvalidateTherapist(ctx, therapistID); err != nil {
			s.logger.Warn("slot cache invalidation failed", "therapist_id", therapistID, "error", err)
		}
	}
	s.logger.Info("weekly availability updated", "therapist_id", therapistID, "windows", len(slots))
	return slots, nil
}

func (s *Service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := sessionsTracer.Start(ctx, name)
	span.SetAttributes(attrs...)
	return ctx, span
}

func (s *Service) finish(span trace.Span, operation string, err error) {
	switch {
	case err == nil:
		s.metrics.ObserveOperation(operation, "ok")
	case isBusinessError(err):
		s.metrics.ObserveOperation(operation, "rejected")
	default:
		span.RecordError(err)
		s.metrics.ObserveOperation(operation, "error")
	}
	span.End()
}

func (s *Service) invalidateDay(ctx context.Context, therapistID uuid.UUID, at time.Time) {
	if s.cache == nil {
		return
	}
	day := dayStart(at, s.loc).Format(time.DateOnly)
	if err := s.cache.InvalidateDay(ctx, therapistID, day); err != nil {
		s.logger.Warn("slot cache invalidation failed", "therapist_id", therapistID, "day", day, "error", err)
	}
}

func (s *Service) emit(ctx context.Context, eventType string, sess *Session, actorID uuid.UUID, reason string, previous *uuid.UUID) {
	if s.events == nil || sess == nil {
		return
	}
	payload := SessionEvent{
		SessionID:         sess.ID,
		PatientID:         sess.PatientID,
		TherapistID:       sess.TherapistID,
		ActorID:           actorID,
		Status:            sess.Status,
		ScheduledAt:       sess.ScheduledAt,
		DurationMinutes:   sess.DurationMinutes,
		Reason:            reason,
		PreviousSessionID: previous,
	}
	if sess.RoomURL != nil {
		payload.RoomURL = *sess.RoomURL
	}
	if _, err := s.events.Insert(ctx, sess.OrgID, eventType, payload); err != nil {
		s.logger.Error("failed to enqueue session event", "type", eventType, "session_id", sess.ID, "error", err)
	}
}

func (s *Service) audit(ctx context.Context, sess *Session, actor tenancy.Actor, action string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.RecordNoteAccess(ctx, sess.OrgID, sess.ID, actor.UserID, action); err != nil {
		s.logger.Error("failed to record note access", "session_id", sess.ID, "action", action, "error", err)
	}
}

var businessErrors = []error{
	ErrNotFound, ErrUnauthorized, ErrInvalidInput, ErrTherapistUnavailable, ErrSlotTaken,
	ErrInvalidTransition, ErrJoinTooEarly, ErrJoinTooLate, ErrCancellationWindow, ErrPaymentNotVerified,
	ErrPaymentAlreadyUsed,
}

func isBusinessError(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
