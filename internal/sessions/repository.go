package sessions

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence boundary of the session service.
type Repository interface {
	// WithTherapistLock runs fn in a transaction that holds an exclusive,
	// therapist-scoped lock until commit. fn must use the Repository it is given.
	WithTherapistLock(ctx context.Context, therapistID uuid.UUID, fn func(tx Repository) error) error

	InsertSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	GetSessionDetails(ctx context.Context, id uuid.UUID) (*SessionDetails, error)
	ListSessions(ctx context.Context, filter ListFilter) ([]Session, error)

	// HasConflict reports whether a calendar-blocking session of the therapist
	// overlaps iv. excludeID (may be uuid.Nil) is ignored.
	HasConflict(ctx context.Context, therapistID uuid.UUID, iv Interval, excludeID uuid.UUID) (bool, error)
	// BookedIntervals lists calendar-blocking sessions of the therapist overlapping iv.
	BookedIntervals(ctx context.Context, therapistID uuid.UUID, iv Interval) ([]Interval, error)

	// TransitionStatus applies update only if the session's current status is in allowed.
	// It returns ErrInvalidTransition when no row matched.
	TransitionStatus(ctx context.Context, id uuid.UUID, allowed []Status, update StatusUpdate) (*Session, error)

	InsertChange(ctx context.Context, c *SessionChange) error
	ListChanges(ctx context.Context, sessionID uuid.UUID) ([]SessionChange, error)

	InsertNote(ctx context.Context, n *SessionNote) error
	ListNotes(ctx context.Context, sessionID uuid.UUID) ([]SessionNote, error)

	WeeklyAvailability(ctx context.Context, therapistID uuid.UUID) ([]AvailabilitySlot, error)
	ReplaceWeeklyAvailability(ctx context.Context, therapistID uuid.UUID, slots []AvailabilitySlot) error
}
