package sessions

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// memoryRepo is an in-memory Repository used by service and handler tests.
type memoryRepo struct {
	mu       sync.Mutex
	lock     sync.Mutex
	sessions map[uuid.UUID]Session
	weekly   map[uuid.UUID][]AvailabilitySlot
	changes  []SessionChange
	notes    []SessionNote

	failConflict error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		sessions: map[uuid.UUID]Session{},
		weekly:   map[uuid.UUID][]AvailabilitySlot{},
	}
}

func (m *memoryRepo) WithTherapistLock(_ context.Context, _ uuid.UUID, fn func(tx Repository) error) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	return fn(m)
}

// InsertSession enforces the same uniqueness as idx_sessions_payment_reference:
// a reference may back at most one row that is not rescheduled.
func (m *memoryRepo) InsertSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.PaymentReference != nil && s.Status != StatusRescheduled {
		for _, existing := range m.sessions {
			if existing.PaymentReference != nil && *existing.PaymentReference == *s.PaymentReference &&
				existing.Status != StatusRescheduled {
				return ErrPaymentAlreadyUsed
			}
		}
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *memoryRepo) GetSession(_ context.Context, id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *memoryRepo) GetSessionDetails(ctx context.Context, id uuid.UUID) (*SessionDetails, error) {
	s, err := m.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SessionDetails{Session: *s, PatientName: "Pat", TherapistName: "Dr. T"}, nil
}

func (m *memoryRepo) ListSessions(_ context.Context, f ListFilter) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f = f.normalized()
	var out []Session
	for _, s := range m.sessions {
		if f.ParticipantID != nil && !s.IsParticipant(*f.ParticipantID) {
			continue
		}
		if f.OrgID != "" && s.OrgID != f.OrgID {
			continue
		}
		if f.TherapistID != nil && s.TherapistID != *f.TherapistID {
			continue
		}
		if f.PatientID != nil && s.PatientID != *f.PatientID {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, s.Status) {
			continue
		}
		if f.From != nil && s.ScheduledAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !s.ScheduledAt.Before(*f.To) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.Ascending {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ScheduledAt.After(out[j].ScheduledAt)
	})
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memoryRepo) HasConflict(_ context.Context, therapistID uuid.UUID, iv Interval, excludeID uuid.UUID) (bool, error) {
	if m.failConflict != nil {
		return false, m.failConflict
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.TherapistID == therapistID && s.ID != excludeID && s.Status.Blocking() && s.Interval().Overlaps(iv) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) BookedIntervals(_ context.Context, therapistID uuid.UUID, iv Interval) ([]Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Interval
	for _, s := range m.sessions {
		if s.TherapistID == therapistID && s.Status.Blocking() && s.Interval().Overlaps(iv) {
			out = append(out, s.Interval())
		}
	}
	return out, nil
}

func (m *memoryRepo) TransitionStatus(_ context.Context, id uuid.UUID, allowed []Status, u StatusUpdate) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !containsStatus(allowed, s.Status) {
		return nil, ErrInvalidTransition
	}
	s.Status = u.To
	if s.StartedAt == nil && u.StartedAt != nil {
		s.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		s.CompletedAt = u.CompletedAt
	}
	if u.CancelledAt != nil {
		s.CancelledAt = u.CancelledAt
	}
	if u.Summary != nil {
		s.Summary = u.Summary
	}
	if u.RoomURL != nil {
		s.RoomURL = u.RoomURL
	}
	if u.RescheduleReason != nil {
		s.RescheduleReason = u.RescheduleReason
	}
	if u.CancellationReason != nil {
		s.CancellationReason = u.CancellationReason
	}
	s.UpdatedAt = u.At
	m.sessions[id] = s
	return &s, nil
}

func (m *memoryRepo) InsertChange(_ context.Context, c *SessionChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, *c)
	return nil
}

func (m *memoryRepo) ListChanges(_ context.Context, sessionID uuid.UUID) ([]SessionChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SessionChange
	for _, c := range m.changes {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryRepo) InsertNote(_ context.Context, n *SessionNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, *n)
	return nil
}

func (m *memoryRepo) ListNotes(_ context.Context, sessionID uuid.UUID) ([]SessionNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SessionNote
	for _, n := range m.notes {
		if n.SessionID == sessionID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memoryRepo) WeeklyAvailability(_ context.Context, therapistID uuid.UUID) ([]AvailabilitySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AvailabilitySlot(nil), m.weekly[therapistID]...), nil
}

func (m *memoryRepo) ReplaceWeeklyAvailability(_ context.Context, therapistID uuid.UUID, slots []AvailabilitySlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weekly[therapistID] = append([]AvailabilitySlot(nil), slots...)
	return nil
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
