package sessions

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks where a session is in its lifecycle.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled, StatusRescheduled:
		return true
	}
	return false
}

// Blocking reports whether a session in this status occupies the therapist's calendar.
func (s Status) Blocking() bool {
	return s == StatusScheduled || s == StatusInProgress || s == StatusCompleted
}

// SessionType is the delivery mode of a session.
type SessionType string

const (
	TypeVideo    SessionType = "video"
	TypeAudio    SessionType = "audio"
	TypeChat     SessionType = "chat"
	TypeInPerson SessionType = "in_person"
)

func (t SessionType) Valid() bool {
	switch t {
	case TypeVideo, TypeAudio, TypeChat, TypeInPerson:
		return true
	}
	return false
}

// Session is one scheduled therapy appointment.
type Session struct {
	ID                 uuid.UUID   `json:"id"`
	OrgID              string      `json:"org_id,omitempty"`
	PatientID          uuid.UUID   `json:"patient_id"`
	TherapistID        uuid.UUID   `json:"therapist_id"`
	ScheduledAt        time.Time   `json:"scheduled_at"`
	DurationMinutes    int         `json:"duration_minutes"`
	SessionType        SessionType `json:"session_type"`
	Status             Status      `json:"status"`
	AmountPaid         int64       `json:"amount_paid"`
	Currency           string      `json:"currency"`
	PaymentReference   *string     `json:"payment_reference,omitempty"`
	Summary            *string     `json:"summary,omitempty"`
	Notes              *string     `json:"notes,omitempty"`
	RescheduleReason   *string     `json:"reschedule_reason,omitempty"`
	CancellationReason *string     `json:"cancellation_reason,omitempty"`
	RescheduledFrom    *uuid.UUID  `json:"rescheduled_from,omitempty"`
	RoomURL            *string     `json:"room_url,omitempty"`
	StartedAt          *time.Time  `json:"started_at,omitempty"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	CancelledAt        *time.Time  `json:"cancelled_at,omitempty"`
	ReminderSentAt     *time.Time  `json:"reminder_sent_at,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// EndsAt is the scheduled end of the session.
func (s *Session) EndsAt() time.Time {
	return s.ScheduledAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// Interval is the time range the session occupies.
func (s *Session) Interval() Interval {
	return Interval{Start: s.ScheduledAt, End: s.EndsAt()}
}

// IsParticipant reports whether userID is the patient or therapist of the session.
func (s *Session) IsParticipant(userID uuid.UUID) bool {
	return userID != uuid.Nil && (userID == s.PatientID || userID == s.TherapistID)
}

// SessionDetails is a session with human-readable participant info attached.
type SessionDetails struct {
	Session
	PatientName    string          `json:"patient_name"`
	PatientEmail   string          `json:"patient_email,omitempty"`
	TherapistName  string          `json:"therapist_name"`
	TherapistEmail string          `json:"therapist_email,omitempty"`
	SessionNotes   []SessionNote   `json:"session_notes,omitempty"`
	Changes        []SessionChange `json:"changes,omitempty"`
}

// AvailabilitySlot is a recurring weekly window in which a therapist accepts bookings.
// StartTime and EndTime are wall-clock "HH:MM" values in the schedule timezone.
type AvailabilitySlot struct {
	ID          uuid.UUID    `json:"id"`
	TherapistID uuid.UUID    `json:"therapist_id"`
	DayOfWeek   time.Weekday `json:"day_of_week"`
	StartTime   string       `json:"start_time"`
	EndTime     string       `json:"end_time"`
	IsAvailable bool         `json:"is_available"`
}

// ChangeKind labels an audit row.
type ChangeKind string

const (
	ChangeReschedule   ChangeKind = "reschedule"
	ChangeCancellation ChangeKind = "cancellation"
	ChangeCompletion   ChangeKind = "completion"
)

// SessionChange is an append-only record of who changed a session and why.
type SessionChange struct {
	ID                  uuid.UUID  `json:"id"`
	SessionID           uuid.UUID  `json:"session_id"`
	Kind                ChangeKind `json:"kind"`
	ChangedBy           uuid.UUID  `json:"changed_by"`
	Reason              string     `json:"reason,omitempty"`
	PreviousScheduledAt *time.Time `json:"previous_scheduled_at,omitempty"`
	NewScheduledAt      *time.Time `json:"new_scheduled_at,omitempty"`
	NewSessionID        *uuid.UUID `json:"new_session_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// NoteType distinguishes free-form notes from structured SOAP notes.
type NoteType string

const (
	NoteGeneral NoteType = "general"
	NoteSOAP    NoteType = "soap"
)

// SessionNote is a note attached to a session.
type SessionNote struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	AuthorID  uuid.UUID `json:"author_id"`
	NoteType  NoteType  `json:"note_type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TimeSlot is a bookable slot returned by GetAvailableSlots.
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// BookSessionInput carries everything needed to book a session.
type BookSessionInput struct {
	OrgID            string
	PatientID        uuid.UUID
	TherapistID      uuid.UUID
	ScheduledAt      time.Time
	DurationMinutes  int
	SessionType      SessionType
	AmountPaid       int64
	Currency         string
	PaymentReference string
	Notes            string
}

// ListFilter narrows session listings.
type ListFilter struct {
	OrgID         string
	PatientID     *uuid.UUID
	TherapistID   *uuid.UUID
	ParticipantID *uuid.UUID
	Statuses      []Status
	From          *time.Time
	To            *time.Time
	Ascending     bool
	Limit         int
	Offset        int
}

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// StatusUpdate describes a guarded status transition. Nil fields are left untouched.
type StatusUpdate struct {
	To                 Status
	At                 time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	Summary            *string
	RoomURL            *string
	RescheduleReason   *string
	CancellationReason *string
}

// VerifiedPayment is a payment confirmed by the payment provider.
type VerifiedPayment struct {
	Reference string
	Amount    int64
	Currency  string
}
