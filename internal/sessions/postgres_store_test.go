package sessions

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewPostgresStore(mock), mock
}

func sessionColumnNames() []string {
	cols := strings.Split(sessionColumns, ",")
	for i, c := range cols {
		cols[i] = strings.TrimSpace(c)
	}
	return cols
}

func sessionRowValues(s Session) []any {
	return []any{
		s.ID, s.OrgID, s.PatientID, s.TherapistID, s.ScheduledAt, s.DurationMinutes,
		string(s.SessionType), string(s.Status), s.AmountPaid, s.Currency, s.PaymentReference, s.Summary,
		s.Notes, s.RescheduleReason, s.CancellationReason, s.RescheduledFrom, s.RoomURL,
		s.StartedAt, s.CompletedAt, s.CancelledAt, s.ReminderSentAt, s.CreatedAt, s.UpdatedAt,
	}
}

func sampleSession() Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Session{
		ID:              uuid.New(),
		PatientID:       patientID,
		TherapistID:     therapistID,
		ScheduledAt:     mondayAt10,
		DurationMinutes: 60,
		SessionType:     TypeVideo,
		Status:          StatusScheduled,
		AmountPaid:      1500000,
		Currency:        "NGN",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestWithTherapistLockCommits(t *testing.T) {
	store, mock := newMockStore(t)
	sess := sampleSession()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(therapistID.String()).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("INSERT INTO sessions").WithArgs(anyArgs(15)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.WithTherapistLock(context.Background(), therapistID, func(tx Repository) error {
		return tx.InsertSession(context.Background(), &sess)
	})
	if err != nil {
		t.Fatalf("with lock: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithTherapistLockRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(therapistID.String()).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectRollback()

	err := store.WithTherapistLock(context.Background(), therapistID, func(Repository) error {
		return ErrSlotTaken
	})
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertSessionReusedPaymentReference(t *testing.T) {
	store, mock := newMockStore(t)
	sess := sampleSession()
	ref := "ps_123"
	sess.PaymentReference = &ref

	mock.ExpectExec("INSERT INTO sessions").WithArgs(anyArgs(15)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_sessions_payment_reference"})

	err := store.InsertSession(context.Background(), &sess)
	if !errors.Is(err, ErrPaymentAlreadyUsed) {
		t.Fatalf("expected ErrPaymentAlreadyUsed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertSessionOtherUniqueViolationIsWrapped(t *testing.T) {
	store, mock := newMockStore(t)
	sess := sampleSession()

	mock.ExpectExec("INSERT INTO sessions").WithArgs(anyArgs(15)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "sessions_pkey"})

	err := store.InsertSession(context.Background(), &sess)
	if err == nil || errors.Is(err, ErrPaymentAlreadyUsed) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestGetSessionScansRow(t *testing.T) {
	store, mock := newMockStore(t)
	want := sampleSession()
	ref := "ps_123"
	want.PaymentReference = &ref

	rows := pgxmock.NewRows(sessionColumnNames()).AddRow(sessionRowValues(want)...)
	mock.ExpectQuery("FROM sessions WHERE id").WithArgs(want.ID).WillReturnRows(rows)

	got, err := store.GetSession(context.Background(), want.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.ID != want.ID || got.Status != StatusScheduled || got.SessionType != TypeVideo {
		t.Fatalf("unexpected session: %#v", got)
	}
	if got.PaymentReference == nil || *got.PaymentReference != ref {
		t.Fatalf("expected payment reference %q, got %v", ref, got.PaymentReference)
	}
	if !got.ScheduledAt.Equal(mondayAt10) {
		t.Fatalf("expected scheduled_at %v, got %v", mondayAt10, got.ScheduledAt)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectQuery("FROM sessions WHERE id").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	if _, err := store.GetSession(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHasConflictUsesIntervalOverlap(t *testing.T) {
	store, mock := newMockStore(t)
	iv := Interval{Start: mondayAt10, End: mondayAt10.Add(time.Hour)}
	exclude := uuid.New()

	mock.ExpectQuery(`scheduled_at < \$3\s+AND scheduled_at \+ \(duration_minutes \* INTERVAL '1 minute'\) > \$2`).
		WithArgs(therapistID, iv.Start, iv.End, exclude).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	conflict, err := store.HasConflict(context.Background(), therapistID, iv, exclude)
	if err != nil {
		t.Fatalf("has conflict: %v", err)
	}
	if !conflict {
		t.Fatal("expected conflict")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestBookedIntervals(t *testing.T) {
	store, mock := newMockStore(t)
	day := dayInterval(mondayAt10, time.UTC)

	rows := pgxmock.NewRows([]string{"scheduled_at", "duration_minutes"}).
		AddRow(mondayAt10, 60).
		AddRow(mondayAt10.Add(3*time.Hour), 45)
	mock.ExpectQuery("SELECT scheduled_at, duration_minutes").WithArgs(therapistID, day.Start, day.End).WillReturnRows(rows)

	got, err := store.BookedIntervals(context.Background(), therapistID, day)
	if err != nil {
		t.Fatalf("booked intervals: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(got))
	}
	if want := mondayAt10.Add(3*time.Hour + 45*time.Minute); !got[1].End.Equal(want) {
		t.Fatalf("expected end %v, got %v", want, got[1].End)
	}
}

func TestTransitionStatusNoMatchIsInvalidTransition(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectQuery("UPDATE sessions SET").WithArgs(anyArgs(11)...).WillReturnError(pgx.ErrNoRows)

	_, err := store.TransitionStatus(context.Background(), id, []Status{StatusScheduled}, StatusUpdate{To: StatusCancelled})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionStatusReturnsUpdatedRow(t *testing.T) {
	store, mock := newMockStore(t)
	updated := sampleSession()
	updated.Status = StatusCancelled
	reason := "unwell"
	updated.CancellationReason = &reason
	at := mondayAt10.Add(-48 * time.Hour)
	updated.CancelledAt = &at

	mock.ExpectQuery(`WHERE id = \$1 AND status = ANY\(\$11\)`).
		WithArgs(updated.ID, "cancelled", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), at, []string{"scheduled"}).
		WillReturnRows(pgxmock.NewRows(sessionColumnNames()).AddRow(sessionRowValues(updated)...))

	got, err := store.TransitionStatus(context.Background(), updated.ID, []Status{StatusScheduled}, StatusUpdate{
		To:                 StatusCancelled,
		At:                 at,
		CancelledAt:        &at,
		CancellationReason: &reason,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.Status != StatusCancelled || got.CancellationReason == nil || *got.CancellationReason != reason {
		t.Fatalf("unexpected session after transition: %#v", got)
	}
}

func TestListSessionsParticipantFilter(t *testing.T) {
	store, mock := newMockStore(t)
	user := uuid.New()
	first := sampleSession()

	mock.ExpectQuery(`\(patient_id = \$1 OR therapist_id = \$1\) AND status = ANY\(\$2\) ORDER BY scheduled_at ASC LIMIT \$3 OFFSET \$4`).
		WithArgs(user, []string{"scheduled", "in_progress"}, 50, 0).
		WillReturnRows(pgxmock.NewRows(sessionColumnNames()).AddRow(sessionRowValues(first)...))

	got, err := store.ListSessions(context.Background(), ListFilter{
		ParticipantID: &user,
		Statuses:      []Status{StatusScheduled, StatusInProgress},
		Ascending:     true,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != first.ID {
		t.Fatalf("unexpected list: %#v", got)
	}
}

func TestListSessionsCapsLimit(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("ORDER BY scheduled_at DESC LIMIT").
		WithArgs(100, 0).
		WillReturnRows(pgxmock.NewRows(sessionColumnNames()))

	got, err := store.ListSessions(context.Background(), ListFilter{Limit: 1000})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no sessions, got %d", len(got))
	}
}

func TestWeeklyAvailability(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "therapist_id", "day_of_week", "start_time", "end_time", "is_available"}).
		AddRow(id, therapistID, 1, "09:00", "17:00", true)
	mock.ExpectQuery("FROM therapist_availability").WithArgs(therapistID).WillReturnRows(rows)

	got, err := store.WeeklyAvailability(context.Background(), therapistID)
	if err != nil {
		t.Fatalf("weekly availability: %v", err)
	}
	if len(got) != 1 || got[0].DayOfWeek != time.Monday || got[0].StartTime != "09:00" || !got[0].IsAvailable {
		t.Fatalf("unexpected availability: %#v", got)
	}
}

func TestReplaceWeeklyAvailability(t *testing.T) {
	store, mock := newMockStore(t)
	slots := []AvailabilitySlot{
		{DayOfWeek: time.Monday, StartTime: "09:00", EndTime: "12:00", IsAvailable: true},
		{DayOfWeek: time.Friday, StartTime: "13:00", EndTime: "18:00", IsAvailable: true},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM therapist_availability").WithArgs(therapistID).WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("INSERT INTO therapist_availability").
		WithArgs(pgxmock.AnyArg(), therapistID, 1, "09:00", "12:00", true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO therapist_availability").
		WithArgs(pgxmock.AnyArg(), therapistID, 5, "13:00", "18:00", true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	if err := store.ReplaceWeeklyAvailability(context.Background(), therapistID, slots); err != nil {
		t.Fatalf("replace availability: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	if slots[0].TherapistID != therapistID || slots[0].ID == uuid.Nil {
		t.Fatalf("expected ids to be filled in: %#v", slots[0])
	}
}

func TestInsertChangeAndNotes(t *testing.T) {
	store, mock := newMockStore(t)
	sessionID := uuid.New()

	mock.ExpectExec("INSERT INTO session_changes").WithArgs(anyArgs(9)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := store.InsertChange(context.Background(), &SessionChange{SessionID: sessionID, Kind: ChangeCancellation, ChangedBy: patientID}); err != nil {
		t.Fatalf("insert change: %v", err)
	}

	noteID := uuid.New()
	created := time.Date(2026, 3, 9, 11, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM session_notes").WithArgs(sessionID).WillReturnRows(
		pgxmock.NewRows([]string{"id", "session_id", "author_id", "note_type", "content", "created_at"}).
			AddRow(noteID, sessionID, therapistID, "soap", "S: ...", created))

	notes, err := store.ListNotes(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("list notes: %v", err)
	}
	if len(notes) != 1 || notes[0].NoteType != NoteSOAP {
		t.Fatalf("unexpected notes: %#v", notes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
