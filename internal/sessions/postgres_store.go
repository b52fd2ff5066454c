package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing. *pgxpool.Pool and pgx.Tx satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore persists sessions, availability, notes and change history.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a store backed by a pgx pool or transaction.
func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("sessions: pgx db required")
	}
	return &PostgresStore{db: db}
}

const sessionColumns = `id, org_id, patient_id, therapist_id, scheduled_at, duration_minutes, session_type, status,
	amount_paid, currency, payment_reference, summary, notes, reschedule_reason, cancellation_reason,
	rescheduled_from, room_url, started_at, completed_at, cancelled_at, reminder_sent_at, created_at, updated_at`

// blockingStatuses must stay in sync with Status.Blocking.
const blockingStatusSQL = `status IN ('scheduled', 'in_progress', 'completed')`

type rowScanner interface {
	Scan(dest ...any) error
}

func prefixedColumns(alias string) string {
	cols := strings.Split(sessionColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// WithTherapistLock opens a transaction and takes a transaction-scoped advisory
// lock keyed on the therapist id.
func (s *PostgresStore) WithTherapistLock(ctx context.Context, therapistID uuid.UUID, fn func(tx Repository) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sessions: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, therapistID.String()); err != nil {
		return fmt.Errorf("sessions: therapist lock: %w", err)
	}

	if err := fn(&PostgresStore{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sessions: commit: %w", err)
	}
	return nil
}

// InsertSession writes a new session row. ID and timestamps are filled when unset.
func (s *PostgresStore) InsertSession(ctx context.Context, sess *Session) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = sess.CreatedAt

	_, err := s.db.Exec(ctx, `
		INSERT INTO sessions (id, org_id, patient_id, therapist_id, scheduled_at, duration_minutes, session_type, status,
			amount_paid, currency, payment_reference, notes, rescheduled_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sess.ID, sess.OrgID, sess.PatientID, sess.TherapistID, sess.ScheduledAt.UTC(), sess.DurationMinutes,
		string(sess.SessionType), string(sess.Status), sess.AmountPaid, sess.Currency, sess.PaymentReference,
		sess.Notes, sess.RescheduledFrom, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, paymentReferenceIndex) {
			return ErrPaymentAlreadyUsed
		}
		return fmt.Errorf("sessions: insert session: %w", err)
	}
	return nil
}

// paymentReferenceIndex only covers rows that are not rescheduled, so a
// reschedule can carry the reference to the replacement session.
const paymentReferenceIndex = "idx_sessions_payment_reference"

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

// GetSession loads a session by id.
func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessions: get session: %w", err)
	}
	return sess, nil
}

// GetSessionDetails loads a session with participant names and emails.
func (s *PostgresStore) GetSessionDetails(ctx context.Context, id uuid.UUID) (*SessionDetails, error) {
	query := `
		SELECT ` + prefixedColumns("s") + `,
			COALESCE(p.full_name, ''), COALESCE(p.email, ''),
			COALESCE(t.full_name, ''), COALESCE(t.email, '')
		FROM sessions s
		LEFT JOIN profiles p ON p.id = s.patient_id
		LEFT JOIN profiles t ON t.id = s.therapist_id
		WHERE s.id = $1`

	var details SessionDetails
	dest := append(sessionDest(&details.Session, new(string), new(string)),
		&details.PatientName, &details.PatientEmail, &details.TherapistName, &details.TherapistEmail)
	if err := s.db.QueryRow(ctx, query, id).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessions: get details: %w", err)
	}
	if err := finishScan(&details.Session, dest); err != nil {
		return nil, err
	}
	return &details, nil
}

// ListSessions returns sessions matching filter ordered by scheduled time.
func (s *PostgresStore) ListSessions(ctx context.Context, filter ListFilter) ([]Session, error) {
	filter = filter.normalized()

	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.OrgID != "" {
		add("org_id = $%d", filter.OrgID)
	}
	if filter.PatientID != nil {
		add("patient_id = $%d", *filter.PatientID)
	}
	if filter.TherapistID != nil {
		add("therapist_id = $%d", *filter.TherapistID)
	}
	if filter.ParticipantID != nil {
		args = append(args, *filter.ParticipantID)
		n := len(args)
		where = append(where, fmt.Sprintf("(patient_id = $%d OR therapist_id = $%d)", n, n))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}
	if filter.From != nil {
		add("scheduled_at >= $%d", filter.From.UTC())
	}
	if filter.To != nil {
		add("scheduled_at < $%d", filter.To.UTC())
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + sessionColumns + ` FROM sessions`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if filter.Ascending {
		b.WriteString(" ORDER BY scheduled_at ASC")
	} else {
		b.WriteString(" ORDER BY scheduled_at DESC")
	}
	args = append(args, filter.Limit, filter.Offset)
	fmt.Fprintf(&b, " LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sessions: list: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("sessions: scan list: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// HasConflict uses a true interval-overlap predicate against calendar-blocking sessions.
func (s *PostgresStore) HasConflict(ctx context.Context, therapistID uuid.UUID, iv Interval, excludeID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM sessions
			WHERE therapist_id = $1
			  AND id <> $4
			  AND ` + blockingStatusSQL + `
			  AND scheduled_at < $3
			  AND scheduled_at + (duration_minutes * INTERVAL '1 minute') > $2
		)`
	var conflict bool
	if err := s.db.QueryRow(ctx, query, therapistID, iv.Start.UTC(), iv.End.UTC(), excludeID).Scan(&conflict); err != nil {
		return false, fmt.Errorf("sessions: conflict check: %w", err)
	}
	return conflict, nil
}

// BookedIntervals returns the occupied intervals of a therapist overlapping iv.
func (s *PostgresStore) BookedIntervals(ctx context.Context, therapistID uuid.UUID, iv Interval) ([]Interval, error) {
	rows, err := s.db.Query(ctx, `
		SELECT scheduled_at, duration_minutes
		FROM sessions
		WHERE therapist_id = $1
		  AND `+blockingStatusSQL+`
		  AND scheduled_at < $3
		  AND scheduled_at + (duration_minutes * INTERVAL '1 minute') > $2
		ORDER BY scheduled_at ASC`, therapistID, iv.Start.UTC(), iv.End.UTC())
	if err != nil {
		return nil, fmt.Errorf("sessions: booked intervals: %w", err)
	}
	defer rows.Close()

	var out []Interval
	for rows.Next() {
		var start time.Time
		var minutes int
		if err := rows.Scan(&start, &minutes); err != nil {
			return nil, fmt.Errorf("sessions: scan booked interval: %w", err)
		}
		out = append(out, Interval{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)})
	}
	return out, rows.Err()
}

// TransitionStatus performs a compare-and-set on the status column.
func (s *PostgresStore) TransitionStatus(ctx context.Context, id uuid.UUID, allowed []Status, update StatusUpdate) (*Session, error) {
	from := make([]string, len(allowed))
	for i, st := range allowed {
		from[i] = string(st)
	}
	at := update.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	row := s.db.QueryRow(ctx, `
		UPDATE sessions SET
			status = $2,
			started_at = COALESCE(started_at, $3),
			completed_at = COALESCE($4, completed_at),
			cancelled_at = COALESCE($5, cancelled_at),
			summary = COALESCE($6, summary),
			room_url = COALESCE($7, room_url),
			reschedule_reason = COALESCE($8, reschedule_reason),
			cancellation_reason = COALESCE($9, cancellation_reason),
			updated_at = $10
		WHERE id = $1 AND status = ANY($11)
		RETURNING `+sessionColumns,
		id, string(update.To), update.StartedAt, update.CompletedAt, update.CancelledAt,
		update.Summary, update.RoomURL, update.RescheduleReason, update.CancellationReason,
		at, from,
	)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("sessions: transition to %s: %w", update.To, err)
	}
	return sess, nil
}

// InsertChange appends an audit row.
func (s *PostgresStore) InsertChange(ctx context.Context, c *SessionChange) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO session_changes (id, session_id, kind, changed_by, reason, previous_scheduled_at, new_scheduled_at, new_session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.SessionID, string(c.Kind), c.ChangedBy, c.Reason, c.PreviousScheduledAt, c.NewScheduledAt, c.NewSessionID, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sessions: insert change: %w", err)
	}
	return nil
}

// ListChanges returns the change history of a session, oldest first.
func (s *PostgresStore) ListChanges(ctx context.Context, sessionID uuid.UUID) ([]SessionChange, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, kind, changed_by, reason, previous_scheduled_at, new_scheduled_at, new_session_id, created_at
		FROM session_changes
		WHERE session_id = $1
		ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessions: list changes: %w", err)
	}
	defer rows.Close()

	var out []SessionChange
	for rows.Next() {
		var c SessionChange
		var kind string
		if err := rows.Scan(&c.ID, &c.SessionID, &kind, &c.ChangedBy, &c.Reason,
			&c.PreviousScheduledAt, &c.NewScheduledAt, &c.NewSessionID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("sessions: scan change: %w", err)
		}
		c.Kind = ChangeKind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertNote appends a note to a session.
func (s *PostgresStore) InsertNote(ctx context.Context, n *SessionNote) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO session_notes (id, session_id, author_id, note_type, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.SessionID, n.AuthorID, string(n.NoteType), n.Content, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sessions: insert note: %w", err)
	}
	return nil
}

// ListNotes returns a session's notes, oldest first.
func (s *PostgresStore) ListNotes(ctx context.Context, sessionID uuid.UUID) ([]SessionNote, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, author_id, note_type, content, created_at
		FROM session_notes
		WHERE session_id = $1
		ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessions: list notes: %w", err)
	}
	defer rows.Close()

	var out []SessionNote
	for rows.Next() {
		var n SessionNote
		var noteType string
		if err := rows.Scan(&n.ID, &n.SessionID, &n.AuthorID, &noteType, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("sessions: scan note: %w", err)
		}
		n.NoteType = NoteType(noteType)
		out = append(out, n)
	}
	return out, rows.Err()
}

// WeeklyAvailability returns every configured window of a therapist.
func (s *PostgresStore) WeeklyAvailability(ctx context.Context, therapistID uuid.UUID) ([]AvailabilitySlot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, therapist_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), is_available
		FROM therapist_availability
		WHERE therapist_id = $1
		ORDER BY day_of_week, start_time`, therapistID)
	if err != nil {
		return nil, fmt.Errorf("sessions: weekly availability: %w", err)
	}
	defer rows.Close()

	var out []AvailabilitySlot
	for rows.Next() {
		var a AvailabilitySlot
		var day int
		if err := rows.Scan(&a.ID, &a.TherapistID, &day, &a.StartTime, &a.EndTime, &a.IsAvailable); err != nil {
			return nil, fmt.Errorf("sessions: scan availability: %w", err)
		}
		a.DayOfWeek = time.Weekday(day)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ReplaceWeeklyAvailability swaps a therapist's windows atomically.
func (s *PostgresStore) ReplaceWeeklyAvailability(ctx context.Context, therapistID uuid.UUID, slots []AvailabilitySlot) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sessions: begin availability tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM therapist_availability WHERE therapist_id = $1`, therapistID); err != nil {
		return fmt.Errorf("sessions: clear availability: %w", err)
	}
	for i := range slots {
		a := &slots[i]
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.TherapistID = therapistID
		if _, err := tx.Exec(ctx, `
			INSERT INTO therapist_availability (id, therapist_id, day_of_week, start_time, end_time, is_available)
			VALUES ($1, $2, $3, $4::time, $5::time, $6)`,
			a.ID, therapistID, int(a.DayOfWeek), a.StartTime, a.EndTime, a.IsAvailable,
		); err != nil {
			return fmt.Errorf("sessions: insert availability: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sessions: commit availability: %w", err)
	}
	return nil
}

// sessionDest builds scan destinations for sessionColumns. status and sessionType
// receive the raw strings; finishScan copies them onto sess.
func sessionDest(sess *Session, status, sessionType *string) []any {
	return []any{
		&sess.ID, &sess.OrgID, &sess.PatientID, &sess.TherapistID, &sess.ScheduledAt, &sess.DurationMinutes,
		sessionType, status, &sess.AmountPaid, &sess.Currency, &sess.PaymentReference, &sess.Summary,
		&sess.Notes, &sess.RescheduleReason, &sess.CancellationReason, &sess.RescheduledFrom, &sess.RoomURL,
		&sess.StartedAt, &sess.CompletedAt, &sess.CancelledAt, &sess.ReminderSentAt, &sess.CreatedAt, &sess.UpdatedAt,
	}
}

func finishScan(sess *Session, dest []any) error {
	sessionType, ok1 := dest[6].(*string)
	status, ok2 := dest[7].(*string)
	if !ok1 || !ok2 {
		return errors.New("sessions: unexpected scan destinations")
	}
	sess.SessionType = SessionType(*sessionType)
	sess.Status = Status(*status)
	return nil
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	dest := sessionDest(&sess, new(string), new(string))
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if err := finishScan(&sess, dest); err != nil {
		return nil, err
	}
	return &sess, nil
}
