package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockAudit(t *testing.T) (*AuditService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAuditService(db), mock
}

func TestAuditService_RecordNoteAccess(t *testing.T) {
	tests := []struct {
		action string
		want   AuditEventType
	}{
		{"notes_read", EventNotesRead},
		{"note_added", EventNoteAdded},
		{"soap_draft", EventSOAPDrafted},
		{"Exported", AuditEventType("phi.exported")},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			service, mock := newMockAudit(t)
			sessionID, actorID := uuid.New(), uuid.New()

			mock.ExpectExec("INSERT INTO phi_access_events").
				WithArgs(sqlmock.AnyArg(), string(tt.want), "org-1", sessionID, actorID, []byte(`{}`), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))

			err := service.RecordNoteAccess(context.Background(), "org-1", sessionID, actorID, tt.action)
			assert.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAuditService_LogEventError(t *testing.T) {
	service, mock := newMockAudit(t)
	mock.ExpectExec("INSERT INTO phi_access_events").WillReturnError(errors.New("disk full"))

	err := service.LogEvent(context.Background(), AuditEvent{EventType: EventNotesRead})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestAuditService_LogSOAPDrafted(t *testing.T) {
	service, mock := newMockAudit(t)
	sessionID, actorID := uuid.New(), uuid.New()

	mock.ExpectExec("INSERT INTO phi_access_events").
		WithArgs(sqlmock.AnyArg(), string(EventSOAPDrafted), "org-1", sessionID, actorID,
			[]byte(`{"note_type":"soap","model":"gemini-2.5-flash","transcript_chars":1200}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, service.LogSOAPDrafted(context.Background(), "org-1", sessionID, actorID, "gemini-2.5-flash", 1200))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_QueryEvents(t *testing.T) {
	service, mock := newMockAudit(t)
	sessionID, actorID := uuid.New(), uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "event_type", "org_id", "session_id", "actor_id", "details", "created_at"}).
		AddRow(uuid.NewString(), string(EventNotesRead), "org-1", sessionID.String(), actorID.String(), []byte(`{}`), now)

	mock.ExpectQuery(`SELECT (.+) FROM phi_access_events WHERE org_id = \$1 AND session_id = \$2 AND event_type = ANY\(\$3\)`).
		WithArgs("org-1", sessionID, pq.Array([]string{string(EventNotesRead), string(EventNoteAdded)})).
		WillReturnRows(rows)

	events, err := service.QueryEvents(context.Background(), AuditFilter{
		OrgID:      "org-1",
		SessionID:  sessionID,
		EventTypes: []AuditEventType{EventNotesRead, EventNoteAdded},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventNotesRead, events[0].EventType)
	assert.Equal(t, sessionID, events[0].SessionID)
	assert.Equal(t, actorID, events[0].ActorID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisclaimerService_AddDisclaimer(t *testing.T) {
	service, mock := newMockAudit(t)
	svc := NewDisclaimerService(service, DisclaimerConfig{Level: DisclaimerShort, Enabled: true})
	sessionID := uuid.New()

	mock.ExpectExec("INSERT INTO phi_access_events").WillReturnResult(sqlmock.NewResult(1, 1))

	out, err := svc.AddDisclaimer(context.Background(), "  S: reports poor sleep  ", DisclaimerOptions{OrgID: "org-1", SessionID: sessionID})
	require.NoError(t, err)
	assert.Equal(t, "["+disclaimerShortText+"]\n\nS: reports poor sleep", out)

	again, err := svc.AddDisclaimer(context.Background(), out, DisclaimerOptions{})
	require.NoError(t, err)
	assert.Equal(t, out, again)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDisclaimerService_Disabled(t *testing.T) {
	svc := NewDisclaimerService(nil, DisclaimerConfig{})
	out, err := svc.AddDisclaimer(context.Background(), "note", DisclaimerOptions{})
	require.NoError(t, err)
	assert.Equal(t, "note", out)
	assert.Equal(t, disclaimerMediumText, NewDisclaimerService(nil, DefaultDisclaimerConfig()).Text())
}
