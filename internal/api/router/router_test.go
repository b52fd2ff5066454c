package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/teletherapy-platform/internal/compliance"
	httpmiddleware "github.com/wolfman30/teletherapy-platform/internal/http/middleware"
	"github.com/wolfman30/teletherapy-platform/internal/sessions"
	"github.com/wolfman30/teletherapy-platform/internal/tenancy"
	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

const testSecret = "router-secret"

func newTestRouter(t *testing.T, mutate func(*Config)) http.Handler {
	t.Helper()

	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	logger := logging.Discard()
	svc := sessions.NewService(sessions.NewPostgresStore(pool), logger)
	cfg := &Config{
		Logger:          logger,
		SessionsHandler: sessions.NewHandler(svc, logger),
		JWTSecret:       testSecret,
		JWTIssuer:       "teletherapy",
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg)
}

func bearer(t *testing.T, role tenancy.Role, orgID string) string {
	t.Helper()
	claims := httpmiddleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    "teletherapy",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:  string(role),
		OrgID: orgID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func serve(h http.Handler, method, path, auth string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(""))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := serve(router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRouterHealthReportsUnavailableStore(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.HealthCheck = func(context.Context) error { return errors.New("db down") }
	})

	rr := serve(router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouterMetricsIsPublic(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("teletherapy_sessions_booked_total 1\n"))
		})
	})

	rr := serve(router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "teletherapy_sessions_booked_total")
}

func TestRouterV1RequiresToken(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := serve(router, http.MethodGet, "/v1/sessions/mine", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouterV1ReachesSessionsHandler(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := serve(router, http.MethodGet, "/v1/sessions/not-a-uuid", bearer(t, tenancy.RolePatient, "org-1"), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouterRejectsForeignOrgHeader(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := serve(router, http.MethodGet, "/v1/sessions/not-a-uuid", bearer(t, tenancy.RoleTherapist, "org-1"),
		map[string]string{orgHeader: "org-2"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = serve(router, http.MethodGet, "/v1/sessions/not-a-uuid", bearer(t, tenancy.RoleTherapist, "org-1"),
		map[string]string{orgHeader: "org-1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouterBookingRateLimited(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.BookingRateLimit = httpmiddleware.NewRateLimiter(0.001, 1)
	})
	token := bearer(t, tenancy.RolePatient, "org-1")

	first := serve(router, http.MethodPost, "/v1/sessions", token, nil)
	assert.Equal(t, http.StatusBadRequest, first.Code)

	second := serve(router, http.MethodPost, "/v1/sessions", token, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	other := serve(router, http.MethodGet, "/v1/sessions/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, other.Code)
}

func TestScopeOrgAdminAdoptsHeader(t *testing.T) {
	var seen tenancy.Actor
	h := scopeOrg(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = tenancy.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(orgHeader, "org-9")
	req = req.WithContext(tenancy.WithActor(req.Context(), tenancy.Actor{UserID: uuid.New(), Role: tenancy.RoleAdmin}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "org-9", seen.OrgID)
}

func TestRouterAuditRouteRequiresAdmin(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	router := newTestRouter(t, func(cfg *Config) {
		cfg.ComplianceHandler = compliance.NewHandler(compliance.NewAuditService(db), logging.Discard())
	})

	path := "/v1/sessions/" + uuid.NewString() + "/audit"
	rr := serve(router, http.MethodGet, path, bearer(t, tenancy.RoleTherapist, ""), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "role not permitted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRouterLogsAuthenticatedActor(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithOptions(logging.Options{Level: "info", Output: &buf})
	router := newTestRouter(t, func(cfg *Config) { cfg.Logger = logger })

	rr := serve(router, http.MethodGet, "/v1/sessions/not-a-uuid", bearer(t, tenancy.RoleAdmin, ""), map[string]string{orgHeader: "org-7"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	assert.Equal(t, "admin", entry["role"])
	assert.Equal(t, "org-7", entry["org_id"])
	assert.NotEmpty(t, entry["user_id"])
}
