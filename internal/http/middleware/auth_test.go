package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/teletherapy-platform/internal/tenancy"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims(userID uuid.UUID, role string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    "teletherapy",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
		Role:  role,
		OrgID: "org-1",
	}
}

func serveAuth(t *testing.T, mw func(http.Handler) http.Handler, header string) (*httptest.ResponseRecorder, *tenancy.Actor) {
	t.Helper()
	var seen *tenancy.Actor
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, ok := tenancy.ActorFromContext(r.Context()); ok {
			seen = &actor
		}
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/mine", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestAuthValidToken(t *testing.T) {
	userID := uuid.New()
	rec, actor := serveAuth(t, Auth("secret", "teletherapy"), "Bearer "+signToken(t, "secret", validClaims(userID, "Therapist")))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if actor == nil || actor.UserID != userID || actor.Role != tenancy.RoleTherapist || actor.OrgID != "org-1" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestAuthRejects(t *testing.T) {
	userID := uuid.New()
	expired := validClaims(userID, "patient")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := validClaims(userID, "patient")
	noExpiry.ExpiresAt = nil
	badSubject := validClaims(userID, "patient")
	badSubject.Subject = "not-a-uuid"
	wrongIssuer := validClaims(userID, "patient")
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name   string
		secret string
		header string
	}{
		{"auth disabled", "", "Bearer x"},
		{"missing header", "secret", ""},
		{"wrong scheme", "secret", "Basic abc"},
		{"wrong secret", "secret", "Bearer " + signToken(t, "other", validClaims(userID, "patient"))},
		{"expired", "secret", "Bearer " + signToken(t, "secret", expired)},
		{"no expiry", "secret", "Bearer " + signToken(t, "secret", noExpiry)},
		{"bad subject", "secret", "Bearer " + signToken(t, "secret", badSubject)},
		{"unknown role", "secret", "Bearer " + signToken(t, "secret", validClaims(userID, "superuser"))},
		{"wrong issuer", "secret", "Bearer " + signToken(t, "secret", wrongIssuer)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, actor := serveAuth(t, Auth(tt.secret, "teletherapy"), tt.header)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if actor != nil {
				t.Fatalf("handler should not run")
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	mw := RequireRole(tenancy.RoleAdmin)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	cases := []struct {
		actor *tenancy.Actor
		want  int
	}{
		{nil, http.StatusUnauthorized},
		{&tenancy.Actor{UserID: uuid.New(), Role: tenancy.RolePatient}, http.StatusForbidden},
		{&tenancy.Actor{UserID: uuid.New(), Role: tenancy.RoleAdmin}, http.StatusOK},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if c.actor != nil {
			req = req.WithContext(tenancy.WithActor(req.Context(), *c.actor))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != c.want {
			t.Fatalf("actor %+v: expected %d, got %d", c.actor, c.want, rec.Code)
		}
	}
}
