package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/teletherapy-platform/internal/http/respond"
	"github.com/wolfman30/teletherapy-platform/internal/tenancy"
)

// Claims is the bearer token payload: sub is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	OrgID string `json:"org_id,omitempty"`
}

// Auth validates an HMAC-signed bearer JWT and stores the caller as a
// tenancy.Actor on the request context. issuer is checked when non-empty.
func Auth(secret, issuer string) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithExpirationRequired()}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				respond.Error(w, http.StatusUnauthorized, "auth disabled")
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				respond.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			var claims Claims
			token, err := parser.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &claims, func(*jwt.Token) (any, error) {
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				respond.Error(w, http.StatusUnauthorized, "invalid token")
				return
			}

			actor, ok := actorFromClaims(claims)
			if !ok {
				respond.Error(w, http.StatusUnauthorized, "invalid token claims")
				return
			}
			RecordActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(tenancy.WithActor(r.Context(), actor)))
		})
	}
}

func actorFromClaims(c Claims) (tenancy.Actor, bool) {
	userID, err := uuid.Parse(c.Subject)
	if err != nil || userID == uuid.Nil {
		return tenancy.Actor{}, false
	}
	role := tenancy.Role(strings.ToLower(strings.TrimSpace(c.Role)))
	switch role {
	case tenancy.RolePatient, tenancy.RoleTherapist, tenancy.RoleAdmin, tenancy.RolePartner:
	default:
		return tenancy.Actor{}, false
	}
	return tenancy.Actor{UserID: userID, Role: role, OrgID: c.OrgID}, true
}

// RequireRole rejects authenticated callers whose role is not listed.
func RequireRole(roles ...tenancy.Role) func(http.Handler) http.Handler {
	allowed := make(map[tenancy.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := tenancy.ActorFromContext(r.Context())
			if !ok {
				respond.Error(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if _, ok := allowed[actor.Role]; !ok {
				respond.Error(w, http.StatusForbidden, "role not permitted")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
