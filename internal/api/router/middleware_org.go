package router

import (
	"net/http"
	"strings"

	httpmiddleware "github.com/wolfman30/teletherapy-platform/internal/http/middleware"
	"github.com/wolfman30/teletherapy-platform/internal/http/respond"
	"github.com/wolfman30/teletherapy-platform/internal/tenancy"
)

const orgHeader = "X-Org-Id"

// scopeOrg lets an admin without a token org act inside the org named by
// X-Org-Id. Everyone else must either omit the header or repeat their own org.
func scopeOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := strings.TrimSpace(r.Header.Get(orgHeader))
		if orgID == "" {
			next.ServeHTTP(w, r)
			return
		}
		actor, ok := tenancy.ActorFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		switch {
		case actor.OrgID == orgID:
		case actor.IsAdmin() && actor.OrgID == "":
			actor.OrgID = orgID
			httpmiddleware.RecordActor(r.Context(), actor)
			r = r.WithContext(tenancy.WithActor(r.Context(), actor))
		default:
			respond.Error(w, http.StatusForbidden, "org scope mismatch")
			return
		}
		next.ServeHTTP(w, r)
	})
}
