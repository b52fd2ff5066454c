package tenancy

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const actorKey ctxKey = "teletherapy.actor"

// Role is the platform role carried in the caller's token.
type Role string

const (
	RolePatient   Role = "patient"
	RoleTherapist Role = "therapist"
	RoleAdmin     Role = "admin"
	RolePartner   Role = "partner"
)

// Actor identifies the authenticated caller of a request.
type Actor struct {
	UserID uuid.UUID
	Role   Role
	OrgID  string
}

// IsAdmin reports whether the actor has platform-wide rights.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// AdministersOrg reports whether the actor is an admin whose rights reach orgID.
// An admin without an org in its token is platform-wide.
func (a Actor) AdministersOrg(orgID string) bool {
	return a.IsAdmin() && (a.OrgID == "" || a.OrgID == orgID)
}

// WithActor stores the authenticated actor in context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext extracts the authenticated actor if present.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok && actor.UserID != uuid.Nil
}
