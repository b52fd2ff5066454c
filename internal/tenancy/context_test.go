package tenancy

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestWithActorRoundTrip(t *testing.T) {
	actor := Actor{UserID: uuid.New(), Role: RoleTherapist, OrgID: "org-123"}
	ctx := WithActor(context.Background(), actor)

	got, ok := ActorFromContext(ctx)
	if !ok {
		t.Fatalf("expected actor to be present")
	}
	if got != actor {
		t.Fatalf("expected %+v, got %+v", actor, got)
	}
}

func TestWithActorReplacesEarlierActor(t *testing.T) {
	first := Actor{UserID: uuid.New(), Role: RoleAdmin}
	scoped := first
	scoped.OrgID = "org-9"
	ctx := WithActor(WithActor(context.Background(), first), scoped)

	got, ok := ActorFromContext(ctx)
	if !ok || got.OrgID != "org-9" {
		t.Fatalf("expected scoped actor, got %+v (ok=%v)", got, ok)
	}
}

func TestActorFromContextRejectsMissingOrNilUser(t *testing.T) {
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Fatalf("expected missing actor to return false")
	}

	ctx := WithActor(context.Background(), Actor{Role: RoleAdmin})
	if _, ok := ActorFromContext(ctx); ok {
		t.Fatalf("expected actor with nil user id to return false")
	}

	ctx = context.WithValue(context.Background(), actorKey, "admin")
	if _, ok := ActorFromContext(ctx); ok {
		t.Fatalf("expected non-actor value to return false")
	}
}

func TestActorRoles(t *testing.T) {
	tests := []struct {
		name    string
		actor   Actor
		orgID   string
		admin   bool
		reaches bool
	}{
		{name: "platform admin", actor: Actor{Role: RoleAdmin}, orgID: "org-b", admin: true, reaches: true},
		{name: "org admin own org", actor: Actor{Role: RoleAdmin, OrgID: "org-a"}, orgID: "org-a", admin: true, reaches: true},
		{name: "org admin foreign org", actor: Actor{Role: RoleAdmin, OrgID: "org-a"}, orgID: "org-b", admin: true, reaches: false},
		{name: "org admin unscoped session", actor: Actor{Role: RoleAdmin, OrgID: "org-a"}, orgID: "", admin: true, reaches: false},
		{name: "therapist", actor: Actor{Role: RoleTherapist}, orgID: "", admin: false, reaches: false},
		{name: "partner", actor: Actor{Role: RolePartner, OrgID: "org-a"}, orgID: "org-a", admin: false, reaches: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.actor.IsAdmin(); got != tt.admin {
				t.Fatalf("IsAdmin() = %v, want %v", got, tt.admin)
			}
			if got := tt.actor.AdministersOrg(tt.orgID); got != tt.reaches {
				t.Fatalf("AdministersOrg(%q) = %v, want %v", tt.orgID, got, tt.reaches)
			}
		})
	}
}
