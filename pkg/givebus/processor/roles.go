package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/givebus/givebus/pkg/givebus/event"
)

// Role event types.
const (
	TypeRoleAssigned = "role.assigned"
	TypeRoleRevoked  = "role.revoked"
)

// roleLevels orders the platform roles. A higher level outranks a lower
// one. Unknown roles have level 0 and cannot be assigned or revoked.
var roleLevels = map[string]int{
	"donor":      10,
	"creator":    20,
	"moderator":  50,
	"admin":      80,
	"superadmin": 100,
}

// RoleLevel returns the hierarchy level of a role name, 0 if unknown.
func RoleLevel(role string) int { return roleLevels[role] }

// AuthorizationError reports a role change the actor was not allowed to
// make. It is a business rejection, not a transient failure, so it is
// not retried through the dead-letter queue.
type AuthorizationError struct {
	ActorID string
	Role    string
	Reason  string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s may not change role %q: %s", e.ActorID, e.Role, e.Reason)
}

// RoleAssignment applies role.assigned events, enforcing the hierarchy
// rule at write time: the actor's highest role level must be at least
// the target role's level, and actors cannot raise their own role above
// their current level.
type RoleAssignment struct {
	deps  Deps
	repo  RoleRepository
	audit AuditLog
}

var _ Processor = (*RoleAssignment)(nil)

func NewRoleAssignment(deps Deps, repo RoleRepository, audit AuditLog) *RoleAssignment {
	return &RoleAssignment{deps: deps, repo: repo, audit: audit}
}

func (p *RoleAssignment) Name() string { return "RoleAssignmentProcessor" }

func (p *RoleAssignment) EventTypes() []string { return []string{TypeRoleAssigned} }

func (p *RoleAssignment) Handle(ctx context.Context, evt *event.Event) error {
	return runIdempotent(ctx, p.deps, p.Name(), evt, func(ctx context.Context) error {
		change, err := roleChangeFromEvent(evt)
		if err != nil {
			return err
		}
		if err := authorizeRoleChange(ctx, p.repo, change); err != nil {
			return err
		}

		if err := p.repo.Insert(ctx, &RoleRecord{
			UserID:     change.targetID,
			Role:       change.role,
			AssignedBy: change.actorID,
			AssignedAt: evt.Timestamp,
		}); err != nil {
			return err
		}
		auditRoleChange(ctx, p.audit, p.deps.logger(), evt, change, "role.assign")
		return nil
	})
}

// RoleRevocation applies role.revoked events under the same hierarchy
// rule: revoking a role requires outranking it.
type RoleRevocation struct {
	deps  Deps
	repo  RoleRepository
	audit AuditLog
}

var _ Processor = (*RoleRevocation)(nil)

func NewRoleRevocation(deps Deps, repo RoleRepository, audit AuditLog) *RoleRevocation {
	return &RoleRevocation{deps: deps, repo: repo, audit: audit}
}

func (p *RoleRevocation) Name() string { return "RoleRevocationProcessor" }

func (p *RoleRevocation) EventTypes() []string { return []string{TypeRoleRevoked} }

func (p *RoleRevocation) Handle(ctx context.Context, evt *event.Event) error {
	return runIdempotent(ctx, p.deps, p.Name(), evt, func(ctx context.Context) error {
		change, err := roleChangeFromEvent(evt)
		if err != nil {
			return err
		}
		if err := authorizeRoleChange(ctx, p.repo, change); err != nil {
			return err
		}

		if err := p.repo.Delete(ctx, change.targetID, change.role); err != nil {
			return err
		}
		auditRoleChange(ctx, p.audit, p.deps.logger(), evt, change, "role.revoke")
		return nil
	})
}

type roleChange struct {
	actorID  string
	targetID string
	role     string
}

func roleChangeFromEvent(evt *event.Event) (roleChange, error) {
	actor, err := requireString(evt, "actorId")
	if err != nil {
		return roleChange{}, err
	}
	target, err := requireString(evt, "userId")
	if err != nil {
		return roleChange{}, err
	}
	role, err := requireString(evt, "role")
	if err != nil {
		return roleChange{}, err
	}
	return roleChange{actorID: actor, targetID: target, role: role}, nil
}

// authorizeRoleChange enforces the hierarchy invariant. The actor's
// highest held level must be >= the target role's level. Self-changes
// above the actor's own level are rejected regardless.
func authorizeRoleChange(ctx context.Context, repo RoleRepository, change roleChange) error {
	targetLevel := RoleLevel(change.role)
	if targetLevel == 0 {
		return &AuthorizationError{ActorID: change.actorID, Role: change.role, Reason: "unknown role"}
	}

	actorRoles, err := repo.RolesFor(ctx, change.actorID)
	if err != nil {
		return err
	}
	actorLevel := 0
	for _, r := range actorRoles {
		if l := RoleLevel(r); l > actorLevel {
			actorLevel = l
		}
	}

	if change.actorID == change.targetID && targetLevel > actorLevel {
		return &AuthorizationError{ActorID: change.actorID, Role: change.role, Reason: "self-elevation"}
	}
	if actorLevel < targetLevel {
		return &AuthorizationError{
			ActorID: change.actorID,
			Role:    change.role,
			Reason:  fmt.Sprintf("actor level %d is below role level %d", actorLevel, targetLevel),
		}
	}
	return nil
}

func auditRoleChange(ctx context.Context, audit AuditLog, logger *slog.Logger, evt *event.Event, change roleChange, action string) {
	if audit == nil {
		return
	}
	err := audit.Log(ctx, change.actorID, action, "user", change.targetID, map[string]string{
		"role":    change.role,
		"eventId": evt.ID,
	})
	if err != nil {
		logger.Warn("audit write failed",
			slog.String("action", action),
			slog.String("actor_id", change.actorID),
			slog.String("error", err.Error()),
		)
	}
}
