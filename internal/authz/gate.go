package authz

import (
	"github.com/kotobadb/core/internal/cidkit"
	"github.com/kotobadb/core/internal/dbconfig"
	"github.com/kotobadb/core/internal/kerr"
	"github.com/kotobadb/core/internal/obslog"
	"go.uber.org/zap"
)

// Principal identifies the caller of an externally initiated operation
// (§4.9): a user id, the legacy role set the fallback table consults,
// the capability set the primary decision consults, and free-form
// attributes the embedder has already resolved (§6 "Principal/resource
// port" — identity extraction itself is the embedder's job, not ours).
type Principal struct {
	UserID       string
	Roles        []string
	Capabilities CapabilitySet
	Attributes   cidkit.Map
}

// Resource is the target of the operation: a type, an optional scope
// id, the action requested, and attributes an ABAC-style legacy rule
// could consult.
type Resource struct {
	Type       string
	ID         *string
	Action     string
	Attributes cidkit.Map
}

// Permission is one entry of the legacy role/permission table.
type Permission struct {
	ResourceType string
	Action       string
}

// Gate is one engine's authorization decision point. Mode selects
// whether the legacy role table is ever consulted (dbconfig.AuthzMode);
// roles maps a role name to the permissions it grants.
type Gate struct {
	mode  dbconfig.AuthzMode
	roles map[string][]Permission
	log   *obslog.Logger
}

// NewGate builds a Gate. mode defaults to CapabilityThenRole (§4.9's own
// preference, per DESIGN.md Open Question 3) when left empty.
func NewGate(mode dbconfig.AuthzMode, base *obslog.Logger) *Gate {
	log := base
	if log == nil {
		log = obslog.Noop()
	}
	if mode == "" {
		mode = dbconfig.AuthzCapabilityThenRole
	}
	return &Gate{mode: mode, roles: map[string][]Permission{}, log: log}
}

// GrantRole registers perms as the legacy permission set for roleName.
// Registration itself is not a transaction at this layer (§6 defers
// that to whatever catalog a caller layers on top, the same way C7's
// Kernel.RegisterRule is in-memory-only per DESIGN.md's C7 notes).
func (g *Gate) GrantRole(roleName string, perms ...Permission) {
	g.roles[roleName] = append(append([]Permission(nil), g.roles[roleName]...), perms...)
}

// Decision is the outcome of a Check: Allowed plus which path produced
// it, for audit/diagnostic logging (never surfaced to the denied
// caller — §7 "report; do not leak details").
type Decision struct {
	Allowed bool
	Via     string // "capability", "role", or "" on deny
}

// Decide is capability-first: the principal's capability set is
// searched for one whose resource-type and action cover the request
// and whose scope pattern matches the resource id. On a miss, and only
// when mode permits it, the legacy role table is consulted; a role-table
// deny never overrides a capability allow (capabilities only ever rule
// in the capability branch; see DESIGN.md Open Question 3).
func (g *Gate) Decide(p Principal, r Resource) Decision {
	for _, c := range p.Capabilities {
		if c.covers(r.Type, r.Action, r.ID) {
			return Decision{Allowed: true, Via: "capability"}
		}
	}
	if g.mode != dbconfig.AuthzCapabilityThenRole {
		return Decision{}
	}
	for _, role := range p.Roles {
		for _, perm := range g.roles[role] {
			if perm.ResourceType == r.Type && perm.Action == r.Action {
				return Decision{Allowed: true, Via: "role"}
			}
		}
	}
	return Decision{}
}

// Check is Decide wrapped as the gate's enforcement point: it logs the
// decision and returns kerr.AuthorizationDenied on a deny, matching
// §7's "fatal to the request but not to the engine" propagation policy
// and never including the principal's capability contents in the error
// (only the resource being checked, which the caller already knows).
func (g *Gate) Check(p Principal, r Resource) error {
	d := g.Decide(p, r)
	g.log.Debug("authz decision",
		zap.String("user_id", p.UserID),
		zap.String("resource_type", r.Type),
		zap.String("action", r.Action),
		zap.Bool("allowed", d.Allowed),
		zap.String("via", d.Via),
	)
	if !d.Allowed {
		return kerr.AuthorizationDenied("principal lacks capability or role for this action").
			WithContext("resource_type", r.Type).
			WithContext("action", r.Action)
	}
	return nil
}
