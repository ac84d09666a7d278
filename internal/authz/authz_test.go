package authz

import (
	"testing"

	"github.com/kotobadb/core/internal/dbconfig"
	"github.com/kotobadb/core/internal/kerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scopeID(id string) *string { return &id }

func TestCapabilityScopeMatching(t *testing.T) {
	cap := Capability{ResourceType: "Graph", Action: "Read", Scope: "project/*"}
	assert.True(t, cap.covers("Graph", "Read", scopeID("project/A")))
	assert.True(t, cap.covers("Graph", "Read", scopeID("project/B")))
	assert.False(t, cap.covers("Graph", "Write", scopeID("project/A")))
	assert.False(t, cap.covers("Edge", "Read", scopeID("project/A")))
}

func TestAttenuationNarrowsScope(t *testing.T) {
	broad := CapabilitySet{{ResourceType: "Graph", Action: "Read", Scope: "project/*"}}
	narrow := broad.Attenuate("Graph", "Read", "project/A")

	gate := NewGate(dbconfig.AuthzCapabilityOnly, nil)
	allowedPrincipal := Principal{UserID: "u1", Capabilities: narrow}

	err := gate.Check(allowedPrincipal, Resource{Type: "Graph", Action: "Read", ID: scopeID("project/A")})
	assert.NoError(t, err)

	err = gate.Check(allowedPrincipal, Resource{Type: "Graph", Action: "Read", ID: scopeID("project/B")})
	require.Error(t, err)
	assert.True(t, kerr.MatchKind(err, kerr.KindAuthzDenied))
}

func TestAttenuationNeverWidens(t *testing.T) {
	narrow := CapabilitySet{{ResourceType: "Graph", Action: "Read", Scope: "project/A"}}
	widened := narrow.Attenuate("Graph", "Read", "project/*")
	// Attenuation must not grant access beyond what "project/A" already
	// allowed: the narrower existing scope wins.
	assert.Equal(t, "project/A", widened[0].Scope)
}

func TestGrantIsMonotonic(t *testing.T) {
	gate := NewGate(dbconfig.AuthzCapabilityOnly, nil)
	p := Principal{UserID: "u1"}
	resource := Resource{Type: "Graph", Action: "Write", ID: scopeID("project/A")}

	assert.Error(t, gate.Check(p, resource))

	p.Capabilities = p.Capabilities.Grant(Capability{ResourceType: "Graph", Action: "Write", Scope: "project/*"})
	assert.NoError(t, gate.Check(p, resource))
}

func TestRoleFallbackAfterCapabilityMiss(t *testing.T) {
	gate := NewGate(dbconfig.AuthzCapabilityThenRole, nil)
	gate.GrantRole("viewer", Permission{ResourceType: "Graph", Action: "Read"})

	p := Principal{UserID: "u1", Roles: []string{"viewer"}}
	// No capability at all: legacy role table grants it.
	assert.NoError(t, gate.Check(p, Resource{Type: "Graph", Action: "Read"}))

	// A capability-only miss on a different action still falls through
	// to the role table.
	p.Capabilities = CapabilitySet{{ResourceType: "Graph", Action: "Write", Scope: "*"}}
	assert.NoError(t, gate.Check(p, Resource{Type: "Graph", Action: "Read"}))
}

func TestRoleFallbackDisabledInCapabilityOnlyMode(t *testing.T) {
	gate := NewGate(dbconfig.AuthzCapabilityOnly, nil)
	gate.GrantRole("viewer", Permission{ResourceType: "Graph", Action: "Read"})

	p := Principal{UserID: "u1", Roles: []string{"viewer"}}
	err := gate.Check(p, Resource{Type: "Graph", Action: "Read"})
	require.Error(t, err)
	assert.True(t, kerr.MatchKind(err, kerr.KindAuthzDenied))
}

func TestUnscopedCapabilityRequiresWildcard(t *testing.T) {
	gate := NewGate(dbconfig.AuthzCapabilityOnly, nil)
	p := Principal{Capabilities: CapabilitySet{
		{ResourceType: "Graph", Action: "Read", Scope: "project/*"},
	}}
	// Request has no resource id at all; a pattern-scoped capability
	// does not cover an unscoped request.
	err := gate.Check(p, Resource{Type: "Graph", Action: "Read"})
	assert.Error(t, err)
}
