package vault

import (
	"encoding/hex"
	"sort"
)

// Roles recognised by the access gate.
const (
	// RoleVaultAdmin may configure price feeds and grant or revoke roles.
	RoleVaultAdmin = "ROLE_VAULT_ADMIN"
	// RolePauser may flip the global pause flag.
	RolePauser = "ROLE_PAUSER"
)

// AccessGate tracks role grants and the global pause flag. It answers
// permission and pause questions without any knowledge of balances. Callers
// are expected to serialise mutating access through the engine.
type AccessGate struct {
	grants map[string]map[[20]byte]bool
	paused bool
}

// NewAccessGate constructs a gate with the supplied address seeded as both
// vault admin and pauser.
func NewAccessGate(admin [20]byte) *AccessGate {
	gate := &AccessGate{grants: make(map[string]map[[20]byte]bool)}
	gate.grant(RoleVaultAdmin, admin)
	gate.grant(RolePauser, admin)
	return gate
}

func (g *AccessGate) grant(role string, addr [20]byte) {
	bucket, ok := g.grants[role]
	if !ok {
		bucket = make(map[[20]byte]bool)
		g.grants[role] = bucket
	}
	bucket[addr] = true
}

// HasRole reports whether the address holds the named role.
func (g *AccessGate) HasRole(role string, addr [20]byte) bool {
	if g == nil {
		return false
	}
	return g.grants[role][addr]
}

// RequireRole fails with ErrUnauthorized when the caller lacks the role.
func (g *AccessGate) RequireRole(role string, caller [20]byte) error {
	if !g.HasRole(role, caller) {
		return ErrUnauthorized
	}
	return nil
}

// RequireNotPaused fails with ErrPaused while the pause flag is set.
func (g *AccessGate) RequireNotPaused() error {
	if g != nil && g.paused {
		return ErrPaused
	}
	return nil
}

// Paused reports the current pause flag.
func (g *AccessGate) Paused() bool {
	return g != nil && g.paused
}

// SetPaused flips the pause flag. The caller must hold RolePauser. The
// returned bool reports whether the flag actually changed.
func (g *AccessGate) SetPaused(caller [20]byte, paused bool) (bool, error) {
	if err := g.RequireRole(RolePauser, caller); err != nil {
		return false, err
	}
	if g.paused == paused {
		return false, nil
	}
	g.paused = paused
	return true, nil
}

// Grant assigns the role to the address. The caller must hold RoleVaultAdmin.
func (g *AccessGate) Grant(caller [20]byte, role string, addr [20]byte) error {
	if err := g.RequireRole(RoleVaultAdmin, caller); err != nil {
		return err
	}
	g.grant(role, addr)
	return nil
}

// Revoke removes the role from the address. The caller must hold
// RoleVaultAdmin.
func (g *AccessGate) Revoke(caller [20]byte, role string, addr [20]byte) error {
	if err := g.RequireRole(RoleVaultAdmin, caller); err != nil {
		return err
	}
	delete(g.grants[role], addr)
	return nil
}

// RoleGrant pairs a role name with a holder address for snapshotting.
type RoleGrant struct {
	Role    string
	Address [20]byte
}

// Grants returns every (role, address) pair in deterministic order.
func (g *AccessGate) Grants() []RoleGrant {
	if g == nil {
		return nil
	}
	out := make([]RoleGrant, 0)
	for role, bucket := range g.grants {
		for addr := range bucket {
			out = append(out, RoleGrant{Role: role, Address: addr})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role == out[j].Role {
			return hex.EncodeToString(out[i].Address[:]) < hex.EncodeToString(out[j].Address[:])
		}
		return out[i].Role < out[j].Role
	})
	return out
}

// Restore replaces the gate contents with the supplied snapshot data.
func (g *AccessGate) Restore(grants []RoleGrant, paused bool) {
	if g == nil {
		return
	}
	g.grants = make(map[string]map[[20]byte]bool)
	for _, grant := range grants {
		if grant.Role == "" {
			continue
		}
		g.grant(grant.Role, grant.Address)
	}
	g.paused = paused
}
