// Package policy gates mutating operations on named access policies. A
// policy is satisfied only by the exact permission claim derived from the
// same action and entity, so the name and the claim cannot drift apart.
package policy

import (
	"errors"
	"sort"

	"pagehall.org/internal/auth"
)

var (
	ErrUnauthenticated = errors.New("policy: unauthenticated")
	ErrForbidden       = errors.New("policy: forbidden")
)

// Policy names one action on one entity, e.g. UpdateCategoryAccess.
type Policy struct {
	Action auth.Action
	Entity auth.Entity
}

// For returns the policy guarding action a on entity e.
func For(a auth.Action, e auth.Entity) Policy { return Policy{Action: a, Entity: e} }

// Name renders the policy name.
func (p Policy) Name() string {
	return p.Action.String() + p.Entity.String() + "Access"
}

func (p Policy) String() string { return p.Name() }

// Permission is the claim a caller must carry to satisfy p.
func (p Policy) Permission() auth.Permission { return auth.Perm(p.Action, p.Entity) }

var registry = func() map[string]Policy {
	out := make(map[string]Policy)
	for _, perm := range auth.AllPermissions() {
		p := For(perm.Action, perm.Entity)
		out[p.Name()] = p
	}
	return out
}()

// All lists every registered policy ordered by name.
func All() []Policy {
	out := make([]Policy, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Lookup resolves a policy by name.
func Lookup(name string) (Policy, bool) {
	p, ok := registry[name]
	return p, ok
}

// Authorize succeeds iff claims carry the exact permission of p.
func Authorize(claims *auth.Claims, p Policy) error {
	if claims == nil {
		return ErrUnauthenticated
	}
	if !claims.HasPermission(p.Permission()) {
		return ErrForbidden
	}
	return nil
}
