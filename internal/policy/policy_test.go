package policy

import (
	"errors"
	"testing"

	"pagehall.org/internal/auth"
)

func TestNameMatchesClaim(t *testing.T) {
	p := For(auth.ActionUpdate, auth.EntityCategory)
	if got := p.Name(); got != "UpdateCategoryAccess" {
		t.Fatalf("unexpected name %q", got)
	}
	if got := p.Permission().Claim(); got != "UPDATE_CATEGORY" {
		t.Fatalf("unexpected claim %q", got)
	}
}

func TestAllCoversEveryPermission(t *testing.T) {
	all := All()
	if len(all) != len(auth.AllPermissions()) {
		t.Fatalf("expected %d policies, got %d", len(auth.AllPermissions()), len(all))
	}
	for _, p := range all {
		got, ok := Lookup(p.Name())
		if !ok || got != p {
			t.Fatalf("lookup %s failed", p.Name())
		}
	}
	if _, ok := Lookup("UpdateUnicornAccess"); ok {
		t.Fatalf("unexpected policy resolved")
	}
}

func TestAuthorize(t *testing.T) {
	updateCategory := For(auth.ActionUpdate, auth.EntityCategory)
	deleteCategory := For(auth.ActionDelete, auth.EntityCategory)

	staff := &auth.Claims{Permissions: auth.RoleStaff.Claims()}
	member := &auth.Claims{Permissions: auth.RoleMember.Claims()}
	admin := &auth.Claims{Permissions: auth.RoleAdmin.Claims()}

	cases := []struct {
		name   string
		claims *auth.Claims
		policy Policy
		want   error
	}{
		{"staff update", staff, updateCategory, nil},
		{"staff delete", staff, deleteCategory, ErrForbidden},
		{"member update", member, updateCategory, ErrForbidden},
		{"admin delete", admin, deleteCategory, nil},
		{"anonymous", nil, updateCategory, ErrUnauthenticated},
		{"near miss claim", &auth.Claims{Permissions: []string{"UPDATE_CATEGORIES", "update_category"}}, updateCategory, ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Authorize(tc.claims, tc.policy)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
