package auth

import "testing"

func TestClaimRoundTrip(t *testing.T) {
	for _, p := range AllPermissions() {
		got, ok := ParsePermission(p.Claim())
		if !ok || got != p {
			t.Fatalf("claim %s did not resolve back", p.Claim())
		}
	}
	if _, ok := ParsePermission("update_category"); ok {
		t.Fatalf("claims are case sensitive")
	}
}

func TestRolePermissionSets(t *testing.T) {
	member := Perm(ActionCreate, EntityMessage)
	update := Perm(ActionUpdate, EntityCategory)
	del := Perm(ActionDelete, EntityBook)

	has := func(r Role, p Permission) bool {
		c := &Claims{Permissions: r.Claims()}
		return c.HasPermission(p)
	}
	if !has(RoleMember, member) || has(RoleMember, update) {
		t.Fatalf("member set wrong: %v", RoleMember.Claims())
	}
	if !has(RoleStaff, member) || !has(RoleStaff, update) || has(RoleStaff, del) {
		t.Fatalf("staff set wrong: %v", RoleStaff.Claims())
	}
	if len(RoleAdmin.Claims()) != len(AllPermissions()) {
		t.Fatalf("admin should hold every permission")
	}
	if len(Role(9).Claims()) != 0 {
		t.Fatalf("unknown role must hold nothing")
	}
}
