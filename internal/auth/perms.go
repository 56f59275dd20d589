package auth

import (
	"sort"
	"strings"
)

// Action is the verb half of a permission.
type Action uint8

const (
	ActionCreate Action = iota + 1
	ActionUpdate
	ActionDelete
)

// Actions lists every mutating action in declaration order.
var Actions = []Action{ActionCreate, ActionUpdate, ActionDelete}

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "Create"
	case ActionUpdate:
		return "Update"
	case ActionDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// Entity is a resource kind guarded by permissions.
type Entity uint8

const (
	EntityBook Entity = iota + 1
	EntityCategory
	EntityAuthor
	EntityPublisher
	EntityVoucher
	EntityReceipt
	EntityMessage
	EntityNotification
)

// Entities lists every guarded entity in declaration order.
var Entities = []Entity{
	EntityBook, EntityCategory, EntityAuthor, EntityPublisher,
	EntityVoucher, EntityReceipt, EntityMessage, EntityNotification,
}

var entityNames = map[Entity]string{
	EntityBook:         "Book",
	EntityCategory:     "Category",
	EntityAuthor:       "Author",
	EntityPublisher:    "Publisher",
	EntityVoucher:      "Voucher",
	EntityReceipt:      "Receipt",
	EntityMessage:      "Message",
	EntityNotification: "Notification",
}

func (e Entity) String() string {
	if name, ok := entityNames[e]; ok {
		return name
	}
	return "Unknown"
}

// ParseEntity resolves a case-insensitive entity name.
func ParseEntity(name string) (Entity, bool) {
	for e, n := range entityNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return e, true
		}
	}
	return 0, false
}

// Permission grants one action on one entity. Its claim form is
// ACTION_ENTITY, e.g. UPDATE_CATEGORY.
type Permission struct {
	Action Action
	Entity Entity
}

// Perm is shorthand for Permission{a, e}.
func Perm(a Action, e Entity) Permission { return Permission{Action: a, Entity: e} }

// Claim renders the permission as carried inside access tokens.
func (p Permission) Claim() string {
	return strings.ToUpper(p.Action.String()) + "_" + strings.ToUpper(p.Entity.String())
}

func (p Permission) String() string { return p.Claim() }

var claimIndex = func() map[string]Permission {
	idx := make(map[string]Permission, len(Actions)*len(Entities))
	for _, p := range AllPermissions() {
		idx[p.Claim()] = p
	}
	return idx
}()

// ParsePermission maps a claim string back to its Permission. Matching is
// exact: claims are produced by Claim and never hand-written.
func ParsePermission(claim string) (Permission, bool) {
	p, ok := claimIndex[claim]
	return p, ok
}

// AllPermissions enumerates every entity × action pair.
func AllPermissions() []Permission {
	out := make([]Permission, 0, len(Actions)*len(Entities))
	for _, e := range Entities {
		for _, a := range Actions {
			out = append(out, Perm(a, e))
		}
	}
	return out
}

// Role is a user's privilege tier. Values match the persisted integers.
type Role uint8

const (
	RoleMember Role = 0
	RoleStaff  Role = 1
	RoleAdmin  Role = 2
)

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "Member"
	case RoleStaff:
		return "Staff"
	case RoleAdmin:
		return "Admin"
	default:
		return "Unknown"
	}
}

// ParseRole resolves a case-insensitive role name.
func ParseRole(name string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "member":
		return RoleMember, true
	case "staff":
		return RoleStaff, true
	case "admin":
		return RoleAdmin, true
	}
	return 0, false
}

var catalogEntities = []Entity{EntityBook, EntityCategory, EntityAuthor, EntityPublisher, EntityVoucher}

var rolePermissions = map[Role][]Permission{
	RoleMember: memberPermissions(),
	RoleStaff:  staffPermissions(),
	RoleAdmin:  AllPermissions(),
}

func memberPermissions() []Permission {
	return []Permission{
		Perm(ActionCreate, EntityMessage),
		Perm(ActionCreate, EntityReceipt),
	}
}

func staffPermissions() []Permission {
	perms := memberPermissions()
	for _, e := range catalogEntities {
		perms = append(perms, Perm(ActionCreate, e), Perm(ActionUpdate, e))
	}
	return append(perms,
		Perm(ActionUpdate, EntityReceipt),
		Perm(ActionCreate, EntityNotification),
	)
}

// Permissions returns the static permission set of the role. Unknown roles
// get nothing.
func (r Role) Permissions() []Permission {
	src := rolePermissions[r]
	out := make([]Permission, len(src))
	copy(out, src)
	return out
}

// Claims returns the role's permission claims sorted for stable tokens.
func (r Role) Claims() []string {
	perms := rolePermissions[r]
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.Claim())
	}
	sort.Strings(out)
	return out
}
