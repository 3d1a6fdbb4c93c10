package domain

// Role is the capability tier granted to an authenticated principal by the
// external identity layer. Tiers are strictly ordered: each tier carries
// everything below it.
type Role string

const (
	RoleAnalyst  Role = "analyst"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
)

var roleLevels = map[Role]int{
	RoleAnalyst:  1,
	RoleReviewer: 2,
	RoleAdmin:    3,
}

// Known reports whether the role is a recognized tier. Unknown roles carry
// no capabilities at all.
func (r Role) Known() bool {
	_, ok := roleLevels[r]
	return ok
}

// AtLeast reports whether r grants the capabilities of the min tier.
func (r Role) AtLeast(min Role) bool {
	return roleLevels[r] >= roleLevels[min]
}

// Actor is an already-authenticated principal acting on the engine. The
// engine never issues or verifies identities; it consumes them and decides
// what the attached role may do.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}
