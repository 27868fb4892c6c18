package models

// Role is the claim carried on the authenticated principal. Authorization
// decisions check roles, never hardcoded identities.
type Role string

const (
	RoleSeeker   Role = "seeker"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Principal is the authenticated caller extracted from the JWT.
type Principal struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Can reports whether the principal may act as the given role. Admin may
// act as anyone.
func (p Principal) Can(role Role) bool {
	return p.Role == role || p.Role == RoleAdmin
}
