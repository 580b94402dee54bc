package domain

// Principal is the identity every signaling write is made under
type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	Anonymous   bool   `json:"anonymous"`
}

// Role of a marketplace participant
type Role string

const (
	RoleClient   Role = "client"
	RoleAdvocate Role = "advocate"
	RoleProvider Role = "provider"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// IsStaff reports whether the role answers support traffic
func (r Role) IsStaff() bool {
	switch r {
	case RoleStaff, RoleAdmin, RoleAdvocate, RoleProvider:
		return true
	}
	return false
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleAdvocate, RoleProvider, RoleStaff, RoleAdmin:
		return true
	}
	return false
}
