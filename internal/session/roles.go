package session

// Role is the closed set of principal roles carried in access-token claims
// and checked by the connection hub at admission time.
type Role string

const (
	RolePatient   Role = "patient"
	RoleProvider  Role = "provider"
	RoleResponder Role = "responder"
)

// ParseRole maps a raw claim value onto the closed role set.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RolePatient, RoleProvider, RoleResponder:
		return Role(s), true
	default:
		return "", false
	}
}
