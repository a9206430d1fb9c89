package entities

import "fmt"

// Role is the advisory operator role; it is never enforced server side.
type Role string

const (
	RoleSpecialist       Role = "specialist"
	RoleSeniorSpecialist Role = "senior-specialist"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSpecialist, RoleSeniorSpecialist:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// CanCorrectValues: solo il senior può correggere i valori misurati.
func (r Role) CanCorrectValues() bool { return r == RoleSeniorSpecialist }
