package scheduling

import (
	"fmt"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient      Role = "patient"
	RoleReception    Role = "reception"
	RolePractitioner Role = "practitioner"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RolePatient, RoleReception, RolePractitioner:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor is an already-authenticated caller. ID is the caller's user id; for
// practitioners it is also the practitioner reference used in ownership checks.
type Actor struct {
	Role Role
	ID   uuid.UUID
}

func Patient(id uuid.UUID) Actor      { return Actor{Role: RolePatient, ID: id} }
func Reception(id uuid.UUID) Actor    { return Actor{Role: RoleReception, ID: id} }
func Practitioner(id uuid.UUID) Actor { return Actor{Role: RolePractitioner, ID: id} }

func (a Actor) IsPractitioner(id uuid.UUID) bool {
	return a.Role == RolePractitioner && a.ID == id
}

func (a Actor) String() string {
	return fmt.Sprintf("%s:%s", a.Role, a.ID)
}
