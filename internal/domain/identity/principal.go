package identity

import (
	"context"

	"github.com/google/uuid"
)

// Principal is the authenticated caller in one of four closed roles. Code
// that branches on it should use a type switch with a denying default.
type Principal interface {
	Account() *User
	isPrincipal()
}

// Admin is a staff user.
type Admin struct{ User *User }

// Doctor is a user linked to a doctor profile.
type Doctor struct {
	User     *User
	DoctorID uuid.UUID
}

// Patient is a user linked to a patient profile.
type Patient struct {
	User      *User
	PatientID uuid.UUID
}

// Plain is an authenticated user with no staff flag and no profile.
type Plain struct{ User *User }

func (p Admin) Account() *User   { return p.User }
func (p Doctor) Account() *User  { return p.User }
func (p Patient) Account() *User { return p.User }
func (p Plain) Account() *User   { return p.User }

func (Admin) isPrincipal()   {}
func (Doctor) isPrincipal()  {}
func (Patient) isPrincipal() {}
func (Plain) isPrincipal()   {}

// RoleName is used in logs.
func RoleName(p Principal) string {
	switch p.(type) {
	case Admin:
		return "admin"
	case Doctor:
		return "doctor"
	case Patient:
		return "patient"
	case Plain:
		return "plain"
	default:
		return "unknown"
	}
}

// ResolvePrincipal picks the role for u. Staff wins over a doctor link,
// which wins over a patient link.
func ResolvePrincipal(u *User, doctor *DoctorProfile, patient *PatientProfile) Principal {
	switch {
	case u.IsStaff:
		return Admin{User: u}
	case doctor != nil:
		return Doctor{User: u, DoctorID: doctor.ID}
	case patient != nil:
		return Patient{User: u, PatientID: patient.ID}
	default:
		return Plain{User: u}
	}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p != nil
}
