package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/healthsync/healthsync/pkg/pagination"
)

// Lookups return db.ErrNotFound when nothing matches.

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Update(ctx context.Context, u *User) error
}

type DoctorRepository interface {
	Create(ctx context.Context, d *DoctorProfile) error
	GetByID(ctx context.Context, id uuid.UUID) (*DoctorProfile, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*DoctorProfile, error)
	List(ctx context.Context, page pagination.Params) ([]*DoctorProfile, int, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *PatientProfile) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientProfile, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*PatientProfile, error)
	List(ctx context.Context, page pagination.Params) ([]*PatientProfile, int, error)
}
