package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/healthsync/healthsync/pkg/pagination"
)

// Repository persists appointments. Lookups of a missing row return
// db.ErrNotFound; writes naming a missing doctor or patient return
// ErrUnknownDoctor or ErrUnknownPatient.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, scope Scope, page pagination.Params) ([]*Appointment, int, error)
	// CountByDay groups matching appointments by calendar date in tz,
	// ascending.
	CountByDay(ctx context.Context, params CountParams, tz string) ([]DayCount, error)
}
