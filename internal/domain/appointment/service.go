package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthsync/healthsync/internal/domain/identity"
	"github.com/healthsync/healthsync/internal/platform/apperr"
	"github.com/healthsync/healthsync/internal/platform/db"
	"github.com/healthsync/healthsync/pkg/pagination"
)

type Service struct {
	repo   Repository
	tx     db.TxRunner
	loc    *time.Location
	logger zerolog.Logger
}

// NewService builds the appointment service. loc is the clinic time zone
// used to decide the calendar date of an appointment; nil means UTC.
func NewService(repo Repository, tx db.TxRunner, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:   repo,
		tx:     tx,
		loc:    loc,
		logger: logger.With().Str("component", "appointment").Logger(),
	}
}

// Input is the body of a create or full replace.
type Input struct {
	DoctorID    uuid.UUID
	PatientID   uuid.UUID
	ScheduledAt string
	IsCompleted bool
}

// PatchInput is the body of a partial update.
type PatchInput struct {
	DoctorID    *uuid.UUID
	PatientID   *uuid.UUID
	ScheduledAt *string
	IsCompleted *bool
}

func (s *Service) List(ctx context.Context, p identity.Principal, page pagination.Params) ([]*Appointment, int, error) {
	if err := Authorize(p, OpList); err != nil {
		return nil, 0, err
	}
	items, total, err := s.repo.List(ctx, ListScope(p), page)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	return items, total, nil
}

func (s *Service) Get(ctx context.Context, p identity.Principal, id uuid.UUID) (*Appointment, error) {
	a, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := AuthorizeObject(p, OpRead, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Create(ctx context.Context, p identity.Principal, in Input) (*Appointment, error) {
	if err := Authorize(p, OpCreate); err != nil {
		return nil, err
	}
	a, err := in.validate()
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, s.writeError(err, "create")
	}
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Str("user_id", p.Account().ID.String()).
		Msg("appointment created")
	return a, nil
}

// Replace overwrites every writable field.
func (s *Service) Replace(ctx context.Context, p identity.Principal, id uuid.UUID, in Input) (*Appointment, error) {
	if err := Authorize(p, OpUpdate); err != nil {
		return nil, err
	}
	next, err := in.validate()
	if err != nil {
		return nil, err
	}
	return s.update(ctx, p, id, Patch{
		DoctorID:    &next.DoctorID,
		PatientID:   &next.PatientID,
		ScheduledAt: &next.ScheduledAt,
		IsCompleted: &next.IsCompleted,
	})
}

func (s *Service) Update(ctx context.Context, p identity.Principal, id uuid.UUID, in PatchInput) (*Appointment, error) {
	if err := Authorize(p, OpUpdate); err != nil {
		return nil, err
	}
	patch, err := in.validate()
	if err != nil {
		return nil, err
	}
	return s.update(ctx, p, id, patch)
}

func (s *Service) update(ctx context.Context, p identity.Principal, id uuid.UUID, patch Patch) (*Appointment, error) {
	var out *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.lookup(ctx, id)
		if err != nil {
			return err
		}
		if err := AuthorizeObject(p, OpUpdate, a); err != nil {
			return err
		}
		if patch.Empty() {
			out = a
			return nil
		}
		patch.Apply(a)
		if err := s.repo.Update(ctx, a); err != nil {
			return s.writeError(err, "update")
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, p identity.Principal, id uuid.UUID) error {
	if err := Authorize(p, OpDelete); err != nil {
		return err
	}
	a, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if err := AuthorizeObject(p, OpDelete, a); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return notFound()
		}
		return fmt.Errorf("delete appointment: %w", err)
	}
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("user_id", p.Account().ID.String()).
		Msg("appointment deleted")
	return nil
}

// Count returns per-day appointment counts. Permission is checked before
// the query is validated.
func (s *Service) Count(ctx context.Context, p identity.Principal, start, end, status, doctor string) ([]DayCount, error) {
	if err := Authorize(p, OpCount); err != nil {
		return nil, err
	}
	params, err := ParseCountQuery(start, end, status, doctor)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountByDay(ctx, params, s.loc.String())
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}
	if counts == nil {
		counts = []DayCount{}
	}
	return counts, nil
}

func (s *Service) lookup(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, notFound()
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (s *Service) writeError(err error, op string) error {
	switch {
	case errors.Is(err, ErrUnknownDoctor):
		return apperr.BadRequest("unknown_doctor", "doctor does not exist")
	case errors.Is(err, ErrUnknownPatient):
		return apperr.BadRequest("unknown_patient", "patient does not exist")
	case errors.Is(err, db.ErrNotFound):
		return notFound()
	}
	return fmt.Errorf("%s appointment: %w", op, err)
}

func notFound() error {
	return apperr.NotFound("appointment_not_found", "appointment not found")
}

func (in Input) validate() (*Appointment, error) {
	if in.DoctorID == uuid.Nil {
		return nil, apperr.BadRequest("doctor_required", "doctor_id is required")
	}
	if in.PatientID == uuid.Nil {
		return nil, apperr.BadRequest("patient_required", "patient_id is required")
	}
	at, err := parseScheduledAt(in.ScheduledAt)
	if err != nil {
		return nil, err
	}
	return &Appointment{
		DoctorID:    in.DoctorID,
		PatientID:   in.PatientID,
		ScheduledAt: at,
		IsCompleted: in.IsCompleted,
	}, nil
}

func (in PatchInput) validate() (Patch, error) {
	patch := Patch{IsCompleted: in.IsCompleted}
	if in.DoctorID != nil {
		if *in.DoctorID == uuid.Nil {
			return Patch{}, apperr.BadRequest("doctor_required", "doctor_id must not be empty")
		}
		patch.DoctorID = in.DoctorID
	}
	if in.PatientID != nil {
		if *in.PatientID == uuid.Nil {
			return Patch{}, apperr.BadRequest("patient_required", "patient_id must not be empty")
		}
		patch.PatientID = in.PatientID
	}
	if in.ScheduledAt != nil {
		at, err := parseScheduledAt(*in.ScheduledAt)
		if err != nil {
			return Patch{}, err
		}
		patch.ScheduledAt = &at
	}
	return patch, nil
}

// parseScheduledAt only accepts RFC 3339 timestamps, which always carry a
// zone offset.
func parseScheduledAt(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, apperr.BadRequest("scheduled_at_required", "scheduled_at is required")
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.BadRequest("invalid_scheduled_at", "scheduled_at must be an RFC 3339 timestamp with offset")
	}
	return at, nil
}
