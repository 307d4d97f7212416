package appointment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar-date format used by the count endpoint.
const DateLayout = "2006-01-02"

var (
	ErrUnknownDoctor  = errors.New("appointment: doctor does not exist")
	ErrUnknownPatient = errors.New("appointment: patient does not exist")
)

// Appointment is a doctor/patient visit. The usernames are read-only and
// come from the joined user rows.
type Appointment struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	DoctorUsername  string    `json:"doctor_username"`
	PatientID       uuid.UUID `json:"patient_id"`
	PatientUsername string    `json:"patient_username"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	IsCompleted     bool      `json:"is_completed"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Patch holds the writable fields of a partial update. Nil means unchanged.
type Patch struct {
	DoctorID    *uuid.UUID
	PatientID   *uuid.UUID
	ScheduledAt *time.Time
	IsCompleted *bool
}

func (p Patch) Empty() bool {
	return p.DoctorID == nil && p.PatientID == nil && p.ScheduledAt == nil && p.IsCompleted == nil
}

// Apply copies the set fields onto a.
func (p Patch) Apply(a *Appointment) {
	if p.DoctorID != nil {
		a.DoctorID = *p.DoctorID
	}
	if p.PatientID != nil {
		a.PatientID = *p.PatientID
	}
	if p.ScheduledAt != nil {
		a.ScheduledAt = *p.ScheduledAt
	}
	if p.IsCompleted != nil {
		a.IsCompleted = *p.IsCompleted
	}
}
