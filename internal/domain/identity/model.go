package identity

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DateLayout = "2006-01-02"

var (
	ErrUsernameTaken = errors.New("username already taken")
	ErrAlreadyLinked = errors.New("user already has a profile")
)

// User is an account. Users are deactivated, never deleted.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PhoneNumber  *string   `json:"phone_number"`
	IsDoctor     bool      `json:"is_doctor"`
	IsPatient    bool      `json:"is_patient"`
	IsStaff      bool      `json:"is_staff"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FullName mirrors what the admin views display.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// DoctorProfile links a doctor-flagged user to their specialization.
type DoctorProfile struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	Username       string    `json:"username"`
	Specialization string    `json:"specialization"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
)

// ParseGender accepts "M"/"F" and "male"/"female" in any case.
func ParseGender(s string) (Gender, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "male":
		return GenderMale, true
	case "f", "female":
		return GenderFemale, true
	}
	return "", false
}

// PatientProfile links a patient-flagged user to their demographics.
type PatientProfile struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DateOfBirth time.Time `json:"date_of_birth"`
	Gender      Gender    `json:"gender"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MarshalJSON renders date_of_birth as a plain calendar date.
func (p PatientProfile) MarshalJSON() ([]byte, error) {
	type alias PatientProfile
	return json.Marshal(struct {
		alias
		DateOfBirth string `json:"date_of_birth"`
	}{alias(p), p.DateOfBirth.Format(DateLayout)})
}
