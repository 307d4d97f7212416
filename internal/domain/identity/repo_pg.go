package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthsync/healthsync/internal/platform/db"
	"github.com/healthsync/healthsync/pkg/pagination"
)

// -- User Repository --

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, username, email, password_hash, first_name, last_name, phone_number,
	is_doctor, is_patient, is_staff, is_active, created_at, updated_at`

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (
			id, username, email, password_hash, first_name, last_name, phone_number,
			is_doctor, is_patient, is_staff, is_active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.PhoneNumber,
		u.IsDoctor, u.IsPatient, u.IsStaff, u.IsActive,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if db.IsUniqueViolation(err, "users_username_key") {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("user create: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username = $1`, username))
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET
			email=$2, first_name=$3, last_name=$4, phone_number=$5,
			is_doctor=$6, is_patient=$7, is_staff=$8, is_active=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.Email, u.FirstName, u.LastName, u.PhoneNumber,
		u.IsDoctor, u.IsPatient, u.IsStaff, u.IsActive,
	).Scan(&u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("user update: %w", db.NotFound(err))
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.PhoneNumber,
		&u.IsDoctor, &u.IsPatient, &u.IsStaff, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &u, nil
}

// -- Doctor Repository --

type doctorRepoPG struct {
	pool *pgxpool.Pool
}

func NewDoctorRepo(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const doctorSelect = `SELECT d.id, d.user_id, u.username, d.specialization, d.created_at, d.updated_at
	FROM doctors d JOIN users u ON u.id = d.user_id`

func (r *doctorRepoPG) Create(ctx context.Context, d *DoctorProfile) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctors (id, user_id, specialization) VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`,
		d.ID, d.UserID, d.Specialization,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if db.IsUniqueViolation(err, "doctors_user_id_key") {
		return ErrAlreadyLinked
	}
	if err != nil {
		return fmt.Errorf("doctor create: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DoctorProfile, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, doctorSelect+` WHERE d.id = $1`, id))
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*DoctorProfile, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, doctorSelect+` WHERE d.user_id = $1`, userID))
}

func (r *doctorRepoPG) List(ctx context.Context, page pagination.Params) ([]*DoctorProfile, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctors`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, doctorSelect+` ORDER BY u.username `+page.SQL())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	doctors := []*DoctorProfile{}
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		doctors = append(doctors, d)
	}
	return doctors, total, rows.Err()
}

func scanDoctor(row pgx.Row) (*DoctorProfile, error) {
	var d DoctorProfile
	if err := row.Scan(&d.ID, &d.UserID, &d.Username, &d.Specialization, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, db.NotFound(err)
	}
	return &d, nil
}

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientSelect = `SELECT p.id, p.user_id, u.username, p.date_of_birth, p.gender, p.created_at, p.updated_at
	FROM patients p JOIN users u ON u.id = p.user_id`

func (r *patientRepoPG) Create(ctx context.Context, p *PatientProfile) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, user_id, date_of_birth, gender) VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.DateOfBirth, string(p.Gender),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err, "patients_user_id_key") {
		return ErrAlreadyLinked
	}
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientProfile, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, patientSelect+` WHERE p.id = $1`, id))
}

func (r *patientRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*PatientProfile, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, patientSelect+` WHERE p.user_id = $1`, userID))
}

func (r *patientRepoPG) List(ctx context.Context, page pagination.Params) ([]*PatientProfile, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, patientSelect+` ORDER BY u.username `+page.SQL())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	patients := []*PatientProfile{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

func scanPatient(row pgx.Row) (*PatientProfile, error) {
	var p PatientProfile
	var gender string
	if err := row.Scan(&p.ID, &p.UserID, &p.Username, &p.DateOfBirth, &gender, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, db.NotFound(err)
	}
	p.Gender = Gender(gender)
	return &p, nil
}
