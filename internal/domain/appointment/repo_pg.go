package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthsync/healthsync/internal/platform/db"
	"github.com/healthsync/healthsync/pkg/pagination"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const appointmentCols = `a.id, a.doctor_id, du.username, a.patient_id, pu.username,
	a.scheduled_at, a.is_completed, a.created_at, a.updated_at`

const appointmentFrom = ` FROM appointments a
	JOIN doctors d ON d.id = a.doctor_id
	JOIN users du ON du.id = d.user_id
	JOIN patients p ON p.id = a.patient_id
	JOIN users pu ON pu.id = p.user_id`

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, scheduled_at, is_completed)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.DoctorID, a.PatientID, a.ScheduledAt, a.IsCompleted,
	)
	if err != nil {
		return fmt.Errorf("appointment create: %w", foreignKey(err))
	}
	return r.reload(ctx, a)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+appointmentCols+appointmentFrom+` WHERE a.id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET
			doctor_id=$2, patient_id=$3, scheduled_at=$4, is_completed=$5, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.DoctorID, a.PatientID, a.ScheduledAt, a.IsCompleted,
	)
	if err != nil {
		return fmt.Errorf("appointment update: %w", foreignKey(err))
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return r.reload(ctx, a)
}

// reload refreshes the joined usernames and timestamps after a write.
func (r *repoPG) reload(ctx context.Context, a *Appointment) error {
	got, err := r.GetByID(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("appointment reload: %w", err)
	}
	*a = *got
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("appointment delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, scope Scope, page pagination.Params) ([]*Appointment, int, error) {
	if scope.Kind == ScopeNone {
		return []*Appointment{}, 0, nil
	}

	where := ` WHERE 1=1`
	var args []interface{}
	if scope.Kind == ScopeDoctor {
		where += ` AND a.doctor_id = $1`
		args = append(args, scope.DoctorID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+appointmentFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("appointment count: %w", err)
	}

	query := `SELECT ` + appointmentCols + appointmentFrom + where + ` ORDER BY a.scheduled_at, a.id`
	if clause := page.SQL(); clause != "" {
		query += " " + clause
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("appointment list: %w", err)
	}
	defer rows.Close()

	items := []*Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) CountByDay(ctx context.Context, params CountParams, tz string) ([]DayCount, error) {
	query := `SELECT (a.scheduled_at AT TIME ZONE $1)::date AS day, COUNT(*)` + appointmentFrom + `
		WHERE (a.scheduled_at AT TIME ZONE $1)::date BETWEEN $2::date AND $3::date`
	args := []interface{}{tz, params.Start.Format(DateLayout), params.End.Format(DateLayout)}
	idx := 4

	if params.Completed != nil {
		query += fmt.Sprintf(" AND a.is_completed = $%d", idx)
		args = append(args, *params.Completed)
		idx++
	}
	if params.Doctor != "" {
		query += fmt.Sprintf(` AND du.username ILIKE $%d ESCAPE '\'`, idx)
		args = append(args, "%"+escapeLike(params.Doctor)+"%")
	}
	query += " GROUP BY day ORDER BY day"

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("appointment count by day: %w", err)
	}
	defer rows.Close()

	out := []DayCount{}
	for rows.Next() {
		var day time.Time
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, fmt.Errorf("scan day count: %w", err)
		}
		out = append(out, DayCount{Date: day.Format(DateLayout), Count: n})
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func foreignKey(err error) error {
	switch {
	case db.IsForeignKeyViolation(err, "appointments_doctor_id_fkey"):
		return ErrUnknownDoctor
	case db.IsForeignKeyViolation(err, "appointments_patient_id_fkey"):
		return ErrUnknownPatient
	}
	return err
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.DoctorUsername, &a.PatientID, &a.PatientUsername,
		&a.ScheduledAt, &a.IsCompleted, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err)
	}
	return &a, nil
}
