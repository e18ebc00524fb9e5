package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/praxis/praxis/internal/platform/tenantdb"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{}

func NewRepoPG() Repository { return &repoPG{} }

func (r *repoPG) conn(ctx context.Context) (queryable, error) {
	return tenantdb.FromContext(ctx)
}

const apptCols = `id, patient_id, practitioner, start_time, end_time, status,
	reason, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.Practitioner, &a.StartTime, &a.EndTime,
		&a.Status, &a.Reason, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	a.ID = uuid.New()
	_, err = conn.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, practitioner, start_time, end_time, status, reason, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.PatientID, a.Practitioner, a.StartTime, a.EndTime, a.Status, a.Reason, a.Notes)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	return scanAppointment(conn.QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, `
		UPDATE appointments SET practitioner=$2, start_time=$3, end_time=$4,
			reason=$5, notes=$6, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Practitioner, a.StartTime, a.EndTime, a.Reason, a.Notes)
	return err
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, `UPDATE appointments SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	return err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM appointments WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+apptCols+` FROM appointments WHERE patient_id = $1 ORDER BY start_time DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectAppointments(rows, total)
}

func (r *repoPG) ListByRange(ctx context.Context, from, to time.Time, limit, offset int) ([]*Appointment, int, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + apptCols + ` FROM appointments WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM appointments WHERE 1=1`
	var args []interface{}
	idx := 1

	if !from.IsZero() {
		query += fmt.Sprintf(` AND start_time >= $%d`, idx)
		countQuery += fmt.Sprintf(` AND start_time >= $%d`, idx)
		args = append(args, from)
		idx++
	}
	if !to.IsZero() {
		query += fmt.Sprintf(` AND start_time < $%d`, idx)
		countQuery += fmt.Sprintf(` AND start_time < $%d`, idx)
		args = append(args, to)
		idx++
	}

	var total int
	if err := conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY start_time ASC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectAppointments(rows, total)
}

func collectAppointments(rows pgx.Rows, total int) ([]*Appointment, int, error) {
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
