package records

import (
	"context"
	"fmt"

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

func conn(ctx context.Context) (queryable, error) {
	return tenantdb.FromContext(ctx)
}

// =========== Medical Record Repository ===========

type recordRepoPG struct{}

func NewRecordRepoPG() RecordRepository { return &recordRepoPG{} }

const recordCols = `id, patient_id, appointment_id, kind, title, body, author_id, created_at, updated_at`

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var r MedicalRecord
	err := row.Scan(&r.ID, &r.PatientID, &r.AppointmentID, &r.Kind, &r.Title,
		&r.Body, &r.AuthorID, &r.CreatedAt, &r.UpdatedAt)
	return &r, err
}

func (repo *recordRepoPG) Create(ctx context.Context, r *MedicalRecord) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}
	r.ID = uuid.New()
	_, err = c.Exec(ctx, `
		INSERT INTO medical_records (id, patient_id, appointment_id, kind, title, body, author_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.PatientID, r.AppointmentID, r.Kind, r.Title, r.Body, r.AuthorID)
	return err
}

func (repo *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}
	return scanRecord(c.QueryRow(ctx, `SELECT `+recordCols+` FROM medical_records WHERE id = $1`, id))
}

func (repo *recordRepoPG) Update(ctx context.Context, r *MedicalRecord) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}
	_, err = c.Exec(ctx, `
		UPDATE medical_records SET title=$2, body=$3, updated_at=NOW()
		WHERE id = $1`,
		r.ID, r.Title, r.Body)
	return err
}

func (repo *recordRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, kind string, limit, offset int) ([]*MedicalRecord, int, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + recordCols + ` FROM medical_records WHERE patient_id = $1`
	countQuery := `SELECT COUNT(*) FROM medical_records WHERE patient_id = $1`
	args := []interface{}{patientID}
	idx := 2

	if kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, idx)
		countQuery += fmt.Sprintf(` AND kind = $%d`, idx)
		args = append(args, kind)
		idx++
	}

	var total int
	if err := c.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MedicalRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}

// =========== Consent Repository ===========

type consentRepoPG struct{}

func NewConsentRepoPG() ConsentRepository { return &consentRepoPG{} }

const consentCols = `id, patient_id, scope, status, granted_at, revoked_at, expires_at, created_at`

func scanConsent(row pgx.Row) (*Consent, error) {
	var cn Consent
	err := row.Scan(&cn.ID, &cn.PatientID, &cn.Scope, &cn.Status,
		&cn.GrantedAt, &cn.RevokedAt, &cn.ExpiresAt, &cn.CreatedAt)
	return &cn, err
}

func (repo *consentRepoPG) Create(ctx context.Context, cn *Consent) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}
	cn.ID = uuid.New()
	_, err = c.Exec(ctx, `
		INSERT INTO consents (id, patient_id, scope, status, granted_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		cn.ID, cn.PatientID, cn.Scope, cn.Status, cn.GrantedAt, cn.ExpiresAt)
	return err
}

func (repo *consentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consent, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, err
	}
	return scanConsent(c.QueryRow(ctx, `SELECT `+consentCols+` FROM consents WHERE id = $1`, id))
}

func (repo *consentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	c, err := conn(ctx)
	if err != nil {
		return err
	}
	if status == ConsentRevoked {
		_, err = c.Exec(ctx, `UPDATE consents SET status=$2, revoked_at=NOW() WHERE id = $1`, id, status)
		return err
	}
	_, err = c.Exec(ctx, `UPDATE consents SET status=$2 WHERE id = $1`, id, status)
	return err
}

func (repo *consentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Consent, int, error) {
	c, err := conn(ctx)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := c.QueryRow(ctx, `SELECT COUNT(*) FROM consents WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := c.Query(ctx, `SELECT `+consentCols+` FROM consents WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Consent
	for rows.Next() {
		cn, err := scanConsent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, cn)
	}
	return items, total, rows.Err()
}
