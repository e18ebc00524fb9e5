package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/praxis/praxis/internal/platform/tenantdb"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type repoPG struct{}

// NewRepoPG returns a Repository that runs against the tenant database bound
// to the request context. There is no fallback pool: a context without a
// tenant handle fails every call.
func NewRepoPG() Repository { return &repoPG{} }

func (r *repoPG) conn(ctx context.Context) (queryable, error) {
	return tenantdb.FromContext(ctx)
}

const cols = `id, first_name, last_name, birth_date, sex, email, phone,
	address_line1, address_line2, city, postal_code, country, notes,
	active, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.BirthDate, &p.Sex, &p.Email, &p.Phone,
		&p.AddressL1, &p.AddressL2, &p.City, &p.PostalCode, &p.Country, &p.Notes,
		&p.Active, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	p.ID = uuid.New()
	_, err = conn.Exec(ctx, `
		INSERT INTO patients (id, first_name, last_name, birth_date, sex, email, phone,
			address_line1, address_line2, city, postal_code, country, notes, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.Sex, p.Email, p.Phone,
		p.AddressL1, p.AddressL2, p.City, p.PostalCode, p.Country, p.Notes, p.Active)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	return scanPatient(conn.QueryRow(ctx, `SELECT `+cols+` FROM patients WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, `
		UPDATE patients SET first_name=$2, last_name=$3, birth_date=$4, sex=$5,
			email=$6, phone=$7, address_line1=$8, address_line2=$9, city=$10,
			postal_code=$11, country=$12, notes=$13, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.Sex,
		p.Email, p.Phone, p.AddressL1, p.AddressL2, p.City,
		p.PostalCode, p.Country, p.Notes)
	return err
}

func (r *repoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, `UPDATE patients SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, search string, limit, offset int) ([]*Patient, int, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, 0, err
	}

	where := `WHERE active`
	args := []any{}
	if search != "" {
		where += ` AND (first_name ILIKE '%' || $1 || '%' OR last_name ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%')`
		args = append(args, search)
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patients `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limitPos := len(args) + 1
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM patients %s ORDER BY last_name, first_name LIMIT $%d OFFSET $%d`,
		cols, where, limitPos, limitPos+1)

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
