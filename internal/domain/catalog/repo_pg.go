package catalog

import (
	"context"
	"errors"
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

type repoPG struct{}

func NewRepoPG() Repository { return &repoPG{} }

func (r *repoPG) conn(ctx context.Context) (queryable, error) {
	return tenantdb.FromContext(ctx)
}

const itemCols = `id, code, name, description, kind, price_cents, vat_rate_bps, active, created_at, updated_at`

func scanItem(row pgx.Row) (*Item, error) {
	var i Item
	err := row.Scan(&i.ID, &i.Code, &i.Name, &i.Description, &i.Kind,
		&i.PriceCents, &i.VATRateBps, &i.Active, &i.CreatedAt, &i.UpdatedAt)
	return &i, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *repoPG) Create(ctx context.Context, i *Item) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	i.ID = uuid.New()
	_, err = conn.Exec(ctx, `
		INSERT INTO catalog_items (id, code, name, description, kind, price_cents, vat_rate_bps, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		i.ID, i.Code, i.Name, i.Description, i.Kind, i.PriceCents, i.VATRateBps, i.Active)
	if isUniqueViolation(err) {
		return ErrCodeConflict
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Item, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	return scanItem(conn.QueryRow(ctx, `SELECT `+itemCols+` FROM catalog_items WHERE id = $1`, id))
}

func (r *repoPG) GetByCode(ctx context.Context, code string) (*Item, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	return scanItem(conn.QueryRow(ctx, `SELECT `+itemCols+` FROM catalog_items WHERE code = $1`, code))
}

func (r *repoPG) Update(ctx context.Context, i *Item) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, `
		UPDATE catalog_items SET name=$2, description=$3, kind=$4, price_cents=$5,
			vat_rate_bps=$6, updated_at=NOW()
		WHERE id = $1`,
		i.ID, i.Name, i.Description, i.Kind, i.PriceCents, i.VATRateBps)
	return err
}

func (r *repoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	conn, err := r.conn(ctx)
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, `UPDATE catalog_items SET active=false, updated_at=NOW() WHERE id = $1`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, kind string, activeOnly bool, limit, offset int) ([]*Item, int, error) {
	conn, err := r.conn(ctx)
	if err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + itemCols + ` FROM catalog_items WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM catalog_items WHERE 1=1`
	var args []interface{}
	idx := 1

	if kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, idx)
		countQuery += fmt.Sprintf(` AND kind = $%d`, idx)
		args = append(args, kind)
		idx++
	}
	if activeOnly {
		query += ` AND active = true`
		countQuery += ` AND active = true`
	}

	var total int
	if err := conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY code ASC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, i)
	}
	return items, total, rows.Err()
}
