package permissions

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psicare/psicare/internal/platform/db"
)

// Repository abstracts permission persistence.
type Repository interface {
	List(ctx context.Context) ([]Permission, error)
	Get(ctx context.Context, id int64) (Permission, error)
	DistinctModules(ctx context.Context) ([]string, error)
	DistinctActions(ctx context.Context) ([]string, error)
	Create(ctx context.Context, p Permission) (Permission, error)
	Update(ctx context.Context, p Permission) (Permission, error)
	ToggleActive(ctx context.Context, id int64) (Permission, error)
	Delete(ctx context.Context, id int64) (bool, error)
	CountAssignments(ctx context.Context, id int64) (int, error)
}

type pgRepository struct {
	db db.DBTX
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{db: pool}
}

const permissionColumns = `id, name, description, module, action, active, created_at, updated_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Module, &p.Action, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *pgRepository) List(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY module, action, name`)
	if err != nil {
		return nil, fmt.Errorf("permissions: list: %w", db.Classify(err))
	}
	defer rows.Close()
	var out []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("permissions: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("permissions: list: %w", db.Classify(err))
	}
	return out, nil
}

func (r *pgRepository) Get(ctx context.Context, id int64) (Permission, error) {
	p, err := scanPermission(r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
	if err != nil {
		return Permission{}, fmt.Errorf("permission %d: %w", id, db.Classify(err))
	}
	return p, nil
}

func (r *pgRepository) DistinctModules(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, `SELECT DISTINCT module FROM permissions ORDER BY module`)
}

func (r *pgRepository) DistinctActions(ctx context.Context) ([]string, error) {
	return r.distinct(ctx, `SELECT DISTINCT action FROM permissions ORDER BY action`)
}

func (r *pgRepository) distinct(ctx context.Context, query string) ([]string, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("permissions: distinct: %w", db.Classify(err))
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("permissions: distinct: %w", db.Classify(err))
	}
	return values, nil
}

func (r *pgRepository) Create(ctx context.Context, p Permission) (Permission, error) {
	created, err := scanPermission(r.db.QueryRow(ctx,
		`INSERT INTO permissions (name, description, module, action, active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+permissionColumns,
		p.Name, p.Description, p.Module, p.Action, p.Active))
	if err != nil {
		return Permission{}, fmt.Errorf("permissions: create: %w", db.Classify(err))
	}
	return created, nil
}

func (r *pgRepository) Update(ctx context.Context, p Permission) (Permission, error) {
	updated, err := scanPermission(r.db.QueryRow(ctx,
		`UPDATE permissions
		 SET name = $2, description = $3, module = $4, action = $5, active = $6, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+permissionColumns,
		p.ID, p.Name, p.Description, p.Module, p.Action, p.Active))
	if err != nil {
		return Permission{}, fmt.Errorf("permission %d: update: %w", p.ID, db.Classify(err))
	}
	return updated, nil
}

func (r *pgRepository) ToggleActive(ctx context.Context, id int64) (Permission, error) {
	p, err := scanPermission(r.db.QueryRow(ctx,
		`UPDATE permissions SET active = NOT active, updated_at = NOW() WHERE id = $1 RETURNING `+permissionColumns, id))
	if err != nil {
		return Permission{}, fmt.Errorf("permission %d: toggle: %w", id, db.Classify(err))
	}
	return p, nil
}

func (r *pgRepository) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("permission %d: delete: %w", id, db.Classify(err))
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgRepository) CountAssignments(ctx context.Context, id int64) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("permission %d: count assignments: %w", id, db.Classify(err))
	}
	return n, nil
}
