package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psicare/psicare/internal/platform/db"
	"github.com/psicare/psicare/internal/platform/httpx"
)

// Repository abstracts role persistence.
type Repository interface {
	// List returns every role with its permission set embedded.
	List(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	Create(ctx context.Context, role Role) (Role, error)
	// Update rewrites the role row and replaces its assignments.
	Update(ctx context.Context, role Role) (Role, error)
	ToggleActive(ctx context.Context, id int64) (Role, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const roleColumns = `r.id, r.name, r.description, r.active, r.is_system_defined, r.created_at, r.updated_at`

const rolePermissionsJSON = `COALESCE(json_agg(json_build_object(
		'id', p.id, 'name', p.name, 'description', p.description,
		'module', p.module, 'action', p.action, 'active', p.active,
		'createdAt', p.created_at, 'updatedAt', p.updated_at) ORDER BY p.id)
	FILTER (WHERE p.id IS NOT NULL), '[]'::json)`

const roleWithPermissions = `SELECT ` + roleColumns + `, ` + rolePermissionsJSON + `
	FROM roles r
	LEFT JOIN role_permissions rp ON rp.role_id = r.id
	LEFT JOIN permissions p ON p.id = rp.permission_id`

func scanRole(row pgx.Row) (Role, error) {
	var (
		role  Role
		perms []byte
	)
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.Active, &role.IsSystemDefined, &role.CreatedAt, &role.UpdatedAt, &perms); err != nil {
		return Role{}, err
	}
	if err := json.Unmarshal(perms, &role.Permissions); err != nil {
		return Role{}, fmt.Errorf("roles: decode permissions: %w", err)
	}
	role.PermissionIDs = permissionIDs(role.Permissions)
	return role, nil
}

func (r *pgRepository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, roleWithPermissions+` GROUP BY r.id ORDER BY r.name`)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", db.Classify(err))
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("roles: scan: %w", err)
		}
		out = append(out, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roles: list: %w", db.Classify(err))
	}
	return out, nil
}

func (r *pgRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	return getRole(ctx, r.pool, id)
}

func getRole(ctx context.Context, conn db.DBTX, id int64) (Role, error) {
	role, err := scanRole(conn.QueryRow(ctx, roleWithPermissions+` WHERE r.id = $1 GROUP BY r.id`, id))
	if err != nil {
		return Role{}, fmt.Errorf("role %d: %w", id, db.Classify(err))
	}
	return role, nil
}

func (r *pgRepository) Create(ctx context.Context, role Role) (Role, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, description, active) VALUES ($1, $2, $3) RETURNING id`,
		role.Name, role.Description, role.Active).Scan(&id)
	if err != nil {
		return Role{}, fmt.Errorf("roles: create: %w", db.Classify(err))
	}
	return r.GetRole(ctx, id)
}

func (r *pgRepository) Update(ctx context.Context, role Role) (Role, error) {
	var updated Role
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE roles SET name = $2, description = $3, active = $4, updated_at = NOW() WHERE id = $1`,
			role.ID, role.Name, role.Description, role.Active)
		if err != nil {
			return db.Classify(err)
		}
		if tag.RowsAffected() == 0 {
			return httpx.ErrNotFound
		}
		ids := uniqueIDs(role.PermissionIDs)
		if err := ensurePermissionsExist(ctx, tx, ids); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, role.ID); err != nil {
			return db.Classify(err)
		}
		if len(ids) > 0 {
			if _, err := tx.Exec(ctx,
				`INSERT INTO role_permissions (role_id, permission_id) SELECT $1, unnest($2::bigint[])`,
				role.ID, ids); err != nil {
				return db.Classify(err)
			}
		}
		updated, err = getRole(ctx, tx, role.ID)
		return err
	})
	if err != nil {
		return Role{}, fmt.Errorf("role %d: update: %w", role.ID, err)
	}
	return updated, nil
}

func ensurePermissionsExist(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := tx.Query(ctx, `SELECT id FROM permissions WHERE id = ANY($1)`, ids)
	if err != nil {
		return db.Classify(err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return db.Classify(err)
	}
	for _, id := range ids {
		if !slices.Contains(found, id) {
			return fmt.Errorf("%w: unknown permission id %d", httpx.ErrValidation, id)
		}
	}
	return nil
}

func (r *pgRepository) ToggleActive(ctx context.Context, id int64) (Role, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET active = NOT active, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return Role{}, fmt.Errorf("role %d: toggle: %w", id, db.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return Role{}, fmt.Errorf("role %d: %w", id, httpx.ErrNotFound)
	}
	return r.GetRole(ctx, id)
}

func (r *pgRepository) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1 AND NOT is_system_defined`, id)
	if err != nil {
		return false, fmt.Errorf("role %d: delete: %w", id, db.Classify(err))
	}
	return tag.RowsAffected() > 0, nil
}

func uniqueIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

