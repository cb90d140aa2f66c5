package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psicare/psicare/internal/platform/db"
)

// WindowParams is the query shape of one timeline window. Invalid fields are
// left out of the filter.
type WindowParams struct {
	From   pgtype.Timestamptz
	To     pgtype.Timestamptz
	Actor  pgtype.Int8
	Entity pgtype.Text
	Action pgtype.Text
	Offset int32
	Limit  int32
}

// Repository reads audit_logs.
type Repository interface {
	Window(ctx context.Context, arg WindowParams) ([]TimelineRow, error)
}

type pgRepository struct {
	db db.DBTX
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{db: pool}
}

const windowQuery = `
SELECT occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR action = $5)
ORDER BY occurred_at DESC, id DESC
OFFSET $6 LIMIT $7`

func (r *pgRepository) Window(ctx context.Context, arg WindowParams) ([]TimelineRow, error) {
	rows, err := r.db.Query(ctx, windowQuery, arg.From, arg.To, arg.Actor, arg.Entity, arg.Action, arg.Offset, arg.Limit)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline: %w", db.Classify(err))
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[TimelineRow])
	if err != nil {
		return nil, fmt.Errorf("audit: timeline: %w", db.Classify(err))
	}
	return out, nil
}
