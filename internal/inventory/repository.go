package inventory

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertMovement appends a movement row.
func (r *Repository) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO inventory_movements (type, product_id, qty, unit_cost, ref_module, ref_id, note, actor_id, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		string(movement.Type), movement.ProductID, movement.Qty, movement.UnitCost,
		movement.RefModule, movement.RefID, movement.Note, movement.ActorID, movement.PostedAt).Scan(&id)
	return id, err
}

// ListByRef returns movements for a source record, oldest first.
func (r *Repository) ListByRef(ctx context.Context, refModule, refID string) ([]Movement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, type, product_id, qty, unit_cost, ref_module, ref_id, note, actor_id, posted_at
		FROM inventory_movements WHERE ref_module=$1 AND ref_id=$2 ORDER BY id ASC`,
		refModule, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		var movementType string
		if err := rows.Scan(&m.ID, &movementType, &m.ProductID, &m.Qty, &m.UnitCost,
			&m.RefModule, &m.RefID, &m.Note, &m.ActorID, &m.PostedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(movementType)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}
