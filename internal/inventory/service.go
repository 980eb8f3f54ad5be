package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for the recorder.
type RepositoryPort interface {
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
	ListByRef(ctx context.Context, refModule, refID string) ([]Movement, error)
}

// Recorder appends inventory movement events.
type Recorder struct {
	repo        RepositoryPort
	idempotency *shared.IdempotencyStore
	now         func() time.Time
}

// NewRecorder builds a Recorder.
func NewRecorder(repo RepositoryPort, idem *shared.IdempotencyStore) *Recorder {
	return &Recorder{repo: repo, idempotency: idem, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (r *Recorder) WithNow(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// PostInbound records a StockIn movement.
func (r *Recorder) PostInbound(ctx context.Context, input MovementInput) (Movement, error) {
	return r.post(ctx, MovementIn, input)
}

// PostOutbound records a compensating StockOut movement.
func (r *Recorder) PostOutbound(ctx context.Context, input MovementInput) (Movement, error) {
	return r.post(ctx, MovementOut, input)
}

// ListByRef returns movements referencing the given source record.
func (r *Recorder) ListByRef(ctx context.Context, refModule, refID string) ([]Movement, error) {
	return r.repo.ListByRef(ctx, refModule, refID)
}

func (r *Recorder) post(ctx context.Context, movementType MovementType, input MovementInput) (Movement, error) {
	if input.ProductID == 0 {
		return Movement{}, errors.New("inventory: product required")
	}
	if input.Qty <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	if input.UnitCost < 0 {
		return Movement{}, ErrInvalidUnitCost
	}
	if input.RefID != "" {
		if _, err := uuid.Parse(input.RefID); err != nil {
			return Movement{}, fmt.Errorf("inventory: invalid ref id: %w", err)
		}
	}
	movement := Movement{
		Type:      movementType,
		ProductID: input.ProductID,
		Qty:       input.Qty,
		UnitCost:  input.UnitCost,
		RefModule: input.RefModule,
		RefID:     input.RefID,
		Note:      input.Note,
		ActorID:   input.ActorID,
		PostedAt:  r.now().UTC(),
	}

	insertedKey := false
	key := fmt.Sprintf("%s:%s:%s:%d", movementType, input.RefModule, input.RefID, input.ProductID)
	if r.idempotency != nil && input.RefID != "" {
		if err := r.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return Movement{}, err
		}
		insertedKey = true
	}

	id, err := r.repo.InsertMovement(ctx, movement)
	if err != nil {
		if insertedKey {
			_ = r.idempotency.Delete(ctx, key)
		}
		return Movement{}, fmt.Errorf("%w: insert movement: %v", shared.ErrStorageUnavailable, err)
	}
	movement.ID = id
	return movement, nil
}
