package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

type memoryMovementRepo struct {
	movements []Movement
	nextID    int64
	insertErr error
}

func (r *memoryMovementRepo) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	if r.insertErr != nil {
		return 0, r.insertErr
	}
	r.nextID++
	movement.ID = r.nextID
	r.movements = append(r.movements, movement)
	return movement.ID, nil
}

func (r *memoryMovementRepo) ListByRef(ctx context.Context, refModule, refID string) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.RefModule == refModule && m.RefID == refID {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestPostInbound(t *testing.T) {
	repo := &memoryMovementRepo{}
	rec := NewRecorder(repo, nil)
	ctx := context.Background()

	refID := uuid.NewString()
	movement, err := rec.PostInbound(ctx, MovementInput{
		ProductID: 11,
		Qty:       4,
		UnitCost:  2500,
		RefModule: "PROCUREMENT",
		RefID:     refID,
		ActorID:   7,
	})
	require.NoError(t, err)
	require.NotZero(t, movement.ID)
	require.Equal(t, MovementIn, movement.Type)

	listed, err := rec.ListByRef(ctx, "PROCUREMENT", refID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestPostValidation(t *testing.T) {
	rec := NewRecorder(&memoryMovementRepo{}, nil)
	ctx := context.Background()

	_, err := rec.PostInbound(ctx, MovementInput{ProductID: 11, Qty: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = rec.PostOutbound(ctx, MovementInput{ProductID: 11, Qty: -3})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = rec.PostInbound(ctx, MovementInput{ProductID: 11, Qty: 1, UnitCost: -1})
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	_, err = rec.PostInbound(ctx, MovementInput{ProductID: 11, Qty: 1, RefID: "not-a-uuid"})
	require.Error(t, err)

	_, err = rec.PostInbound(ctx, MovementInput{Qty: 1})
	require.Error(t, err)
}

func TestPostStorageFailure(t *testing.T) {
	repo := &memoryMovementRepo{insertErr: errors.New("connection reset")}
	rec := NewRecorder(repo, nil)

	_, err := rec.PostInbound(context.Background(), MovementInput{
		ProductID: 11,
		Qty:       4,
		RefModule: "PROCUREMENT",
		RefID:     uuid.NewString(),
	})
	require.ErrorIs(t, err, shared.ErrStorageUnavailable)
}
