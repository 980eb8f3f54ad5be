package inventory

import (
	"errors"
	"time"
)

// MovementType enumerates supported inventory movements.
type MovementType string

const (
	// MovementIn represents stock entering on-hand accounting.
	MovementIn MovementType = "IN"
	// MovementOut represents stock leaving, including compensations.
	MovementOut MovementType = "OUT"
)

// Movement is one inventory movement event. On-hand balances are owned by
// the external inventory system; this ledger is the bridge into it.
type Movement struct {
	ID        int64
	Type      MovementType
	ProductID int64
	Qty       float64
	UnitCost  float64
	RefModule string
	RefID     string
	Note      string
	ActorID   int64
	PostedAt  time.Time
}

// MovementInput describes a movement to post.
type MovementInput struct {
	ProductID int64
	Qty       float64
	UnitCost  float64
	RefModule string
	RefID     string
	Note      string
	ActorID   int64
}

// ErrInvalidQuantity indicates invalid qty.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// ErrInvalidUnitCost indicates invalid cost value.
var ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
