package procurement

import (
	"errors"
	"fmt"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Purchase order lifecycle statuses.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusOrdered         Status = "ORDERED"
	StatusReceivedPartial Status = "RECEIVED_PARTIAL"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
)

// Terminal reports whether no transition can leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID         int64
	Number     string
	SupplierID int64
	Status     Status
	CreatedBy  int64
	OrderedAt  time.Time
	Note       string
}

// PurchaseItem represents one ordered line. Quantities become read-only
// once the order is placed; only receiving moves them toward completion.
type PurchaseItem struct {
	ID         int64
	OrderID    int64
	ProductID  int64
	OrderedQty float64
	UnitCost   float64
}

// ReceivedStock records one shipment against a purchase item. Several
// records may target the same item across partial deliveries.
type ReceivedStock struct {
	ID         int64
	OrderID    int64
	ItemID     int64
	Qty        float64
	DocNumber  string
	ReceivedBy int64
	ReceivedAt time.Time
}

var (
	// ErrInvalidState occurs when action violates the status workflow.
	ErrInvalidState = errors.New("procurement: invalid state transition")
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("procurement: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrEmptyOrder indicates placing an order without a positive-quantity item.
	ErrEmptyOrder = errors.New("procurement: order has no items to place")
	// ErrOverReceipt indicates cumulative receipts would exceed the ordered quantity.
	ErrOverReceipt = errors.New("procurement: received quantity exceeds ordered")
	// ErrOrderCancelled indicates a receipt mutation against a cancelled order.
	ErrOrderCancelled = errors.New("procurement: order cancelled")
)

const qtyEpsilon = 1e-9

// ReconcileStatus derives an order's post-placement status from its
// current items and receipts. It is recomputed on every mutation instead
// of stored transition flags, so status can never drift from quantities.
func ReconcileStatus(items []PurchaseItem, receipts []ReceivedStock) Status {
	if len(receipts) == 0 {
		return StatusOrdered
	}
	received := make(map[int64]float64, len(items))
	for _, r := range receipts {
		received[r.ItemID] += r.Qty
	}
	for _, item := range items {
		if received[item.ID]+qtyEpsilon < item.OrderedQty {
			return StatusReceivedPartial
		}
	}
	return StatusCompleted
}

// ReceivedTotal sums receipt quantities for one item.
func ReceivedTotal(itemID int64, receipts []ReceivedStock) float64 {
	var total float64
	for _, r := range receipts {
		if r.ItemID == itemID {
			total += r.Qty
		}
	}
	return total
}
