package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/platform/lock"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseItem, error)
	ListReceipts(ctx context.Context, orderID int64) ([]ReceivedStock, error)
	GetReceipt(ctx context.Context, id int64) (ReceivedStock, error)
	FindItem(ctx context.Context, itemID int64) (PurchaseItem, error)
	ListOpenOrders(ctx context.Context) ([]PurchaseOrder, error)
	ListOrders(ctx context.Context, filters ListFilters) ([]PurchaseOrder, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreateOrder(ctx context.Context, order PurchaseOrder) (int64, error)
	InsertItem(ctx context.Context, item PurchaseItem) (int64, error)
	ReplaceItems(ctx context.Context, orderID int64, items []PurchaseItem) error
	UpdateHeader(ctx context.Context, order PurchaseOrder) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
	MarkPlaced(ctx context.Context, id int64, at time.Time) error
	DeleteOrder(ctx context.Context, id int64) error
	GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, []PurchaseItem, error)
	ListReceipts(ctx context.Context, orderID int64) ([]ReceivedStock, error)
	GetReceipt(ctx context.Context, id int64) (ReceivedStock, error)
	InsertReceipt(ctx context.Context, receipt ReceivedStock) (int64, error)
	DeleteReceipt(ctx context.Context, id int64) error
	AppendAudit(ctx context.Context, entry audit.Entry) error
}

// InventoryPort is the sole bridge into inventory-on-hand accounting.
type InventoryPort interface {
	PostInbound(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error)
	PostOutbound(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error)
}

// NumberPort allocates fiscal document numbers for orders and receipts.
type NumberPort interface {
	AllocateInvoiceNumber(ctx context.Context, counterID string) (int64, error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// OrderCounterID numbers new orders from the given counter instead of
	// the timestamp fallback. Empty disables allocator-backed numbering.
	OrderCounterID string
	// ReceiptCounterID enables document numbers on received-stock records,
	// drawn from the given counter. Empty disables receipt numbering.
	ReceiptCounterID string
}

// Service drives the purchase-order lifecycle and receiving
// reconciliation. Every mutation runs under the order's per-resource lock
// in one repeatable-read transaction; the audit entry is appended through
// the same transaction, so an audit failure rolls the mutation back.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	numbers   NumberPort
	locks     lock.Locker
	validate  *validator.Validate
	cfg       ServiceConfig
	now       func() time.Time
}

// NewService constructs the purchase-order engine. numbers may be nil when
// document numbering is disabled.
func NewService(repo RepositoryPort, inv InventoryPort, numbers NumberPort, locks lock.Locker, cfg ServiceConfig) *Service {
	return &Service{
		repo:      repo,
		inventory: inv,
		numbers:   numbers,
		locks:     locks,
		validate:  validator.New(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func orderLockKey(orderID int64) string {
	return fmt.Sprintf("po:%d:lock", orderID)
}

func orderSubjectRef(orderID int64) string {
	return fmt.Sprintf("po:%d", orderID)
}

func itemInOrder(items []PurchaseItem, itemID int64) (PurchaseItem, error) {
	for _, it := range items {
		if it.ID == itemID {
			return it, nil
		}
	}
	return PurchaseItem{}, ErrNotFound
}

// CreateOrderInput describes creation payload.
type CreateOrderInput struct {
	Number     string
	SupplierID int64 `validate:"required"`
	CreatedBy  int64 `validate:"required"`
	Note       string
	Items      []ItemInput `validate:"required,min=1,dive"`
}

// ItemInput describes one ordered line.
type ItemInput struct {
	ProductID  int64   `validate:"required"`
	OrderedQty float64 `validate:"gt=0"`
	UnitCost   float64 `validate:"gte=0"`
}

// CreateOrder persists a draft order with its items.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (PurchaseOrder, error) {
	if err := s.validate.Struct(input); err != nil {
		return PurchaseOrder{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if input.Number == "" {
		if s.numbers != nil && s.cfg.OrderCounterID != "" {
			num, err := s.numbers.AllocateInvoiceNumber(ctx, s.cfg.OrderCounterID)
			if err != nil {
				return PurchaseOrder{}, err
			}
			input.Number = fmt.Sprintf("PO-%d", num)
		} else {
			input.Number = s.generateNumber("PO")
		}
	}
	order := PurchaseOrder{
		Number:     input.Number,
		SupplierID: input.SupplierID,
		Status:     StatusDraft,
		CreatedBy:  input.CreatedBy,
		Note:       input.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		orderID, err := tx.CreateOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = orderID
		for _, line := range input.Items {
			if _, err := tx.InsertItem(ctx, PurchaseItem{
				OrderID:    orderID,
				ProductID:  line.ProductID,
				OrderedQty: line.OrderedQty,
				UnitCost:   line.UnitCost,
			}); err != nil {
				return err
			}
		}
		return tx.AppendAudit(ctx, audit.Entry{
			SubjectRef: orderSubjectRef(orderID),
			Action:     audit.ActionCreated,
			ActorID:    input.CreatedBy,
			At:         s.now(),
			DataAfter:  map[string]any{"number": order.Number, "supplier_id": order.SupplierID, "items": len(input.Items)},
		})
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return order, nil
}

// UpdateDraftInput describes a draft edit.
type UpdateDraftInput struct {
	OrderID    int64 `validate:"required"`
	SupplierID int64 `validate:"required"`
	ActorID    int64 `validate:"required"`
	Note       string
	Items      []ItemInput `validate:"required,min=1,dive"`
}

// UpdateDraft replaces the header and items of a draft order. Anything
// past DRAFT is a settled fiscal record and cannot be rewritten here.
func (s *Service) UpdateDraft(ctx context.Context, input UpdateDraftInput) error {
	if err := s.validate.Struct(input); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.locks.WithLock(ctx, orderLockKey(input.OrderID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			order, items, err := tx.GetOrderForUpdate(ctx, input.OrderID)
			if err != nil {
				return err
			}
			if order.Status != StatusDraft {
				return ErrInvalidState
			}
			before := map[string]any{"supplier_id": order.SupplierID, "note": order.Note, "items": len(items)}
			order.SupplierID = input.SupplierID
			order.Note = input.Note
			if err := tx.UpdateHeader(ctx, order); err != nil {
				return err
			}
			replacement := make([]PurchaseItem, 0, len(input.Items))
			for _, line := range input.Items {
				replacement = append(replacement, PurchaseItem{
					OrderID:    order.ID,
					ProductID:  line.ProductID,
					OrderedQty: line.OrderedQty,
					UnitCost:   line.UnitCost,
				})
			}
			if err := tx.ReplaceItems(ctx, order.ID, replacement); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, audit.Entry{
				SubjectRef: orderSubjectRef(order.ID),
				Action:     audit.ActionUpdated,
				ActorID:    input.ActorID,
				At:         s.now(),
				DataBefore: before,
				DataAfter:  map[string]any{"supplier_id": input.SupplierID, "note": input.Note, "items": len(input.Items)},
			})
		})
	})
}

// Place transitions DRAFT to ORDERED. Item quantities become read-only;
// from here only receiving moves the order forward.
func (s *Service) Place(ctx context.Context, orderID int64, actorID int64) error {
	return s.locks.WithLock(ctx, orderLockKey(orderID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			order, items, err := tx.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if order.Status != StatusDraft {
				return ErrInvalidState
			}
			placeable := false
			for _, item := range items {
				if item.OrderedQty > 0 {
					placeable = true
					break
				}
			}
			if !placeable {
				return ErrEmptyOrder
			}
			if err := tx.MarkPlaced(ctx, orderID, s.now()); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, audit.Entry{
				SubjectRef: orderSubjectRef(orderID),
				Action:     audit.ActionUpdated,
				ActorID:    actorID,
				At:         s.now(),
				DataBefore: map[string]any{"status": string(StatusDraft)},
				DataAfter:  map[string]any{"status": string(StatusOrdered)},
			})
		})
	})
}

// Cancel terminates the order. Completed orders are settled and cannot be
// cancelled; cancellation itself is terminal.
func (s *Service) Cancel(ctx context.Context, orderID int64, actorID int64) error {
	return s.locks.WithLock(ctx, orderLockKey(orderID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			order, _, err := tx.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if order.Status.Terminal() {
				return ErrInvalidState
			}
			if err := tx.UpdateStatus(ctx, orderID, StatusCancelled); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, audit.Entry{
				SubjectRef: orderSubjectRef(orderID),
				Action:     audit.ActionUpdated,
				ActorID:    actorID,
				At:         s.now(),
				DataBefore: map[string]any{"status": string(order.Status)},
				DataAfter:  map[string]any{"status": string(StatusCancelled)},
			})
		})
	})
}

// DeleteOrder removes a draft order entirely. Placed orders are fiscal
// records and can only be cancelled, never erased.
func (s *Service) DeleteOrder(ctx context.Context, orderID int64, actorID int64) error {
	return s.locks.WithLock(ctx, orderLockKey(orderID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			order, _, err := tx.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if order.Status != StatusDraft {
				return ErrInvalidState
			}
			if err := tx.DeleteOrder(ctx, orderID); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, audit.Entry{
				SubjectRef: orderSubjectRef(orderID),
				Action:     audit.ActionOther,
				ActorID:    actorID,
				At:         s.now(),
				DataBefore: map[string]any{"number": order.Number, "status": string(order.Status)},
			})
		})
	})
}

// ReceiveInput describes one incoming shipment against an item.
type ReceiveInput struct {
	ItemID  int64   `validate:"required"`
	Qty     float64 `validate:"gt=0"`
	ActorID int64   `validate:"required"`
}

// AddReceivedStock records a shipment, re-derives the order status, and
// emits a StockIn movement, as one atomic unit.
func (s *Service) AddReceivedStock(ctx context.Context, input ReceiveInput) (ReceivedStock, error) {
	if err := s.validate.Struct(input); err != nil {
		return ReceivedStock{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	item, err := s.repo.FindItem(ctx, input.ItemID)
	if err != nil {
		return ReceivedStock{}, err
	}

	// Receipt document numbers come from the allocator's own critical
	// section, never from inside the order's. A receipt that fails after
	// this point leaves a numbering gap, never a duplicate.
	var docNumber string
	if s.numbers != nil && s.cfg.ReceiptCounterID != "" {
		num, err := s.numbers.AllocateInvoiceNumber(ctx, s.cfg.ReceiptCounterID)
		if err != nil {
			return ReceivedStock{}, err
		}
		docNumber = fmt.Sprintf("RCV-%d", num)
	}

	receipt := ReceivedStock{
		OrderID:    item.OrderID,
		ItemID:     item.ID,
		Qty:        input.Qty,
		DocNumber:  docNumber,
		ReceivedBy: input.ActorID,
		ReceivedAt: s.now(),
	}
	err = s.locks.WithLock(ctx, orderLockKey(item.OrderID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			order, items, err := tx.GetOrderForUpdate(ctx, item.OrderID)
			if err != nil {
				return err
			}
			if order.Status != StatusOrdered && order.Status != StatusReceivedPartial {
				return ErrInvalidState
			}
			// The pre-lock fetch only located the order. Quantities must
			// come from the rows read under the lock, or a concurrent
			// draft edit would leave the over-receipt check stale.
			item, err := itemInOrder(items, input.ItemID)
			if err != nil {
				return err
			}
			receipts, err := tx.ListReceipts(ctx, order.ID)
			if err != nil {
				return err
			}
			if ReceivedTotal(item.ID, receipts)+input.Qty > item.OrderedQty+qtyEpsilon {
				return ErrOverReceipt
			}
			receiptID, err := tx.InsertReceipt(ctx, receipt)
			if err != nil {
				return err
			}
			receipt.ID = receiptID

			newStatus := ReconcileStatus(items, append(receipts, receipt))
			if newStatus != order.Status {
				if err := tx.UpdateStatus(ctx, order.ID, newStatus); err != nil {
					return err
				}
			}
			if err := tx.AppendAudit(ctx, audit.Entry{
				SubjectRef: orderSubjectRef(order.ID),
				Action:     audit.ActionUpdated,
				ActorID:    input.ActorID,
				At:         s.now(),
				DataBefore: map[string]any{"status": string(order.Status)},
				DataAfter:  map[string]any{"status": string(newStatus), "item_id": item.ID, "qty": input.Qty},
			}); err != nil {
				return err
			}
			refID := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("RCV:%d:%d", order.ID, receiptID)))
			_, err = s.inventory.PostInbound(ctx, inventory.MovementInput{
				ProductID: item.ProductID,
				Qty:       input.Qty,
				UnitCost:  item.UnitCost,
				RefModule: "PROCUREMENT",
				RefID:     refID.String(),
				Note:      fmt.Sprintf("PO %s receipt", order.Number),
				ActorID:   input.ActorID,
			})
			return err
		})
	})
	if err != nil {
		return ReceivedStock{}, err
	}
	return receipt, nil
}

// DeleteReceivedStock reverses a recorded shipment: the receipt is
// removed, status is re-derived downward, and a compensating StockOut
// movement is emitted.
func (s *Service) DeleteReceivedStock(ctx context.Context, receiptID int64, actorID int64) error {
	receipt, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return err
	}
	return s.locks.WithLock(ctx, orderLockKey(receipt.OrderID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			order, items, err := tx.GetOrderForUpdate(ctx, receipt.OrderID)
			if err != nil {
				return err
			}
			if order.Status == StatusCancelled {
				return ErrOrderCancelled
			}
			current, err := tx.GetReceipt(ctx, receiptID)
			if err != nil {
				return err
			}
			if err := tx.DeleteReceipt(ctx, receiptID); err != nil {
				return err
			}
			receipts, err := tx.ListReceipts(ctx, order.ID)
			if err != nil {
				return err
			}
			newStatus := ReconcileStatus(items, receipts)
			if newStatus != order.Status {
				if err := tx.UpdateStatus(ctx, order.ID, newStatus); err != nil {
					return err
				}
			}
			if err := tx.AppendAudit(ctx, audit.Entry{
				SubjectRef: orderSubjectRef(order.ID),
				Action:     audit.ActionUpdated,
				ActorID:    actorID,
				At:         s.now(),
				DataBefore: map[string]any{"status": string(order.Status), "receipt_id": receiptID, "qty": current.Qty},
				DataAfter:  map[string]any{"status": string(newStatus)},
			}); err != nil {
				return err
			}
			var product PurchaseItem
			for _, item := range items {
				if item.ID == current.ItemID {
					product = item
					break
				}
			}
			refID := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("RCV-DEL:%d:%d", order.ID, receiptID)))
			_, err = s.inventory.PostOutbound(ctx, inventory.MovementInput{
				ProductID: product.ProductID,
				Qty:       current.Qty,
				UnitCost:  product.UnitCost,
				RefModule: "PROCUREMENT",
				RefID:     refID.String(),
				Note:      fmt.Sprintf("PO %s receipt reversal", order.Number),
				ActorID:   actorID,
			})
			return err
		})
	})
}

// GetOrder returns the order with its items.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (PurchaseOrder, []PurchaseItem, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// ReconciliationReport compares a stored status against the recomputed one.
type ReconciliationReport struct {
	OrderID int64
	Stored  Status
	Derived Status
	Drifted bool
}

// VerifyOrder recomputes one order's status from its receipts. Draft and
// cancelled orders have no derived status and never drift.
func (s *Service) VerifyOrder(ctx context.Context, orderID int64) (ReconciliationReport, error) {
	order, items, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return ReconciliationReport{}, err
	}
	report := ReconciliationReport{OrderID: orderID, Stored: order.Status}
	if order.Status == StatusDraft || order.Status == StatusCancelled {
		report.Derived = order.Status
		return report, nil
	}
	receipts, err := s.repo.ListReceipts(ctx, orderID)
	if err != nil {
		return ReconciliationReport{}, err
	}
	report.Derived = ReconcileStatus(items, receipts)
	report.Drifted = report.Derived != report.Stored
	return report, nil
}

// ListOpenOrders returns orders that still expect receipts.
func (s *Service) ListOpenOrders(ctx context.Context) ([]PurchaseOrder, error) {
	return s.repo.ListOpenOrders(ctx)
}

// ListFilters narrows the order listing.
type ListFilters struct {
	Status     Status
	SupplierID int64
	Page       int
	PageSize   int
}

// ListResult wraps one page of orders.
type ListResult struct {
	Orders   []PurchaseOrder
	Page     int
	PageSize int
	HasNext  bool
}

// ListOrders returns a filtered page of orders, newest first.
func (s *Service) ListOrders(ctx context.Context, filters ListFilters) (ListResult, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	window := filters
	window.Page = page
	window.PageSize = pageSize

	orders, err := s.repo.ListOrders(ctx, window)
	if err != nil {
		return ListResult{}, err
	}
	hasNext := len(orders) > pageSize
	if hasNext {
		orders = orders[:pageSize]
	}
	return ListResult{Orders: orders, Page: page, PageSize: pageSize, HasNext: hasNext}, nil
}

func (s *Service) generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, s.now().UnixNano())
}
