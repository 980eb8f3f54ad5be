package procurement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// Repository is the Postgres-backed implementation of RepositoryPort.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const orderColumns = `id, number, supplier_id, status, created_by, ordered_at, note`

func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	items, err := listItems(ctx, r.pool, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return order, items, nil
}

func (r *Repository) ListReceipts(ctx context.Context, orderID int64) ([]ReceivedStock, error) {
	return listReceipts(ctx, r.pool, orderID)
}

func (r *Repository) GetReceipt(ctx context.Context, id int64) (ReceivedStock, error) {
	return getReceipt(ctx, r.pool, id)
}

func (r *Repository) FindItem(ctx context.Context, itemID int64) (PurchaseItem, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, order_id, product_id, ordered_qty, unit_cost
		FROM purchase_items WHERE id = $1`, itemID)
	return scanItem(row)
}

func (r *Repository) ListOpenOrders(ctx context.Context) ([]PurchaseOrder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM purchase_orders
		WHERE status IN ($1, $2)
		ORDER BY id`, StatusOrdered, StatusReceivedPartial)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	defer rows.Close()

	var orders []PurchaseOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (r *Repository) ListOrders(ctx context.Context, filters ListFilters) ([]PurchaseOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM purchase_orders WHERE 1=1`
	args := make([]any, 0, 4)
	argNum := 1
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filters.Status)
		argNum++
	}
	if filters.SupplierID != 0 {
		query += fmt.Sprintf(" AND supplier_id = $%d", argNum)
		args = append(args, filters.SupplierID)
		argNum++
	}
	// One extra row signals a next page.
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filters.PageSize+1, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []PurchaseOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) CreateOrder(ctx context.Context, order PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (number, supplier_id, status, created_by, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		order.Number, order.SupplierID, order.Status, order.CreatedBy, order.Note,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create order: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertItem(ctx context.Context, item PurchaseItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_items (order_id, product_id, ordered_qty, unit_cost)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		item.OrderID, item.ProductID, item.OrderedQty, item.UnitCost,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	return id, nil
}

func (t *txRepo) ReplaceItems(ctx context.Context, orderID int64, items []PurchaseItem) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_items WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("replace items: %w", err)
	}
	for _, item := range items {
		if _, err := t.InsertItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) UpdateHeader(ctx context.Context, order PurchaseOrder) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE purchase_orders SET supplier_id = $2, note = $3 WHERE id = $1`,
		order.ID, order.SupplierID, order.Note)
	if err != nil {
		return fmt.Errorf("update header: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) MarkPlaced(ctx context.Context, id int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE purchase_orders SET status = $2, ordered_at = $3 WHERE id = $1`,
		id, StatusOrdered, at)
	if err != nil {
		return fmt.Errorf("mark placed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) DeleteOrder(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_items WHERE order_id = $1`, id); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, []PurchaseItem, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id)
	order, err := scanOrder(row)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	items, err := listItems(ctx, t.tx, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return order, items, nil
}

func (t *txRepo) ListReceipts(ctx context.Context, orderID int64) ([]ReceivedStock, error) {
	return listReceipts(ctx, t.tx, orderID)
}

func (t *txRepo) GetReceipt(ctx context.Context, id int64) (ReceivedStock, error) {
	return getReceipt(ctx, t.tx, id)
}

func (t *txRepo) InsertReceipt(ctx context.Context, receipt ReceivedStock) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO received_stocks (order_id, item_id, qty, doc_number, received_by, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		receipt.OrderID, receipt.ItemID, receipt.Qty, receipt.DocNumber, receipt.ReceivedBy, receipt.ReceivedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert receipt: %w", err)
	}
	return id, nil
}

func (t *txRepo) DeleteReceipt(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM received_stocks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) AppendAudit(ctx context.Context, entry audit.Entry) error {
	before, err := snapshotJSON(entry.DataBefore)
	if err != nil {
		return err
	}
	after, err := snapshotJSON(entry.DataAfter)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO audit_entries (subject_ref, action, actor_id, at, data_before, data_after)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.SubjectRef, string(entry.Action), entry.ActorID, entry.At, before, after)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func snapshotJSON(data map[string]any) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("append audit: %w", err)
	}
	return raw, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func listItems(ctx context.Context, q querier, orderID int64) ([]PurchaseItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, ordered_qty, unit_cost
		FROM purchase_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []PurchaseItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func listReceipts(ctx context.Context, q querier, orderID int64) ([]ReceivedStock, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, item_id, qty, doc_number, received_by, received_at
		FROM received_stocks WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []ReceivedStock
	for rows.Next() {
		var rec ReceivedStock
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.ItemID, &rec.Qty, &rec.DocNumber, &rec.ReceivedBy, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		receipts = append(receipts, rec)
	}
	return receipts, rows.Err()
}

func getReceipt(ctx context.Context, q querier, id int64) (ReceivedStock, error) {
	var rec ReceivedStock
	err := q.QueryRow(ctx, `
		SELECT id, order_id, item_id, qty, doc_number, received_by, received_at
		FROM received_stocks WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.OrderID, &rec.ItemID, &rec.Qty, &rec.DocNumber, &rec.ReceivedBy, &rec.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReceivedStock{}, ErrNotFound
	}
	if err != nil {
		return ReceivedStock{}, fmt.Errorf("get receipt: %w", err)
	}
	return rec, nil
}

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var order PurchaseOrder
	err := row.Scan(&order.ID, &order.Number, &order.SupplierID, &order.Status, &order.CreatedBy, &order.OrderedAt, &order.Note)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrNotFound
	}
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("scan order: %w", err)
	}
	return order, nil
}

func scanItem(row pgx.Row) (PurchaseItem, error) {
	var item PurchaseItem
	err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.OrderedQty, &item.UnitCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseItem{}, ErrNotFound
	}
	if err != nil {
		return PurchaseItem{}, fmt.Errorf("scan item: %w", err)
	}
	return item, nil
}
