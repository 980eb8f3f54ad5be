package sequence

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetCounter returns the counter snapshot outside any transaction.
func (r *Repository) GetCounter(ctx context.Context, id string) (Counter, error) {
	return scanCounter(r.pool.QueryRow(ctx,
		`SELECT id, current_number, updated_at FROM counters WHERE id=$1`, id))
}

// GetActiveBook returns the active book snapshot.
func (r *Repository) GetActiveBook(ctx context.Context) (SerialBook, error) {
	return scanBook(r.pool.QueryRow(ctx,
		`SELECT id, serial_start, serial_end, current_serial, active, depleted, issued_at
		FROM serial_books WHERE active LIMIT 1`))
}

// ListBooks returns every registered book, newest first.
func (r *Repository) ListBooks(ctx context.Context) ([]SerialBook, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, serial_start, serial_end, current_serial, active, depleted, issued_at
		FROM serial_books ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var books []SerialBook
	for rows.Next() {
		var b SerialBook
		var issuedAt *time.Time
		if err := rows.Scan(&b.ID, &b.SerialStart, &b.SerialEnd, &b.CurrentSerial, &b.Active, &b.Depleted, &issuedAt); err != nil {
			return nil, err
		}
		if issuedAt != nil {
			b.IssuedAt = *issuedAt
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func (t *txRepo) GetCounterForUpdate(ctx context.Context, id string) (Counter, error) {
	return scanCounter(t.tx.QueryRow(ctx,
		`SELECT id, current_number, updated_at FROM counters WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) UpdateCounter(ctx context.Context, id string, value int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE counters SET current_number=$2, updated_at=$3 WHERE id=$1 AND current_number < $2`,
		id, value, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoSuchCounter
	}
	return nil
}

func (t *txRepo) InsertCounter(ctx context.Context, counter Counter) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO counters (id, current_number, updated_at) VALUES ($1, $2, $3)`,
		counter.ID, counter.CurrentNumber, counter.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrCounterExists
		}
		return err
	}
	return nil
}

func (t *txRepo) GetActiveBookForUpdate(ctx context.Context) (SerialBook, error) {
	book, err := scanBook(t.tx.QueryRow(ctx,
		`SELECT id, serial_start, serial_end, current_serial, active, depleted, issued_at
		FROM serial_books WHERE active LIMIT 1 FOR UPDATE`))
	if errors.Is(err, ErrNotFound) {
		return SerialBook{}, ErrNoActiveSerialBook
	}
	return book, err
}

func (t *txRepo) GetBookForUpdate(ctx context.Context, id int64) (SerialBook, error) {
	return scanBook(t.tx.QueryRow(ctx,
		`SELECT id, serial_start, serial_end, current_serial, active, depleted, issued_at
		FROM serial_books WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) AnyActiveBook(ctx context.Context) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM serial_books WHERE active)`).Scan(&exists)
	return exists, err
}

func (t *txRepo) AdvanceBook(ctx context.Context, id int64, cursor string, active, depleted bool) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE serial_books SET current_serial=$2, active=$3, depleted=$4 WHERE id=$1`,
		id, cursor, active, depleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) SetBookActive(ctx context.Context, id int64, active bool, issuedAt time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE serial_books SET active=$2, issued_at=$3 WHERE id=$1`,
		id, active, issuedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertBook(ctx context.Context, book SerialBook) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO serial_books (serial_start, serial_end, current_serial, active, depleted)
		VALUES ($1, $2, $3, false, false) RETURNING id`,
		book.SerialStart, book.SerialEnd, book.CurrentSerial).Scan(&id)
	return id, err
}

func scanCounter(row pgx.Row) (Counter, error) {
	var c Counter
	if err := row.Scan(&c.ID, &c.CurrentNumber, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Counter{}, ErrNoSuchCounter
		}
		return Counter{}, err
	}
	return c, nil
}

func scanBook(row pgx.Row) (SerialBook, error) {
	var b SerialBook
	var issuedAt *time.Time
	if err := row.Scan(&b.ID, &b.SerialStart, &b.SerialEnd, &b.CurrentSerial, &b.Active, &b.Depleted, &issuedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SerialBook{}, ErrNotFound
		}
		return SerialBook{}, err
	}
	if issuedAt != nil {
		b.IssuedAt = *issuedAt
	}
	return b, nil
}
