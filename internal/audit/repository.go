package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence. The audit_entries
// table is append-only: this type deliberately has no update or delete.
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

// WithTx wraps callback in repeatable-read transaction. Begin and commit
// failures surface as ErrStorageUnavailable so callers abort loudly.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	inner := false
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		err := fn(ctx, &txRepo{tx: tx})
		inner = err != nil
		return err
	})
	if err != nil && !inner {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return err
}

// ListBySubject returns every entry for the subject, oldest first.
func (r *Repository) ListBySubject(ctx context.Context, subjectRef string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, subject_ref, action, actor_id, at, data_before, data_after
		FROM audit_entries WHERE subject_ref=$1 ORDER BY id ASC`, subjectRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Timeline returns a filter window of entries, newest first. One extra row
// beyond the page size signals the presence of a next page.
func (r *Repository) Timeline(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	sql := `SELECT id, subject_ref, action, actor_id, at, data_before, data_after
	FROM audit_entries WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.SubjectRef != "" {
		sql += fmt.Sprintf(` AND subject_ref = $%d`, argNum)
		args = append(args, filters.SubjectRef)
		argNum++
	}
	if filters.ActorID != 0 {
		sql += fmt.Sprintf(` AND actor_id = $%d`, argNum)
		args = append(args, filters.ActorID)
		argNum++
	}
	if filters.Action != "" {
		sql += fmt.Sprintf(` AND action = $%d`, argNum)
		args = append(args, string(filters.Action))
		argNum++
	}
	if !filters.From.IsZero() {
		sql += fmt.Sprintf(` AND at >= $%d`, argNum)
		args = append(args, filters.From)
		argNum++
	}
	if !filters.To.IsZero() {
		sql += fmt.Sprintf(` AND at <= $%d`, argNum)
		args = append(args, filters.To)
		argNum++
	}

	offset := (filters.Page - 1) * filters.PageSize
	sql += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d OFFSET $%d`, argNum, argNum+1)
	args = append(args, filters.PageSize+1, offset)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (t *txRepo) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	before, err := marshalSnapshot(entry.DataBefore)
	if err != nil {
		return 0, err
	}
	after, err := marshalSnapshot(entry.DataAfter)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx,
		`INSERT INTO audit_entries (subject_ref, action, actor_id, at, data_before, data_after)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		entry.SubjectRef, string(entry.Action), entry.ActorID, entry.At, before, after).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return id, nil
}

func (t *txRepo) ListVoidEvents(ctx context.Context, subjectRef string) ([]Entry, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, subject_ref, action, actor_id, at, data_before, data_after
		FROM audit_entries
		WHERE subject_ref=$1 AND action IN ('VOIDED', 'VOID_APPROVED', 'VOID_REJECTED')
		ORDER BY id ASC`, subjectRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func marshalSnapshot(data map[string]any) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	out, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal snapshot: %w", err)
	}
	return out, nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var action string
		var before, after []byte
		if err := rows.Scan(&e.ID, &e.SubjectRef, &action, &e.ActorID, &e.At, &before, &after); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		e.Action = ActionType(action)
		if len(before) > 0 {
			if err := json.Unmarshal(before, &e.DataBefore); err != nil {
				return nil, fmt.Errorf("audit: unmarshal snapshot: %w", err)
			}
		}
		if len(after) > 0 {
			if err := json.Unmarshal(after, &e.DataAfter); err != nil {
				return nil, fmt.Errorf("audit: unmarshal snapshot: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return entries, nil
}
