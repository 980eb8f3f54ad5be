package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/platform/lock"
)

// RepositoryPort describes repository operations used by Allocator.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCounter(ctx context.Context, id string) (Counter, error)
	GetActiveBook(ctx context.Context) (SerialBook, error)
	ListBooks(ctx context.Context) ([]SerialBook, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetCounterForUpdate(ctx context.Context, id string) (Counter, error)
	UpdateCounter(ctx context.Context, id string, value int64, at time.Time) error
	InsertCounter(ctx context.Context, counter Counter) error
	GetActiveBookForUpdate(ctx context.Context) (SerialBook, error)
	GetBookForUpdate(ctx context.Context, id int64) (SerialBook, error)
	AnyActiveBook(ctx context.Context) (bool, error)
	AdvanceBook(ctx context.Context, id int64, cursor string, active, depleted bool) error
	SetBookActive(ctx context.Context, id int64, active bool, issuedAt time.Time) error
	InsertBook(ctx context.Context, book SerialBook) (int64, error)
}

// Allocator issues invoice numbers and serials. Every issuing path holds
// the per-resource lock for the duration of one short read-modify-write
// transaction; the value is durably committed before it is returned.
type Allocator struct {
	repo     RepositoryPort
	locks    lock.Locker
	validate *validator.Validate
	floor    int64
	now      func() time.Time
}

// NewAllocator constructs an Allocator. floor seeds newly registered
// counters when the caller does not supply one.
func NewAllocator(repo RepositoryPort, locks lock.Locker, floor int64) *Allocator {
	return &Allocator{
		repo:     repo,
		locks:    locks,
		validate: validator.New(),
		floor:    floor,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (a *Allocator) WithNow(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

func counterLockKey(counterID string) string {
	return fmt.Sprintf("seq:counter:%s:lock", counterID)
}

// bookLockKey covers all serial book mutations. The single-active-book
// invariant makes the book set one logical resource.
func bookLockKey() string {
	return "seq:book:lock"
}

// AllocateInvoiceNumber returns the next invoice number for the counter.
// Concurrent callers on the same counter are serialized; the number is
// persisted before it is handed out, so a crash can cost a gap but never
// produce a duplicate.
func (a *Allocator) AllocateInvoiceNumber(ctx context.Context, counterID string) (int64, error) {
	if counterID == "" {
		return 0, ErrNoSuchCounter
	}
	var issued int64
	err := a.locks.WithLock(ctx, counterLockKey(counterID), func(ctx context.Context) error {
		return a.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			counter, err := tx.GetCounterForUpdate(ctx, counterID)
			if err != nil {
				return err
			}
			next := counter.CurrentNumber + 1
			if err := tx.UpdateCounter(ctx, counterID, next, a.now()); err != nil {
				return err
			}
			issued = next
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return issued, nil
}

// AllocateSerial advances the active serial book by one step and returns
// the new serial. Reaching the end of the range marks the book depleted
// and inactive in the same transaction as the final allocation.
func (a *Allocator) AllocateSerial(ctx context.Context) (string, error) {
	var issued string
	err := a.locks.WithLock(ctx, bookLockKey(), func(ctx context.Context) error {
		return a.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			book, err := tx.GetActiveBookForUpdate(ctx)
			if err != nil {
				return err
			}
			if book.Depleted {
				return ErrSerialBookDepleted
			}
			next, err := nextSerial(book.CurrentSerial)
			if err != nil {
				return err
			}
			nextOrd, err := serialOrdinal(next)
			if err != nil {
				return err
			}
			endOrd, err := serialOrdinal(book.SerialEnd)
			if err != nil {
				return err
			}
			if nextOrd > endOrd {
				return ErrSerialBookDepleted
			}
			depleted := nextOrd == endOrd
			if err := tx.AdvanceBook(ctx, book.ID, next, !depleted, depleted); err != nil {
				return err
			}
			issued = next
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return issued, nil
}

// RegisterCounterInput describes a new terminal counter.
type RegisterCounterInput struct {
	ID    string `validate:"required"`
	Floor int64  `validate:"gte=0"`
}

// RegisterCounter creates a counter starting at the configured floor.
func (a *Allocator) RegisterCounter(ctx context.Context, input RegisterCounterInput) (Counter, error) {
	if err := a.validate.Struct(input); err != nil {
		return Counter{}, fmt.Errorf("sequence: invalid counter input: %w", err)
	}
	floor := input.Floor
	if floor == 0 {
		floor = a.floor
	}
	counter := Counter{ID: input.ID, CurrentNumber: floor, UpdatedAt: a.now()}
	err := a.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertCounter(ctx, counter)
	})
	if err != nil {
		return Counter{}, err
	}
	return counter, nil
}

// RegisterBookInput describes a new pre-printed serial book.
type RegisterBookInput struct {
	SerialStart string `validate:"required"`
	SerialEnd   string `validate:"required"`
}

// RegisterSerialBook stores a new book with its cursor at the range start.
// The book is created inactive; activation is a separate, invariant-checked
// step.
func (a *Allocator) RegisterSerialBook(ctx context.Context, input RegisterBookInput) (SerialBook, error) {
	if err := a.validate.Struct(input); err != nil {
		return SerialBook{}, fmt.Errorf("sequence: invalid book input: %w", err)
	}
	if err := validateRange(input.SerialStart, input.SerialEnd); err != nil {
		return SerialBook{}, err
	}
	book := SerialBook{
		SerialStart:   input.SerialStart,
		SerialEnd:     input.SerialEnd,
		CurrentSerial: input.SerialStart,
	}
	err := a.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertBook(ctx, book)
		if err != nil {
			return err
		}
		book.ID = id
		return nil
	})
	if err != nil {
		return SerialBook{}, err
	}
	return book, nil
}

// ActivateSerialBook marks the book active. It fails with
// ErrAnotherBookActive unless the current book was deactivated first, and
// refuses depleted books outright.
func (a *Allocator) ActivateSerialBook(ctx context.Context, bookID int64) error {
	return a.locks.WithLock(ctx, bookLockKey(), func(ctx context.Context) error {
		return a.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			active, err := tx.AnyActiveBook(ctx)
			if err != nil {
				return err
			}
			if active {
				return ErrAnotherBookActive
			}
			book, err := tx.GetBookForUpdate(ctx, bookID)
			if err != nil {
				return err
			}
			if book.Depleted {
				return ErrSerialBookDepleted
			}
			return tx.SetBookActive(ctx, bookID, true, a.now())
		})
	})
}

// DeactivateSerialBook takes the book out of service without depleting it.
func (a *Allocator) DeactivateSerialBook(ctx context.Context, bookID int64) error {
	return a.locks.WithLock(ctx, bookLockKey(), func(ctx context.Context) error {
		return a.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			book, err := tx.GetBookForUpdate(ctx, bookID)
			if err != nil {
				return err
			}
			if !book.Active {
				return nil
			}
			return tx.SetBookActive(ctx, bookID, false, book.IssuedAt)
		})
	})
}

// GetCounter returns the counter snapshot.
func (a *Allocator) GetCounter(ctx context.Context, id string) (Counter, error) {
	return a.repo.GetCounter(ctx, id)
}

// ActiveBook returns the currently active book, if any.
func (a *Allocator) ActiveBook(ctx context.Context) (SerialBook, error) {
	return a.repo.GetActiveBook(ctx)
}

// ListBooks returns all registered books, depleted ones included.
func (a *Allocator) ListBooks(ctx context.Context) ([]SerialBook, error) {
	return a.repo.ListBooks(ctx)
}
