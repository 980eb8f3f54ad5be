package sequence

import (
	"errors"
	"fmt"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Counter issues the invoice-number sequence for one sales terminal.
// CurrentNumber is the last value handed out; it only moves forward.
type Counter struct {
	ID            string
	CurrentNumber int64
	UpdatedAt     time.Time
}

// SerialBook tracks a pre-printed range of official serial numbers
// consumed sequentially. At most one book is active at a time; depletion
// is one-way and depleted books are retained for audit.
type SerialBook struct {
	ID            int64
	SerialStart   string
	SerialEnd     string
	CurrentSerial string
	Active        bool
	Depleted      bool
	IssuedAt      time.Time
}

// Remaining reports how many serials are left before the book depletes.
func (b SerialBook) Remaining() int64 {
	cur, err := serialOrdinal(b.CurrentSerial)
	if err != nil {
		return 0
	}
	end, err := serialOrdinal(b.SerialEnd)
	if err != nil {
		return 0
	}
	if end < cur {
		return 0
	}
	return end - cur
}

var (
	// ErrNoSuchCounter indicates an unregistered terminal counter.
	ErrNoSuchCounter = errors.New("sequence: no such counter")
	// ErrNoActiveSerialBook indicates no serial book is currently active.
	ErrNoActiveSerialBook = errors.New("sequence: no active serial book")
	// ErrSerialBookDepleted indicates the targeted book has been used up.
	ErrSerialBookDepleted = errors.New("sequence: serial book depleted")
	// ErrAnotherBookActive indicates activation requires deactivating the current book first.
	ErrAnotherBookActive = errors.New("sequence: another serial book active")
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("sequence: %w", shared.ErrNotFound)
	// ErrCounterExists indicates the counter id is already registered.
	ErrCounterExists = errors.New("sequence: counter already exists")
	// ErrInvalidSerialRange indicates a malformed book range.
	ErrInvalidSerialRange = errors.New("sequence: invalid serial range")
)
