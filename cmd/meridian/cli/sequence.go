package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/meridian-pos/meridian-pos/internal/sequence"
)

// SequenceOpsCLI exposes operator workflows for invoice counters and
// serial books: registering replacements, rotating the active book and
// checking remaining capacity.
type SequenceOpsCLI struct {
	allocator *sequence.Allocator
}

// NewSequenceOpsCLI constructs the helper around a wired allocator.
func NewSequenceOpsCLI(allocator *sequence.Allocator) *SequenceOpsCLI {
	return &SequenceOpsCLI{allocator: allocator}
}

// RegisterCounter creates a named invoice counter starting at floor.
func (c *SequenceOpsCLI) RegisterCounter(ctx context.Context, id string, floor int64) (sequence.Counter, error) {
	if c == nil || c.allocator == nil {
		return sequence.Counter{}, errors.New("sequence cli: allocator not configured")
	}
	return c.allocator.RegisterCounter(ctx, sequence.RegisterCounterInput{ID: id, Floor: floor})
}

// RegisterBook registers an inactive serial book covering [start, end].
func (c *SequenceOpsCLI) RegisterBook(ctx context.Context, start, end string) (sequence.SerialBook, error) {
	if c == nil || c.allocator == nil {
		return sequence.SerialBook{}, errors.New("sequence cli: allocator not configured")
	}
	return c.allocator.RegisterSerialBook(ctx, sequence.RegisterBookInput{SerialStart: start, SerialEnd: end})
}

// ActivateBook switches allocation to the given book. The currently
// active book must be deactivated first.
func (c *SequenceOpsCLI) ActivateBook(ctx context.Context, bookID int64) error {
	if c == nil || c.allocator == nil {
		return errors.New("sequence cli: allocator not configured")
	}
	return c.allocator.ActivateSerialBook(ctx, bookID)
}

// DeactivateBook retires the given book from allocation.
func (c *SequenceOpsCLI) DeactivateBook(ctx context.Context, bookID int64) error {
	if c == nil || c.allocator == nil {
		return errors.New("sequence cli: allocator not configured")
	}
	return c.allocator.DeactivateSerialBook(ctx, bookID)
}

// PrintBooks writes a capacity table of all registered books.
func (c *SequenceOpsCLI) PrintBooks(ctx context.Context, out io.Writer) error {
	if c == nil || c.allocator == nil {
		return errors.New("sequence cli: allocator not configured")
	}
	books, err := c.allocator.ListBooks(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRANGE\tCURRENT\tREMAINING\tACTIVE\tDEPLETED")
	for _, book := range books {
		fmt.Fprintf(w, "%d\t%s..%s\t%s\t%d\t%t\t%t\n",
			book.ID, book.SerialStart, book.SerialEnd, book.CurrentSerial,
			book.Remaining(), book.Active, book.Depleted)
	}
	return w.Flush()
}
