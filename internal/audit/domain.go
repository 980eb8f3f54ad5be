package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// ActionType enumerates recorded lifecycle actions.
type ActionType string

const (
	ActionCreated         ActionType = "CREATED"
	ActionUpdated         ActionType = "UPDATED"
	ActionVoided          ActionType = "VOIDED" // void requested, not yet reversed
	ActionVoidApproved    ActionType = "VOID_APPROVED"
	ActionVoidRejected    ActionType = "VOID_REJECTED"
	ActionDiscountApplied ActionType = "DISCOUNT_APPLIED"
	ActionDiscountRemoved ActionType = "DISCOUNT_REMOVED"
	ActionItemReturned    ActionType = "ITEM_RETURNED"
	ActionFullRefund      ActionType = "FULL_REFUND"
	ActionPartialRefund   ActionType = "PARTIAL_REFUND"
	ActionPaymentAdded    ActionType = "PAYMENT_ADDED"
	ActionPaymentRemoved  ActionType = "PAYMENT_REMOVED"
	ActionOther           ActionType = "OTHER"
)

// Entry is one immutable audit record. Entries are never edited or
// deleted; corrections are expressed as new entries.
type Entry struct {
	ID         int64
	SubjectRef string
	Action     ActionType
	ActorID    int64
	At         time.Time
	DataBefore map[string]any
	DataAfter  map[string]any
}

// VoidState is the derived void sub-state of a subject.
type VoidState string

const (
	// VoidStateActive means the subject is in normal standing.
	VoidStateActive VoidState = "ACTIVE"
	// VoidStateRequested means a void request awaits approval or rejection.
	VoidStateRequested VoidState = "VOID_REQUESTED"
	// VoidStateVoided means the void was approved and effects reversed.
	VoidStateVoided VoidState = "VOIDED"
)

var (
	// ErrStorageUnavailable indicates the audit store rejected a write. The
	// triggering business operation must abort rather than proceed unaudited.
	ErrStorageUnavailable = fmt.Errorf("audit: %w", shared.ErrStorageUnavailable)
	// ErrDuplicateVoidRequest indicates an unresolved request already exists.
	ErrDuplicateVoidRequest = errors.New("audit: duplicate void request")
	// ErrNoPendingVoidRequest indicates approval or rejection without a matching request.
	ErrNoPendingVoidRequest = errors.New("audit: no pending void request")
	// ErrAlreadyVoided indicates the subject was already voided for good.
	ErrAlreadyVoided = errors.New("audit: subject already voided")
	// ErrSelfApproval indicates the approver is the requesting actor.
	ErrSelfApproval = errors.New("audit: void approval requires a distinct actor")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("audit: invalid input")
)
