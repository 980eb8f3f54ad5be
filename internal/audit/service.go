package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/platform/lock"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListBySubject(ctx context.Context, subjectRef string) ([]Entry, error)
	Timeline(ctx context.Context, filters TimelineFilters) ([]Entry, error)
}

// TxRepository exposes transactional operations. The interface is
// append-only on purpose: entries cannot be updated or removed.
type TxRepository interface {
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
	ListVoidEvents(ctx context.Context, subjectRef string) ([]Entry, error)
}

// Effector applies the compensating effects of an approved void, e.g.
// inventory and payment reversal. It runs inside the approval transaction
// scope; a failure aborts the approval.
type Effector interface {
	ApplyVoid(ctx context.Context, subjectRef string, approvedBy int64) error
}

// Service is the append-only audit trail and the owner of the two-phase
// void workflow.
type Service struct {
	repo     RepositoryPort
	locks    lock.Locker
	effector Effector
	now      func() time.Time
}

// NewService constructs the audit service. effector may be nil when no
// compensating integration is wired.
func NewService(repo RepositoryPort, locks lock.Locker, effector Effector) *Service {
	return &Service{repo: repo, locks: locks, effector: effector, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func subjectLockKey(subjectRef string) string {
	return fmt.Sprintf("audit:subject:%s:lock", subjectRef)
}

// resolveActor prefers the explicit actor id and falls back to the
// identity attached to the context by the outer layer.
func (s *Service) resolveActor(ctx context.Context, actorID int64) int64 {
	if actorID != 0 {
		return actorID
	}
	return shared.ActorFromContext(ctx)
}

// RecordInput describes a new audit entry.
type RecordInput struct {
	SubjectRef string
	Action     ActionType
	ActorID    int64
	DataBefore map[string]any
	DataAfter  map[string]any
}

// Record appends an immutable entry and returns its id. Storage failures
// surface as ErrStorageUnavailable so the triggering operation aborts.
func (s *Service) Record(ctx context.Context, input RecordInput) (int64, error) {
	if input.SubjectRef == "" || input.Action == "" {
		return 0, ErrValidation
	}
	entry := Entry{
		SubjectRef: input.SubjectRef,
		Action:     input.Action,
		ActorID:    s.resolveActor(ctx, input.ActorID),
		At:         s.now(),
		DataBefore: input.DataBefore,
		DataAfter:  input.DataAfter,
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var e error
		id, e = tx.InsertEntry(ctx, entry)
		return e
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RequestVoid opens a void request for the subject. The subject itself is
// not reversed until a distinct actor approves.
func (s *Service) RequestVoid(ctx context.Context, subjectRef string, actorID int64) error {
	if subjectRef == "" {
		return ErrValidation
	}
	actorID = s.resolveActor(ctx, actorID)
	return s.locks.WithLock(ctx, subjectLockKey(subjectRef), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			events, err := tx.ListVoidEvents(ctx, subjectRef)
			if err != nil {
				return err
			}
			switch deriveVoidState(events) {
			case VoidStateRequested:
				return ErrDuplicateVoidRequest
			case VoidStateVoided:
				return ErrAlreadyVoided
			}
			_, err = tx.InsertEntry(ctx, Entry{
				SubjectRef: subjectRef,
				Action:     ActionVoided,
				ActorID:    actorID,
				At:         s.now(),
			})
			return err
		})
	})
}

// ApproveVoid finalizes a pending void request. Only here are compensating
// effects applied, inside the same transactional scope as the entry.
func (s *Service) ApproveVoid(ctx context.Context, subjectRef string, actorID int64) error {
	if subjectRef == "" {
		return ErrValidation
	}
	actorID = s.resolveActor(ctx, actorID)
	return s.locks.WithLock(ctx, subjectLockKey(subjectRef), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			events, err := tx.ListVoidEvents(ctx, subjectRef)
			if err != nil {
				return err
			}
			request, ok := pendingRequest(events)
			if !ok {
				return ErrNoPendingVoidRequest
			}
			if request.ActorID == actorID {
				return ErrSelfApproval
			}
			if s.effector != nil {
				if err := s.effector.ApplyVoid(ctx, subjectRef, actorID); err != nil {
					return err
				}
			}
			_, err = tx.InsertEntry(ctx, Entry{
				SubjectRef: subjectRef,
				Action:     ActionVoidApproved,
				ActorID:    actorID,
				At:         s.now(),
			})
			return err
		})
	})
}

// RejectVoid resolves a pending request without reversing anything. The
// subject returns to normal standing and may be re-requested later.
func (s *Service) RejectVoid(ctx context.Context, subjectRef string, actorID int64) error {
	if subjectRef == "" {
		return ErrValidation
	}
	actorID = s.resolveActor(ctx, actorID)
	return s.locks.WithLock(ctx, subjectLockKey(subjectRef), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			events, err := tx.ListVoidEvents(ctx, subjectRef)
			if err != nil {
				return err
			}
			if _, ok := pendingRequest(events); !ok {
				return ErrNoPendingVoidRequest
			}
			_, err = tx.InsertEntry(ctx, Entry{
				SubjectRef: subjectRef,
				Action:     ActionVoidRejected,
				ActorID:    actorID,
				At:         s.now(),
			})
			return err
		})
	})
}

// VoidState derives the subject's void sub-state from its entry history.
// No flag is stored; the history is the source of truth.
func (s *Service) VoidState(ctx context.Context, subjectRef string) (VoidState, error) {
	entries, err := s.repo.ListBySubject(ctx, subjectRef)
	if err != nil {
		return "", err
	}
	return deriveVoidState(entries), nil
}

// History returns every entry recorded for the subject, oldest first.
func (s *Service) History(ctx context.Context, subjectRef string) ([]Entry, error) {
	return s.repo.ListBySubject(ctx, subjectRef)
}

// deriveVoidState replays void events in order. An approved void is
// terminal; a rejection resolves the pending request.
func deriveVoidState(events []Entry) VoidState {
	state := VoidStateActive
	for _, e := range events {
		switch e.Action {
		case ActionVoided:
			if state == VoidStateActive {
				state = VoidStateRequested
			}
		case ActionVoidApproved:
			if state == VoidStateRequested {
				state = VoidStateVoided
			}
		case ActionVoidRejected:
			if state == VoidStateRequested {
				state = VoidStateActive
			}
		}
	}
	return state
}

// pendingRequest returns the unresolved request entry, if one exists.
func pendingRequest(events []Entry) (Entry, bool) {
	var request Entry
	pending := false
	for _, e := range events {
		switch e.Action {
		case ActionVoided:
			if !pending {
				request = e
				pending = true
			}
		case ActionVoidApproved, ActionVoidRejected:
			pending = false
		}
	}
	if !pending {
		return Entry{}, false
	}
	return request, true
}
