package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/platform/lock"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

type memoryAuditRepo struct {
	entries []Entry
	nextID  int64
	failing bool
}

type memoryAuditTx struct {
	repo *memoryAuditRepo
}

func newMemoryAuditRepo() *memoryAuditRepo {
	return &memoryAuditRepo{}
}

func (r *memoryAuditRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.failing {
		return errors.Join(ErrStorageUnavailable, errors.New("connection refused"))
	}
	return fn(ctx, &memoryAuditTx{repo: r})
}

func (r *memoryAuditRepo) ListBySubject(ctx context.Context, subjectRef string) ([]Entry, error) {
	var out []Entry
	for _, e := range r.entries {
		if e.SubjectRef == subjectRef {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryAuditRepo) Timeline(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	var matched []Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if filters.SubjectRef != "" && e.SubjectRef != filters.SubjectRef {
			continue
		}
		if filters.ActorID != 0 && e.ActorID != filters.ActorID {
			continue
		}
		if filters.Action != "" && e.Action != filters.Action {
			continue
		}
		matched = append(matched, e)
	}
	offset := (filters.Page - 1) * filters.PageSize
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + filters.PageSize + 1
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (t *memoryAuditTx) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	t.repo.nextID++
	entry.ID = t.repo.nextID
	t.repo.entries = append(t.repo.entries, entry)
	return entry.ID, nil
}

func (t *memoryAuditTx) ListVoidEvents(ctx context.Context, subjectRef string) ([]Entry, error) {
	var out []Entry
	for _, e := range t.repo.entries {
		if e.SubjectRef != subjectRef {
			continue
		}
		switch e.Action {
		case ActionVoided, ActionVoidApproved, ActionVoidRejected:
			out = append(out, e)
		}
	}
	return out, nil
}

type stubEffector struct {
	applied []string
	fail    bool
}

func (s *stubEffector) ApplyVoid(ctx context.Context, subjectRef string, approvedBy int64) error {
	if s.fail {
		return errors.New("reversal failed")
	}
	s.applied = append(s.applied, subjectRef)
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryAuditRepo, *stubEffector) {
	t.Helper()
	repo := newMemoryAuditRepo()
	effector := &stubEffector{}
	svc := NewService(repo, lock.NewKeyed(time.Second), effector)
	return svc, repo, effector
}

func TestRecordAppendsEntry(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Record(ctx, RecordInput{
		SubjectRef: "sale-1",
		Action:     ActionCreated,
		ActorID:    7,
		DataAfter:  map[string]any{"total": 120.5},
	})
	require.NoError(t, err)
	require.NotZero(t, id)
	require.Len(t, repo.entries, 1)
	require.Equal(t, ActionCreated, repo.entries[0].Action)
}

func TestActorFallsBackToContext(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := shared.ContextWithActor(context.Background(), 7)

	_, err := svc.Record(ctx, RecordInput{SubjectRef: "sale-1", Action: ActionCreated})
	require.NoError(t, err)
	require.Equal(t, int64(7), repo.entries[0].ActorID)

	require.NoError(t, svc.RequestVoid(ctx, "sale-1", 0))
	require.Equal(t, int64(7), repo.entries[1].ActorID)

	// Context identity participates in the distinct-approver rule.
	require.ErrorIs(t, svc.ApproveVoid(ctx, "sale-1", 0), ErrSelfApproval)

	approverCtx := shared.ContextWithActor(context.Background(), 9)
	require.NoError(t, svc.ApproveVoid(approverCtx, "sale-1", 0))
	require.Equal(t, int64(9), repo.entries[2].ActorID)

	// An explicit actor id wins over the context identity.
	_, err = svc.Record(ctx, RecordInput{SubjectRef: "sale-1", Action: ActionUpdated, ActorID: 4})
	require.NoError(t, err)
	require.Equal(t, int64(4), repo.entries[3].ActorID)
}

func TestRecordValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Record(context.Background(), RecordInput{Action: ActionCreated})
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.Record(context.Background(), RecordInput{SubjectRef: "sale-1"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestRecordSurfacesStorageFailure(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.failing = true
	_, err := svc.Record(context.Background(), RecordInput{SubjectRef: "sale-1", Action: ActionCreated, ActorID: 7})
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.ErrorIs(t, err, shared.ErrStorageUnavailable)
}

func TestVoidRequestThenApprove(t *testing.T) {
	svc, repo, effector := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestVoid(ctx, "sale-1", 7))

	state, err := svc.VoidState(ctx, "sale-1")
	require.NoError(t, err)
	require.Equal(t, VoidStateRequested, state)
	require.Empty(t, effector.applied, "effects must not apply before approval")

	require.NoError(t, svc.ApproveVoid(ctx, "sale-1", 9))

	state, err = svc.VoidState(ctx, "sale-1")
	require.NoError(t, err)
	require.Equal(t, VoidStateVoided, state)
	require.Equal(t, []string{"sale-1"}, effector.applied)

	require.Len(t, repo.entries, 2)
	require.Equal(t, ActionVoided, repo.entries[0].Action)
	require.Equal(t, ActionVoidApproved, repo.entries[1].Action)
}

func TestApproveWithoutRequestFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.ApproveVoid(context.Background(), "sale-1", 9)
	require.ErrorIs(t, err, ErrNoPendingVoidRequest)
}

func TestRejectWithoutRequestFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.RejectVoid(context.Background(), "sale-1", 9)
	require.ErrorIs(t, err, ErrNoPendingVoidRequest)
}

func TestDuplicateVoidRequestFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestVoid(ctx, "sale-1", 7))
	require.ErrorIs(t, svc.RequestVoid(ctx, "sale-1", 8), ErrDuplicateVoidRequest)
}

func TestRejectAllowsReRequest(t *testing.T) {
	svc, _, effector := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestVoid(ctx, "sale-1", 7))
	require.NoError(t, svc.RejectVoid(ctx, "sale-1", 9))

	state, err := svc.VoidState(ctx, "sale-1")
	require.NoError(t, err)
	require.Equal(t, VoidStateActive, state)
	require.Empty(t, effector.applied)

	// The earlier request is resolved, not blocking.
	require.NoError(t, svc.RequestVoid(ctx, "sale-1", 7))
}

func TestSelfApprovalRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestVoid(ctx, "sale-1", 7))
	require.ErrorIs(t, svc.ApproveVoid(ctx, "sale-1", 7), ErrSelfApproval)

	// A different actor can still approve.
	require.NoError(t, svc.ApproveVoid(ctx, "sale-1", 8))
}

func TestRequestVoidOnVoidedSubjectFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.RequestVoid(ctx, "sale-1", 7))
	require.NoError(t, svc.ApproveVoid(ctx, "sale-1", 8))
	require.ErrorIs(t, svc.RequestVoid(ctx, "sale-1", 7), ErrAlreadyVoided)
}

func TestApproveAbortsWhenEffectsFail(t *testing.T) {
	svc, repo, effector := newTestService(t)
	effector.fail = true
	ctx := context.Background()

	require.NoError(t, svc.RequestVoid(ctx, "sale-1", 7))
	require.Error(t, svc.ApproveVoid(ctx, "sale-1", 9))

	// No approval entry was written; the request is still pending.
	require.Len(t, repo.entries, 1)
	state, err := svc.VoidState(ctx, "sale-1")
	require.NoError(t, err)
	require.Equal(t, VoidStateRequested, state)
}

func TestTimelinePaging(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		_, err := svc.Record(ctx, RecordInput{SubjectRef: "sale-1", Action: ActionUpdated, ActorID: 7})
		require.NoError(t, err)
	}

	result, err := svc.Timeline(ctx, TimelineFilters{SubjectRef: "sale-1"})
	require.NoError(t, err)
	require.Len(t, result.Rows, 20)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)

	second, err := svc.Timeline(ctx, TimelineFilters{SubjectRef: "sale-1", Page: 2})
	require.NoError(t, err)
	require.Len(t, second.Rows, 5)
	require.False(t, second.Paging.HasNext)
	require.Equal(t, 1, second.Paging.PrevPage)
}
