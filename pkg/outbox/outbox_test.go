package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harrowgate/turnengine/pkg/store"
	"github.com/harrowgate/turnengine/pkg/types"
)

type fakeOutboxRepo struct {
	mu       sync.Mutex
	pending  []types.OutboxEvent
	sent     []int64
	failed   map[int64]time.Duration
	nextID   int64
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{failed: make(map[int64]time.Duration)}
}

func (f *fakeOutboxRepo) Append(ctx context.Context, ev *types.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ev.ID = f.nextID
	f.pending = append(f.pending, *ev)
	return nil
}

func (f *fakeOutboxRepo) LeaseBatch(ctx context.Context, limit int) ([]types.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	batch := f.pending[:limit]
	f.pending = f.pending[limit:]
	return batch, nil
}

func (f *fakeOutboxRepo) MarkSent(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeOutboxRepo) MarkFailed(ctx context.Context, id int64, backoff time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = backoff
	return nil
}

// fakeUnitOfWork backs the only repository processOnce touches (Outbox) and
// records how many scopes were opened, so tests can assert the lease, the
// dispatch, and the mark all happen within one Begin/Commit pair.
type fakeUnitOfWork struct {
	store.Repositories
	repo        *fakeOutboxRepo
	scopesBegun int
	committed   int
	rolledBack  int
}

func newFakeUnitOfWork(repo *fakeOutboxRepo) *fakeUnitOfWork {
	return &fakeUnitOfWork{repo: repo}
}

func (u *fakeUnitOfWork) Outbox() store.OutboxRepo { return u.repo }

func (u *fakeUnitOfWork) Begin(ctx context.Context) (store.Scope, error) {
	u.scopesBegun++
	return &fakeScope{uow: u}, nil
}

type fakeScope struct {
	store.Repositories
	uow *fakeUnitOfWork
}

func (s *fakeScope) Outbox() store.OutboxRepo { return s.uow.repo }

func (s *fakeScope) Commit(ctx context.Context) error {
	s.uow.committed++
	return nil
}

func (s *fakeScope) Rollback(ctx context.Context) error {
	s.uow.rolledBack++
	return nil
}

func TestProcessOnceDispatchesAndMarksSent(t *testing.T) {
	repo := newFakeOutboxRepo()
	require.NoError(t, repo.Append(context.Background(), &types.OutboxEvent{EventType: types.EventMemoryPruneRequested}))
	uow := newFakeUnitOfWork(repo)

	var dispatched []int64
	var mu sync.Mutex
	dispatcher := DispatcherFunc(func(ctx context.Context, ev types.OutboxEvent) error {
		mu.Lock()
		dispatched = append(dispatched, ev.ID)
		mu.Unlock()
		return nil
	})

	w := NewWorker(uow, dispatcher, WorkerConfig{}, nil)
	require.NoError(t, w.processOnce(context.Background()))

	require.Equal(t, []int64{1}, dispatched)
	require.Equal(t, []int64{1}, repo.sent)
	require.Equal(t, 1, uow.committed)
	require.Equal(t, 0, uow.rolledBack)
}

func TestProcessOnceBacksOffOnFailure(t *testing.T) {
	repo := newFakeOutboxRepo()
	require.NoError(t, repo.Append(context.Background(), &types.OutboxEvent{EventType: types.EventMemoryPruneRequested, Attempts: 2}))
	uow := newFakeUnitOfWork(repo)

	dispatcher := DispatcherFunc(func(ctx context.Context, ev types.OutboxEvent) error {
		return errors.New("downstream unavailable")
	})

	w := NewWorker(uow, dispatcher, WorkerConfig{}, nil)
	require.NoError(t, w.processOnce(context.Background()))

	require.Empty(t, repo.sent)
	require.Equal(t, 8*time.Second, repo.failed[1])
	require.Equal(t, 1, uow.committed)
}

func TestProcessOnceLeasesDispatchesAndMarksWithinOneScope(t *testing.T) {
	repo := newFakeOutboxRepo()
	require.NoError(t, repo.Append(context.Background(), &types.OutboxEvent{EventType: types.EventMemoryPruneRequested}))
	require.NoError(t, repo.Append(context.Background(), &types.OutboxEvent{EventType: types.EventTimerScheduled}))
	uow := newFakeUnitOfWork(repo)

	dispatcher := DispatcherFunc(func(ctx context.Context, ev types.OutboxEvent) error { return nil })
	w := NewWorker(uow, dispatcher, WorkerConfig{}, nil)
	require.NoError(t, w.processOnce(context.Background()))

	require.Equal(t, 1, uow.scopesBegun)
	require.Equal(t, 1, uow.committed)
	require.Equal(t, []int64{1, 2}, repo.sent)
}

func TestBackoffIsCapped(t *testing.T) {
	require.Equal(t, maxBackoff, backoffFor(20))
}

func TestNopDispatcherAlwaysFails(t *testing.T) {
	err := NopDispatcher{}.Dispatch(context.Background(), types.OutboxEvent{})
	require.ErrorIs(t, err, ErrDispatcherNotConfigured)
}
