package workerpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bobmcallan/topicforge/internal/common"
	"github.com/bobmcallan/topicforge/internal/interfaces"
	"github.com/bobmcallan/topicforge/internal/models"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory interfaces.Store double for exercising the
// pool's claim/dispatch/write-back logic without SQLite.
type fakeStore struct {
	mu         sync.Mutex
	items      map[int64]*models.QueueItem
	nextID     int64
	failEvery  func(id int64) error
	resetCalls []time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[int64]*models.QueueItem)}
}

func (f *fakeStore) seedPending(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.nextID++
		f.items[f.nextID] = &models.QueueItem{ID: f.nextID, OriginalTitle: "t", State: models.StatePending}
	}
}

func (f *fakeStore) Enqueue(ctx context.Context, originalTitle string) (int64, bool, error) {
	return 0, false, nil
}

func (f *fakeStore) ClaimPending(ctx context.Context, limit int) ([]models.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var claimed []models.QueueItem
	for _, it := range f.items {
		if len(claimed) >= limit {
			break
		}
		if it.State == models.StatePending {
			it.State = models.StateProcessing
			claimed = append(claimed, *it)
		}
	}
	return claimed, nil
}

func (f *fakeStore) Complete(ctx context.Context, id int64, currentTitle string, payload models.TopicPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return nil
	}
	it.State = models.StateCompleted
	it.CurrentTitle = currentTitle
	return nil
}

func (f *fakeStore) Fail(ctx context.Context, id int64, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[id]; ok {
		it.State = models.StateFailed
		it.ErrorMessage = errMsg
	}
	return nil
}

func (f *fakeStore) Requeue(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.items[id]; ok {
		it.State = models.StatePending
	}
	return nil
}

func (f *fakeStore) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls = append(f.resetCalls, olderThan)
	n := 0
	for _, it := range f.items {
		if it.State == models.StateProcessing {
			it.State = models.StatePending
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) LookupByTitle(ctx context.Context, originalTitle string) (*models.QueueItem, error) {
	return nil, nil
}

func (f *fakeStore) CountByState(ctx context.Context) (models.StateCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var c models.StateCounts
	for _, it := range f.items {
		switch it.State {
		case models.StatePending:
			c.Pending++
		case models.StateProcessing:
			c.Processing++
		case models.StateCompleted:
			c.Completed++
		case models.StateFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (f *fakeStore) RecentFailures(ctx context.Context, limit int) ([]models.FailureSummary, error) {
	return nil, nil
}

func (f *fakeStore) ListTopics(ctx context.Context, state models.State, page, pageSize int) ([]models.QueueItem, error) {
	return nil, nil
}

func (f *fakeStore) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

func (f *fakeStore) CachePut(ctx context.Context, key string, value []byte) error { return nil }

func (f *fakeStore) Close() error { return nil }

var _ interfaces.Store = (*fakeStore)(nil)

// fakeProcessor returns a configured outcome for every batch it sees, and
// records how many times it was invoked.
type fakeProcessor struct {
	mu      sync.Mutex
	calls   int
	outcome func(items []models.QueueItem) interfaces.BatchOutcome
}

func (f *fakeProcessor) Process(ctx context.Context, items []models.QueueItem) interfaces.BatchOutcome {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.outcome(items)
}

var _ interfaces.BatchProcessor = (*fakeProcessor)(nil)

func successOutcome(items []models.QueueItem) interfaces.BatchOutcome {
	outcomes := make([]interfaces.ItemOutcome, len(items))
	for i, it := range items {
		outcomes[i] = interfaces.ItemOutcome{ID: it.ID, CurrentTitle: "cleaned"}
	}
	return interfaces.BatchOutcome{Kind: interfaces.OutcomeSuccess, Items: outcomes}
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestClaimSizeFormula(t *testing.T) {
	require.Equal(t, 10, Config{BatchSize: 1}.ClaimSize())
	require.Equal(t, 30, Config{BatchSize: 5}.ClaimSize())
	require.Equal(t, 30, Config{BatchSize: 10}.ClaimSize())
}

func TestSplitBatchesPreservesOrderAndSize(t *testing.T) {
	items := []models.QueueItem{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 5}}
	batches := splitBatches(items, 2)
	require.Len(t, batches, 3)
	require.Len(t, batches[0], 2)
	require.Len(t, batches[2], 1)
	require.Equal(t, int64(5), batches[2][0].ID)
}

func TestPollLoopClaimsAndCompletesItems(t *testing.T) {
	store := newFakeStore()
	store.seedPending(3)
	proc := &fakeProcessor{outcome: successOutcome}

	p := New(store, proc, Config{BatchSize: 5, PollInterval: 20 * time.Millisecond, MaxParallel: 4, StaleTimeout: time.Hour}, common.NewSilentLogger())
	p.Start()
	defer p.Stop(context.Background())

	waitForCondition(t, time.Second, func() bool {
		counts, _ := store.CountByState(context.Background())
		return counts.Completed == 3
	})
}

func TestTransientFailureRequeues(t *testing.T) {
	store := newFakeStore()
	store.seedPending(2)
	proc := &fakeProcessor{outcome: func(items []models.QueueItem) interfaces.BatchOutcome {
		return interfaces.BatchOutcome{Kind: interfaces.OutcomeTransientFail}
	}}

	p := New(store, proc, Config{BatchSize: 5, PollInterval: 20 * time.Millisecond, MaxParallel: 4, StaleTimeout: time.Hour}, common.NewSilentLogger())
	p.Start()
	defer p.Stop(context.Background())

	waitForCondition(t, time.Second, func() bool {
		proc.mu.Lock()
		calls := proc.calls
		proc.mu.Unlock()
		return calls >= 1
	})

	counts, _ := store.CountByState(context.Background())
	require.Equal(t, 2, counts.Pending)
}

func TestPanicInProcessorFailsBatchInsteadOfCrashing(t *testing.T) {
	store := newFakeStore()
	store.seedPending(1)
	proc := &fakeProcessor{outcome: func(items []models.QueueItem) interfaces.BatchOutcome {
		panic("boom")
	}}

	p := New(store, proc, Config{BatchSize: 5, PollInterval: 20 * time.Millisecond, MaxParallel: 4, StaleTimeout: time.Hour}, common.NewSilentLogger())
	p.Start()
	defer p.Stop(context.Background())

	waitForCondition(t, time.Second, func() bool {
		counts, _ := store.CountByState(context.Background())
		return counts.Failed == 1
	})
}

func TestStopDrainsAndResetsProcessingItems(t *testing.T) {
	store := newFakeStore()
	store.seedPending(1)
	release := make(chan struct{})
	proc := &fakeProcessor{outcome: func(items []models.QueueItem) interfaces.BatchOutcome {
		<-release
		return successOutcome(items)
	}}

	p := New(store, proc, Config{BatchSize: 5, PollInterval: 10 * time.Millisecond, MaxParallel: 4, StaleTimeout: time.Hour}, common.NewSilentLogger())
	p.Start()

	waitForCondition(t, time.Second, func() bool {
		counts, _ := store.CountByState(context.Background())
		return counts.Processing == 1
	})

	stopDone := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		p.Stop(ctx)
		close(stopDone)
	}()

	<-stopDone
	close(release)

	counts, _ := store.CountByState(context.Background())
	require.Equal(t, 1, counts.Pending)
}

func TestBackpressureNeverExceedsMaxParallel(t *testing.T) {
	store := newFakeStore()
	store.seedPending(20)

	var mu sync.Mutex
	inFlight, maxSeen := 0, 0
	proc := &fakeProcessor{outcome: func(items []models.QueueItem) interfaces.BatchOutcome {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return successOutcome(items)
	}}

	p := New(store, proc, Config{BatchSize: 1, PollInterval: 10 * time.Millisecond, MaxParallel: 3, StaleTimeout: time.Hour}, common.NewSilentLogger())
	p.Start()
	defer p.Stop(context.Background())

	waitForCondition(t, 2*time.Second, func() bool {
		counts, _ := store.CountByState(context.Background())
		return counts.Completed == 20
	})

	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, maxSeen, 3)
}
