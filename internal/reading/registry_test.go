package reading

import (
	"context"
	"sync"
	"testing"
	"time"
)

// recordingSink captures fan-out notifications.
type recordingSink struct {
	mu     sync.Mutex
	stored []TemperatureReading
}

func (s *recordingSink) ReadingStored(r TemperatureReading) {
	s.mu.Lock()
	s.stored = append(s.stored, r)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

// gatedRepo blocks the first ListForUser call until released, exposing
// the window between feed creation and its initial seed.
type gatedRepo struct {
	rows    []TemperatureReading
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedRepo(rows ...TemperatureReading) *gatedRepo {
	return &gatedRepo{
		rows:    rows,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (r *gatedRepo) ListForUser(context.Context, int64) ([]TemperatureReading, error) {
	r.once.Do(func() {
		close(r.entered)
		<-r.release
	})
	return append([]TemperatureReading(nil), r.rows...), nil
}

func (r *gatedRepo) Insert(context.Context, *TemperatureReading) (int64, error) {
	return 0, nil
}

func (r *gatedRepo) InsertHistoryBatch(context.Context, int64, string, *string, []HistoryRecord) ([]TemperatureReading, error) {
	return nil, nil
}

func (r *gatedRepo) ListForDevice(context.Context, int64, string) ([]TemperatureReading, error) {
	return nil, nil
}

func (r *gatedRepo) LastRealtime(context.Context, int64, string) (*TemperatureReading, error) {
	return nil, ErrReadingNotFound
}

func (r *gatedRepo) CountForUser(context.Context, int64) (int, error) {
	return len(r.rows), nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(NewSQLiteRepository(setupTestDB(t)))
}

// receive reads the next collection from a subscription with a deadline.
func receive(t *testing.T, ch <-chan []TemperatureReading) []TemperatureReading {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for collection")
		return nil
	}
}

func TestRegistry_Subscribe_ReplaysCurrentValue(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Insert(ctx, testReading(1, 1000, 36.5)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	ch, cancel, err := reg.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	// The existing collection arrives without any further write.
	got := receive(t, ch)
	if len(got) != 1 || got[0].Timestamp != 1000 {
		t.Errorf("replayed collection = %+v, want the seeded reading", got)
	}
}

func TestRegistry_Subscribe_DuringSeedReplaysPersistedRows(t *testing.T) {
	repo := newGatedRepo(*testReading(1, 1000, 36.5))
	reg := NewRegistry(repo)
	ctx := context.Background()

	// First access creates the feed and parks inside the seed query.
	seedDone := make(chan error, 1)
	go func() {
		_, err := reg.Readings(ctx, 1)
		seedDone <- err
	}()
	<-repo.entered

	// A subscription lands while the seed is still in flight. It must
	// wait for the seeded collection, never replay the empty one.
	type subResult struct {
		ch     <-chan []TemperatureReading
		cancel func()
		err    error
	}
	subDone := make(chan subResult, 1)
	go func() {
		ch, cancel, err := reg.Subscribe(ctx, 1)
		subDone <- subResult{ch, cancel, err}
	}()

	// Give the subscriber time to reach the feed before releasing.
	time.Sleep(10 * time.Millisecond)
	close(repo.release)

	if err := <-seedDone; err != nil {
		t.Fatalf("Readings() error = %v", err)
	}

	var sub subResult
	select {
	case sub = <-subDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Subscribe() to return")
	}
	if sub.err != nil {
		t.Fatalf("Subscribe() error = %v", sub.err)
	}
	defer sub.cancel()

	got := receive(t, sub.ch)
	if len(got) != 1 || got[0].Timestamp != 1000 {
		t.Errorf("replayed collection = %+v, want the persisted reading", got)
	}
}

func TestRegistry_Insert_RepublishesBeforeReturn(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	ch, cancel, err := reg.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()
	receive(t, ch) // drain the empty replay

	if err := reg.Insert(ctx, testReading(1, 2000, 37.0)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	// Insert returned, so the updated collection is already buffered.
	select {
	case got := <-ch:
		if len(got) != 1 || got[0].Temperature != 37.0 {
			t.Errorf("republished collection = %+v", got)
		}
	default:
		t.Error("no republish buffered after Insert returned")
	}
}

func TestRegistry_SlowSubscriberIsCoalesced(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	ch, cancel, err := reg.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()
	receive(t, ch)

	// Two writes without a read in between: the subscriber sees only the
	// latest collection.
	if err := reg.Insert(ctx, testReading(1, 1000, 36.0)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := reg.Insert(ctx, testReading(1, 2000, 38.0)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got := receive(t, ch)
	if len(got) != 2 {
		t.Fatalf("coalesced collection len = %d, want 2", len(got))
	}
	if got[0].Timestamp != 2000 {
		t.Errorf("coalesced head = %d, want newest 2000", got[0].Timestamp)
	}
}

func TestRegistry_FilteredProjections(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	realtime := testReading(1, 2000, 37.0)
	history := testReading(1, 1000, 36.0)
	history.Realtime = false
	if err := reg.Insert(ctx, realtime); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := reg.Insert(ctx, history); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	rtCh, rtCancel, err := reg.SubscribeRealtime(ctx, 1)
	if err != nil {
		t.Fatalf("SubscribeRealtime() error = %v", err)
	}
	defer rtCancel()
	got := receive(t, rtCh)
	if len(got) != 1 || !got[0].Realtime {
		t.Errorf("realtime projection = %+v, want one realtime reading", got)
	}

	histCh, histCancel, err := reg.SubscribeHistory(ctx, 1)
	if err != nil {
		t.Fatalf("SubscribeHistory() error = %v", err)
	}
	defer histCancel()
	got = receive(t, histCh)
	if len(got) != 1 || got[0].Realtime {
		t.Errorf("history projection = %+v, want one history reading", got)
	}
}

func TestRegistry_UsersAreIsolated(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	ch1, cancel1, err := reg.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("Subscribe(1) error = %v", err)
	}
	defer cancel1()
	receive(t, ch1)

	// A write for user 2 must not republish user 1's collection.
	if err := reg.Insert(ctx, testReading(2, 1000, 36.5)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	select {
	case got := <-ch1:
		t.Errorf("user 1 received %+v for a user 2 write", got)
	default:
	}
}

func TestRegistry_SinksReceiveStoredReadings(t *testing.T) {
	reg := newTestRegistry(t)
	sink := &recordingSink{}
	reg.AddSink(sink)
	reg.AddSink(nil) // nil collaborators are tolerated
	ctx := context.Background()

	if err := reg.Insert(ctx, testReading(1, 1000, 36.5)); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	records := []HistoryRecord{
		{Year: 2025, Month: 8, Day: 10, Hour: 9, Minute: 0, Second: 0, Temperature: "36.7"},
		{Year: 2025, Month: 8, Day: 10, Hour: 9, Minute: 0, Second: 0, Temperature: "36.7"}, // in-batch dup
	}
	if err := reg.InsertHistoryBatch(ctx, 1, "AA:BB", nil, records); err != nil {
		t.Fatalf("InsertHistoryBatch() error = %v", err)
	}

	// One realtime insert plus one deduplicated history row.
	if got := sink.count(); got != 2 {
		t.Errorf("sink notifications = %d, want 2", got)
	}
}

func TestRegistry_CancelStopsDelivery(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	ch, cancel, err := reg.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	receive(t, ch)
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}

	// Writes after cancel must not panic.
	if err := reg.Insert(ctx, testReading(1, 1000, 36.5)); err != nil {
		t.Fatalf("Insert() after cancel error = %v", err)
	}
}
