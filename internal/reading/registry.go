package reading

import (
	"context"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sink receives stored readings for fan-out to telemetry mirrors.
// Implementations must not block for long and must do their own error
// handling; a failing sink never fails the write that triggered it.
type Sink interface {
	ReadingStored(r TemperatureReading)
}

// Registry provides per-user reactive collections over a Repository.
//
// One collection exists per user id, lazily created and seeded from
// storage on first access. Every write republishes the user's full
// collection to all subscribers before the write call returns, so a
// subscriber is always at least as fresh as the last completed write.
// No ordering guarantee exists between writes to different users.
//
// All public methods are thread-safe.
type Registry struct {
	repo   Repository
	logger Logger

	feeds   map[int64]*feed
	feedsMu sync.Mutex

	sinks   []Sink
	sinksMu sync.RWMutex
}

// feed is the reactive collection for one user.
type feed struct {
	// ready is closed once the initial seed from storage finished;
	// seedErr is written before the close when it failed. Accessors
	// wait on ready so the pre-seed nil collection is never observed.
	ready   chan struct{}
	seedErr error

	mu     sync.Mutex
	latest []TemperatureReading
	subs   map[int]chan []TemperatureReading
	nextID int
}

// NewRegistry creates a new reading registry over the given repository.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		logger: noopLogger{},
		feeds:  make(map[int64]*feed),
	}
}

// SetLogger sets the logger for the registry.
func (g *Registry) SetLogger(logger Logger) {
	g.logger = logger
}

// AddSink registers a telemetry sink. Nil sinks are ignored so callers
// can pass optional collaborators straight through.
func (g *Registry) AddSink(s Sink) {
	if s == nil {
		return
	}
	g.sinksMu.Lock()
	g.sinks = append(g.sinks, s)
	g.sinksMu.Unlock()
}

// Insert writes a single reading through to storage, then re-fetches and
// republishes the user's collection before returning.
func (g *Registry) Insert(ctx context.Context, r *TemperatureReading) error {
	if _, err := g.repo.Insert(ctx, r); err != nil {
		return err
	}
	g.notifySinks(*r)
	if err := g.republish(ctx, r.UserID); err != nil {
		return err
	}
	g.logger.Debug("reading stored", "user_id", r.UserID, "device", r.DeviceAddress, "realtime", r.Realtime)
	return nil
}

// InsertHistoryBatch imports history through to storage (deduplicated
// there), then republishes the user's collection.
func (g *Registry) InsertHistoryBatch(ctx context.Context, userID int64, deviceAddress string, deviceName *string, records []HistoryRecord) error {
	inserted, err := g.repo.InsertHistoryBatch(ctx, userID, deviceAddress, deviceName, records)
	if err != nil {
		return err
	}
	for _, r := range inserted {
		g.notifySinks(r)
	}
	if err := g.republish(ctx, userID); err != nil {
		return err
	}
	g.logger.Info("history batch stored",
		"user_id", userID,
		"device", deviceAddress,
		"received", len(records),
		"inserted", len(inserted),
	)
	return nil
}

// Readings returns the user's current collection, newest first.
// The result is the cached snapshot once the feed exists.
func (g *Registry) Readings(ctx context.Context, userID int64) ([]TemperatureReading, error) {
	f, err := g.ensureFeed(ctx, userID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneReadings(f.latest), nil
}

// ReadingsForDevice is a one-shot filtered read, not reactive.
func (g *Registry) ReadingsForDevice(ctx context.Context, userID int64, deviceAddress string) ([]TemperatureReading, error) {
	return g.repo.ListForDevice(ctx, userID, deviceAddress)
}

// LastRealtime returns the most recent realtime reading for a user+device.
func (g *Registry) LastRealtime(ctx context.Context, userID int64, deviceAddress string) (*TemperatureReading, error) {
	return g.repo.LastRealtime(ctx, userID, deviceAddress)
}

// CountForUser returns the user's total persisted reading count.
func (g *Registry) CountForUser(ctx context.Context, userID int64) (int, error) {
	return g.repo.CountForUser(ctx, userID)
}

// Subscribe returns a channel carrying the user's collection, and a
// cancel function releasing the subscription.
//
// The current snapshot is delivered immediately (latest-value replay) and
// every republish thereafter. A slow consumer is coalesced to the most
// recent value rather than blocking writers.
func (g *Registry) Subscribe(ctx context.Context, userID int64) (<-chan []TemperatureReading, func(), error) {
	f, err := g.ensureFeed(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan []TemperatureReading, 1)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	ch <- cloneReadings(f.latest)
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel, nil
}

// SubscribeRealtime subscribes to the realtime projection of the user's
// collection. The projection filters the same source; it has no cache of
// its own.
func (g *Registry) SubscribeRealtime(ctx context.Context, userID int64) (<-chan []TemperatureReading, func(), error) {
	return g.subscribeFiltered(ctx, userID, true)
}

// SubscribeHistory subscribes to the history projection of the user's
// collection.
func (g *Registry) SubscribeHistory(ctx context.Context, userID int64) (<-chan []TemperatureReading, func(), error) {
	return g.subscribeFiltered(ctx, userID, false)
}

// subscribeFiltered derives a realtime/history projection from Subscribe.
func (g *Registry) subscribeFiltered(ctx context.Context, userID int64, realtime bool) (<-chan []TemperatureReading, func(), error) {
	src, cancel, err := g.Subscribe(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan []TemperatureReading, 1)
	go func() {
		defer close(out)
		for collection := range src {
			filtered := make([]TemperatureReading, 0, len(collection))
			for _, r := range collection {
				if r.Realtime == realtime {
					filtered = append(filtered, r)
				}
			}
			// Coalesce: drop the undelivered value, keep the newest.
			select {
			case <-out:
			default:
			}
			out <- filtered
		}
	}()
	return out, cancel, nil
}

// ensureFeed returns the user's feed, creating and seeding it on first
// access. Callers racing the creator wait for the seed to finish, so a
// returned feed always holds at least the persisted rows.
func (g *Registry) ensureFeed(ctx context.Context, userID int64) (*feed, error) {
	g.feedsMu.Lock()
	f, ok := g.feeds[userID]
	if !ok {
		f = &feed{
			ready: make(chan struct{}),
			subs:  make(map[int]chan []TemperatureReading),
		}
		g.feeds[userID] = f
	}
	g.feedsMu.Unlock()

	if !ok {
		readings, err := g.repo.ListForUser(ctx, userID)
		if err != nil {
			// Seed failed: forget the feed so the next access retries.
			// Waiters inherit the error through seedErr.
			f.seedErr = fmt.Errorf("seeding reading feed: %w", err)
			g.feedsMu.Lock()
			delete(g.feeds, userID)
			g.feedsMu.Unlock()
			close(f.ready)
			return nil, f.seedErr
		}

		f.mu.Lock()
		f.latest = readings
		f.mu.Unlock()
		close(f.ready)
		return f, nil
	}

	select {
	case <-f.ready:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for reading feed: %w", ctx.Err())
	}
	if f.seedErr != nil {
		return nil, f.seedErr
	}
	return f, nil
}

// republish re-fetches the user's collection and pushes it to all
// subscribers. Called synchronously after every write.
func (g *Registry) republish(ctx context.Context, userID int64) error {
	f, err := g.ensureFeed(ctx, userID)
	if err != nil {
		return err
	}

	readings, err := g.repo.ListForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("reloading readings: %w", err)
	}

	f.mu.Lock()
	f.latest = readings
	for _, ch := range f.subs {
		// Coalesce to latest rather than blocking the writer.
		select {
		case <-ch:
		default:
		}
		ch <- cloneReadings(readings)
	}
	f.mu.Unlock()
	return nil
}

// notifySinks fans a stored reading out to the registered sinks.
func (g *Registry) notifySinks(r TemperatureReading) {
	g.sinksMu.RLock()
	defer g.sinksMu.RUnlock()
	for _, s := range g.sinks {
		s.ReadingStored(r)
	}
}

// cloneReadings copies a collection so subscribers cannot mutate the cache.
func cloneReadings(in []TemperatureReading) []TemperatureReading {
	out := make([]TemperatureReading, len(in))
	copy(out, in)
	return out
}
