// Package session owns the lifecycle of one thermometer connection.
//
// The Manager implements peripheral.Events and drives the post-connect
// protocol to completion: clock sync, storage enumeration, history
// backfill, then a realtime polling loop with write deduplication.
// Results flow into the reading registry; observers follow the session
// through a reactive status snapshot.
package session

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/takniatech/htd-core/internal/peripheral"
	"github.com/takniatech/htd-core/internal/reading"
	"github.com/takniatech/htd-core/internal/settings"
)

// ErrAlreadyConnected is returned when Connect is called while a
// connection is active. A second connection is rejected, not queued.
var ErrAlreadyConnected = errors.New("session: already connected")

// ErrNotStarted is returned by commands issued before Start.
var ErrNotStarted = errors.New("session: manager not started")

// codeIdle is the status code before any connect attempt.
const codeIdle peripheral.ConnectStatus = -1

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Log(level slog.Level, msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any)           {}
func (noopLogger) Info(string, ...any)            {}
func (noopLogger) Warn(string, ...any)            {}
func (noopLogger) Error(string, ...any)           {}
func (noopLogger) Log(slog.Level, string, ...any) {}

// StatusSink receives status transitions for fan-out to telemetry
// mirrors. Implementations must not block for long.
type StatusSink interface {
	SessionStatus(s Status)
}

// OpError is the last failed protocol operation, kept until the next
// reset.
type OpError struct {
	Op   int `json:"op"`
	Code int `json:"code"`
}

// Status is the observable session snapshot.
type Status struct {
	Code          peripheral.ConnectStatus `json:"code"`
	Message       string                   `json:"message"`
	DeviceAddress string                   `json:"device_address,omitempty"`
	Synced        bool                     `json:"synced"`
	StorageTotal  int                      `json:"storage_total"`
	LastOpError   *OpError                 `json:"last_op_error,omitempty"`
}

// SearchState is the observable discovery snapshot.
type SearchState struct {
	Devices  []peripheral.DiscoveredDevice `json:"devices"`
	Complete bool                          `json:"complete"`
	Message  string                        `json:"message,omitempty"`
}

// Config holds the session tunables. Zero values fall back to the
// historical defaults.
type Config struct {
	PollInterval time.Duration // realtime poll period, default 2s
	DedupEpsilon float64       // minimum temperature delta to persist, default 0.0001
	ScanTimeout  time.Duration // discovery bound handed to the adapter, default 20s
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.DedupEpsilon <= 0 {
		c.DedupEpsilon = 0.0001
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = 20 * time.Second
	}
	return c
}

// Manager mediates between the peripheral's callback protocol and the
// persistence layer. One peripheral connection at a time.
type Manager struct {
	peripheral peripheral.Peripheral
	registry   *reading.Registry
	settings   *settings.Store // optional, nil skips device persistence
	cfg        Config
	logger     Logger

	// Supervising scope for background work. Outlives any caller.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	status Status
	search SearchState
	userID int64

	pollCancel context.CancelFunc

	statusSubs   map[int]chan Status
	nextStatusID int

	sinks   []StatusSink
	sinksMu sync.RWMutex
}

// NewManager creates a session manager over the given peripheral.
// The settings store may be nil.
func NewManager(p peripheral.Peripheral, registry *reading.Registry, store *settings.Store, cfg Config) *Manager {
	return &Manager{
		peripheral: p,
		registry:   registry,
		settings:   store,
		cfg:        cfg.withDefaults(),
		logger:     noopLogger{},
		status:     Status{Code: codeIdle},
		statusSubs: make(map[int]chan Status),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// AddStatusSink registers a telemetry sink for status transitions.
// Nil sinks are ignored.
func (m *Manager) AddStatusSink(s StatusSink) {
	if s == nil {
		return
	}
	m.sinksMu.Lock()
	m.sinks = append(m.sinks, s)
	m.sinksMu.Unlock()
}

// Start initialises the peripheral transport and opens the supervising
// scope hosting background work.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	return m.peripheral.Init(m.ctx, m)
}

// Close stops polling, cancels background work and waits for it.
func (m *Manager) Close() {
	m.stopPolling()
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// SetCurrentUser sets the owner of subsequently persisted samples.
func (m *Manager) SetCurrentUser(id int64) {
	m.mu.Lock()
	m.userID = id
	m.mu.Unlock()
}

// StartSearch resets the discovery state and requests a bounded scan.
func (m *Manager) StartSearch() error {
	if m.ctx == nil {
		return ErrNotStarted
	}
	m.mu.Lock()
	m.search = SearchState{}
	m.mu.Unlock()

	m.logger.Debug("starting device search", "timeout", m.cfg.ScanTimeout)
	return m.peripheral.StartSearch(m.cfg.ScanTimeout)
}

// StopSearch cancels the active scan.
func (m *Manager) StopSearch() error {
	if m.ctx == nil {
		return ErrNotStarted
	}
	return m.peripheral.StopSearch()
}

// SearchState returns the current discovery snapshot.
func (m *Manager) SearchState() SearchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.search
	out.Devices = append([]peripheral.DiscoveredDevice(nil), m.search.Devices...)
	return out
}

// Connect targets a device by address. Rejected while a connection is
// already established.
func (m *Manager) Connect(address string) error {
	if m.ctx == nil {
		return ErrNotStarted
	}
	m.mu.Lock()
	if m.status.Code == peripheral.Connected {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.status.DeviceAddress = address
	m.mu.Unlock()

	m.logger.Info("connecting to device", "address", address)
	return m.peripheral.Connect(address)
}

// Disconnect cancels polling, requests a peripheral disconnect and
// resets the session state. Persisted readings are untouched.
func (m *Manager) Disconnect() error {
	if m.ctx == nil {
		return ErrNotStarted
	}
	m.stopPolling()
	err := m.peripheral.Disconnect()
	m.resetSessionState("")
	return err
}

// ReconnectLast attempts to reconnect to the previously saved device.
// A missing saved device is a no-op; an adapter failure becomes a
// status message rather than an error.
func (m *Manager) ReconnectLast(ctx context.Context) error {
	if m.settings == nil {
		return nil
	}
	address, _, err := m.settings.LastDevice(ctx)
	if errors.Is(err, settings.ErrNotSet) {
		return nil
	}
	if err != nil {
		return err
	}

	m.logger.Info("reconnecting to last device", "address", address)
	if err := m.Connect(address); err != nil && !errors.Is(err, ErrAlreadyConnected) {
		m.publishMessage("bluetooth unavailable, reconnect skipped")
		m.logger.Warn("reconnect attempt failed", "address", address, "error", err)
	}
	return nil
}

// Status returns the current session snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe returns a channel carrying the session status with
// latest-value replay, plus a cancel function. Slow consumers are
// coalesced to the most recent snapshot.
func (m *Manager) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	m.mu.Lock()
	id := m.nextStatusID
	m.nextStatusID++
	m.statusSubs[id] = ch
	ch <- m.status
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.statusSubs[id]; ok {
			delete(m.statusSubs, id)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

// OnDeviceFound records a discovery result, deduplicating by address
// with replace-in-place semantics.
func (m *Manager) OnDeviceFound(d peripheral.DiscoveredDevice) {
	m.mu.Lock()
	devices := m.search.Devices
	for i := range devices {
		if devices[i].Address == d.Address {
			devices = append(devices[:i], devices[i+1:]...)
			break
		}
	}
	m.search.Devices = append(devices, d)
	m.mu.Unlock()

	m.logger.Debug("device discovered", "address", d.Address, "name", d.Name, "rssi", d.RSSI, "has_new_data", d.HasNewData)
}

// OnSearchError surfaces a scan failure as status text and stops the scan.
func (m *Manager) OnSearchError(cause int) {
	msg := peripheral.SearchErrorMessage(cause)
	m.mu.Lock()
	m.search.Complete = true
	m.search.Message = msg
	m.mu.Unlock()

	m.logger.Error("device search failed", "cause", cause, "message", msg)
	if err := m.peripheral.StopSearch(); err != nil {
		m.logger.Warn("stopping failed search", "error", err)
	}
	m.publishMessage(msg)
}

// OnSearchComplete marks the scan finished.
func (m *Manager) OnSearchComplete() {
	m.mu.Lock()
	m.search.Complete = true
	m.mu.Unlock()
	m.logger.Debug("device search complete")
}

// OnConnectStatus applies a connection status transition. Connected
// starts the post-connect protocol; the two disconnection codes and the
// terminal failures reset the session to baseline.
func (m *Manager) OnConnectStatus(status peripheral.ConnectStatus) {
	m.logger.Log(status.LogLevel(), "connection status", "code", int(status), "message", status.Message())

	switch {
	case status == peripheral.Connected:
		m.mu.Lock()
		m.status.Code = status
		m.status.Message = status.Message()
		address := m.status.DeviceAddress
		m.mu.Unlock()
		m.publishStatus()

		m.saveLastDevice(address)
		if err := m.peripheral.SetTime(time.Now()); err != nil {
			m.logger.Error("requesting time sync", "error", err)
		}

	case status == peripheral.Connecting:
		m.mu.Lock()
		m.status.Code = status
		m.status.Message = status.Message()
		m.mu.Unlock()
		m.publishStatus()

	default:
		// Disconnections and terminal failures share the reset path.
		m.stopPolling()
		m.mu.Lock()
		m.status = Status{Code: status, Message: status.Message()}
		m.mu.Unlock()
		m.publishStatus()
	}
}

// OnSetTimeSuccess records the sync flag and requests the storage count.
func (m *Manager) OnSetTimeSuccess() {
	m.mu.Lock()
	m.status.Synced = true
	m.mu.Unlock()
	m.publishStatus()

	m.logger.Debug("device clock synchronized")
	if err := m.peripheral.GetStorageInfo(); err != nil {
		m.logger.Error("requesting storage info", "error", err)
	}
}

// OnStorageInfoSuccess branches on the device-resident record count:
// positive counts fetch history first, zero goes straight to polling.
func (m *Manager) OnStorageInfoSuccess(count int) {
	m.mu.Lock()
	m.status.StorageTotal = count
	m.mu.Unlock()
	m.publishStatus()

	m.logger.Info("device storage enumerated", "count", count)
	if count > 0 {
		if err := m.peripheral.GetHistoryData(); err != nil {
			m.logger.Error("requesting history", "error", err)
		}
		return
	}
	m.startPolling()
}

// OnHistoryData imports the backfill batch in the background, then
// starts realtime polling.
func (m *Manager) OnHistoryData(records []peripheral.HistoryRecord) {
	m.mu.Lock()
	userID := m.userID
	address := m.status.DeviceAddress
	m.mu.Unlock()

	m.logger.Info("history batch received", "records", len(records))
	if userID <= 0 {
		m.logger.Warn("history batch dropped, no current user")
		m.startPolling()
		return
	}

	m.runInBackground(func(ctx context.Context) {
		batch := make([]reading.HistoryRecord, len(records))
		for i, r := range records {
			batch[i] = reading.HistoryRecord{
				Year:        r.Year,
				Month:       r.Month,
				Day:         r.Day,
				Hour:        r.Hour,
				Minute:      r.Minute,
				Second:      r.Second,
				UnitCode:    r.UnitCode,
				Temperature: r.Temp,
			}
		}
		name := m.deviceName(address)
		if err := m.registry.InsertHistoryBatch(ctx, userID, address, name, batch); err != nil {
			m.logger.Error("storing history batch", "error", err)
		}
		m.startPolling()
	})
}

// OnHistoryDataEmpty starts polling directly.
func (m *Manager) OnHistoryDataEmpty() {
	m.logger.Debug("device history empty")
	m.startPolling()
}

// OnRealtimeData persists a live sample in the background unless it
// duplicates the last persisted one. A sample arriving while no poller
// runs restarts polling.
func (m *Manager) OnRealtimeData(sample peripheral.RealtimeSample) {
	m.mu.Lock()
	userID := m.userID
	address := m.status.DeviceAddress
	polling := m.pollCancel != nil
	m.mu.Unlock()

	if !polling {
		m.startPolling()
	}
	if userID <= 0 || address == "" {
		m.logger.Debug("realtime sample dropped, no current user or device")
		return
	}

	m.runInBackground(func(ctx context.Context) {
		m.persistSample(ctx, userID, address, sample)
	})
}

// OnOperationFail records the failed operation. The connection stays
// open and the next scheduled step proceeds on its own.
func (m *Manager) OnOperationFail(op int, code int) {
	m.mu.Lock()
	m.status.LastOpError = &OpError{Op: op, Code: code}
	m.mu.Unlock()
	m.publishStatus()

	m.logger.Error("device operation failed", "op", op, "code", code)
}

// persistSample applies the realtime dedup rule and inserts when the
// sample differs from the last persisted one: device error differs, raw
// state differs, or the temperature moved by more than the epsilon. An
// unreadable temperature carries the last persisted value forward so it
// never fakes a temperature change on its own.
func (m *Manager) persistSample(ctx context.Context, userID int64, address string, sample peripheral.RealtimeSample) {
	value, parsed := sample.Value()
	r := &reading.TemperatureReading{
		UserID:        userID,
		DeviceAddress: address,
		DeviceName:    m.deviceName(address),
		Temperature:   value,
		Unit:          sample.Unit(),
		Timestamp:     time.Now().UnixMilli(),
		Realtime:      true,
		DeviceError:   sample.Error,
		RawState:      sample.State(),
	}

	last, err := m.registry.LastRealtime(ctx, userID, address)
	switch {
	case errors.Is(err, reading.ErrReadingNotFound):
		// First sample for this user+device, always persisted.
	case err != nil:
		m.logger.Error("loading last realtime reading", "error", err)
		return
	default:
		if !parsed {
			r.Temperature = last.Temperature
		}
		if !strPtrDiffers(last.DeviceError, r.DeviceError) &&
			!int64PtrDiffers(last.RawState, r.RawState) &&
			math.Abs(last.Temperature-r.Temperature) <= m.cfg.DedupEpsilon {
			return // unchanged, dropped silently
		}
	}

	if err := m.registry.Insert(ctx, r); err != nil {
		m.logger.Error("storing realtime reading", "error", err)
	}
}

// startPolling launches the realtime polling loop. Idempotent.
func (m *Manager) startPolling() {
	m.mu.Lock()
	if m.pollCancel != nil || m.ctx == nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.pollCancel = cancel
	m.mu.Unlock()

	m.logger.Debug("realtime polling started", "interval", m.cfg.PollInterval)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.peripheral.GetRealtimeData(); err != nil {
					// Polling continues after a failed request.
					m.logger.Warn("requesting realtime sample", "error", err)
				}
			}
		}
	}()
}

// stopPolling cancels the polling loop if one is running.
func (m *Manager) stopPolling() {
	m.mu.Lock()
	cancel := m.pollCancel
	m.pollCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		m.logger.Debug("realtime polling stopped")
	}
}

// resetSessionState clears the sync flag, storage count and pending
// error. Persisted readings are not touched.
func (m *Manager) resetSessionState(message string) {
	m.mu.Lock()
	m.status = Status{Code: codeIdle, Message: message}
	m.mu.Unlock()
	m.publishStatus()
}

// publishMessage updates only the status text.
func (m *Manager) publishMessage(message string) {
	m.mu.Lock()
	m.status.Message = message
	m.mu.Unlock()
	m.publishStatus()
}

// publishStatus pushes the current snapshot to subscribers and sinks.
func (m *Manager) publishStatus() {
	m.mu.Lock()
	snapshot := m.status
	for _, ch := range m.statusSubs {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
	m.mu.Unlock()

	m.sinksMu.RLock()
	for _, s := range m.sinks {
		s.SessionStatus(snapshot)
	}
	m.sinksMu.RUnlock()
}

// saveLastDevice persists the connected device for reconnection on the
// next launch. Best effort, background.
func (m *Manager) saveLastDevice(address string) {
	if m.settings == nil || address == "" {
		return
	}
	name := ""
	if n := m.deviceName(address); n != nil {
		name = *n
	}
	m.runInBackground(func(ctx context.Context) {
		if err := m.settings.SaveLastDevice(ctx, address, name); err != nil {
			m.logger.Warn("saving last device", "error", err)
		}
	})
}

// deviceName looks the address up in the discovery results. Nil when
// the device was never seen in a scan this session.
func (m *Manager) deviceName(address string) *string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.search.Devices {
		if d.Address == address && d.Name != "" {
			name := d.Name
			return &name
		}
	}
	return nil
}

// runInBackground schedules work on the supervising scope so callbacks
// never wait on I/O.
func (m *Manager) runInBackground(fn func(ctx context.Context)) {
	if m.ctx == nil || m.ctx.Err() != nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
}

func strPtrDiffers(a, b *string) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	return a != nil && *a != *b
}

func int64PtrDiffers(a, b *int64) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	return a != nil && *a != *b
}
