// Package settings persists small app-level settings across restarts:
// the logged-in user id and the last-connected device. Values are stored
// in a key/value table and exposed both one-shot and as a reactive value
// with latest-value replay, mirroring how the rest of the system serves
// its collections.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// Setting keys.
const (
	keyUserID            = "user_id"
	keyLastDeviceAddress = "last_device_address"
	keyLastDeviceName    = "last_device_name"
)

// ErrNotSet is returned when a setting has no stored value.
var ErrNotSet = errors.New("settings: not set")

// Snapshot is the current state of all settings.
type Snapshot struct {
	// UserID is the logged-in user, 0 when nobody is logged in.
	UserID int64 `json:"user_id"`

	// LastDeviceAddress / LastDeviceName identify the most recently
	// connected peripheral, empty when none was saved.
	LastDeviceAddress string `json:"last_device_address"`
	LastDeviceName    string `json:"last_device_name"`
}

// Store is the SQLite-backed settings store.
// All methods are safe for concurrent use.
type Store struct {
	db *sql.DB

	mu     sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
}

// NewStore creates a settings store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:   db,
		subs: make(map[int]chan Snapshot),
	}
}

// UserID returns the logged-in user id, or ErrNotSet.
func (s *Store) UserID(ctx context.Context) (int64, error) {
	v, err := s.get(ctx, keyUserID)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing stored user id: %w", err)
	}
	return id, nil
}

// SaveUserID records the logged-in user.
func (s *Store) SaveUserID(ctx context.Context, id int64) error {
	if err := s.set(ctx, keyUserID, strconv.FormatInt(id, 10)); err != nil {
		return err
	}
	s.publish(ctx)
	return nil
}

// ClearUserID logs the user out.
func (s *Store) ClearUserID(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", keyUserID); err != nil {
		return fmt.Errorf("clearing user id: %w", err)
	}
	s.publish(ctx)
	return nil
}

// LastDevice returns the saved device address and name, or ErrNotSet
// when no device was saved.
func (s *Store) LastDevice(ctx context.Context) (address, name string, err error) {
	address, err = s.get(ctx, keyLastDeviceAddress)
	if err != nil {
		return "", "", err
	}
	// The name is best-effort; an address without a name is still usable.
	name, err = s.get(ctx, keyLastDeviceName)
	if errors.Is(err, ErrNotSet) {
		return address, "", nil
	}
	return address, name, err
}

// SaveLastDevice records the connected device address and name in one
// transaction so the pair is never half-written.
func (s *Store) SaveLastDevice(ctx context.Context, address, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting settings transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for key, value := range map[string]string{
		keyLastDeviceAddress: address,
		keyLastDeviceName:    name,
	} {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
			key, value,
		); err != nil {
			return fmt.Errorf("saving setting %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing settings: %w", err)
	}
	s.publish(ctx)
	return nil
}

// Snapshot returns the current settings state. Unset values are zero.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	if id, err := s.UserID(ctx); err == nil {
		snap.UserID = id
	} else if !errors.Is(err, ErrNotSet) {
		return Snapshot{}, err
	}

	addr, name, err := s.LastDevice(ctx)
	if err != nil && !errors.Is(err, ErrNotSet) {
		return Snapshot{}, err
	}
	snap.LastDeviceAddress = addr
	snap.LastDeviceName = name
	return snap, nil
}

// Subscribe returns a channel carrying the settings snapshot, current
// value replayed immediately, plus a cancel function.
func (s *Store) Subscribe(ctx context.Context) (<-chan Snapshot, func(), error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- snap
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel, nil
}

// get reads one setting value.
func (s *Store) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotSet
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

// set writes one setting value.
func (s *Store) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	return nil
}

// publish pushes the current snapshot to all subscribers, coalescing
// slow consumers to the latest value.
func (s *Store) publish(ctx context.Context) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return // read-back failure: subscribers keep the previous value
	}

	s.mu.Lock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
	s.mu.Unlock()
}
