package settings

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE settings (key TEXT PRIMARY KEY, value TEXT NOT NULL)"); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return NewStore(db)
}

func TestStore_UserIDLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.UserID(ctx); !errors.Is(err, ErrNotSet) {
		t.Errorf("UserID() before save error = %v, want ErrNotSet", err)
	}

	if err := store.SaveUserID(ctx, 42); err != nil {
		t.Fatalf("SaveUserID() error = %v", err)
	}
	id, err := store.UserID(ctx)
	if err != nil {
		t.Fatalf("UserID() error = %v", err)
	}
	if id != 42 {
		t.Errorf("UserID() = %d, want 42", id)
	}

	// Saving again overwrites rather than erroring.
	if err := store.SaveUserID(ctx, 7); err != nil {
		t.Fatalf("second SaveUserID() error = %v", err)
	}
	if id, _ := store.UserID(ctx); id != 7 {
		t.Errorf("UserID() after overwrite = %d, want 7", id)
	}

	if err := store.ClearUserID(ctx); err != nil {
		t.Fatalf("ClearUserID() error = %v", err)
	}
	if _, err := store.UserID(ctx); !errors.Is(err, ErrNotSet) {
		t.Errorf("UserID() after clear error = %v, want ErrNotSet", err)
	}
}

func TestStore_LastDevice(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, _, err := store.LastDevice(ctx); !errors.Is(err, ErrNotSet) {
		t.Errorf("LastDevice() before save error = %v, want ErrNotSet", err)
	}

	if err := store.SaveLastDevice(ctx, "AA:BB", "HTD-8808"); err != nil {
		t.Fatalf("SaveLastDevice() error = %v", err)
	}
	addr, name, err := store.LastDevice(ctx)
	if err != nil {
		t.Fatalf("LastDevice() error = %v", err)
	}
	if addr != "AA:BB" || name != "HTD-8808" {
		t.Errorf("LastDevice() = %q / %q, want AA:BB / HTD-8808", addr, name)
	}

	// A later connection replaces the saved device.
	if err := store.SaveLastDevice(ctx, "CC:DD", "HTD-8809"); err != nil {
		t.Fatalf("second SaveLastDevice() error = %v", err)
	}
	addr, name, _ = store.LastDevice(ctx)
	if addr != "CC:DD" || name != "HTD-8809" {
		t.Errorf("LastDevice() after replace = %q / %q, want CC:DD / HTD-8809", addr, name)
	}
}

func TestStore_Subscribe(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SaveUserID(ctx, 1); err != nil {
		t.Fatalf("SaveUserID() error = %v", err)
	}

	ch, cancel, err := store.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	// Current state replays immediately.
	select {
	case snap := <-ch:
		if snap.UserID != 1 {
			t.Errorf("replayed snapshot = %+v, want user 1", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for replay")
	}

	if err := store.SaveLastDevice(ctx, "AA:BB", "HTD-8808"); err != nil {
		t.Fatalf("SaveLastDevice() error = %v", err)
	}

	select {
	case snap := <-ch:
		if snap.UserID != 1 || snap.LastDeviceAddress != "AA:BB" {
			t.Errorf("updated snapshot = %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}

	cancel()
	cancel() // idempotent
	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
}

func TestStore_SlowSubscriberCoalesces(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ch, cancel, err := store.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()
	<-ch // drain replay

	// Two writes without a read: only the latest snapshot remains.
	if err := store.SaveUserID(ctx, 1); err != nil {
		t.Fatalf("SaveUserID() error = %v", err)
	}
	if err := store.SaveUserID(ctx, 2); err != nil {
		t.Fatalf("SaveUserID() error = %v", err)
	}

	snap := <-ch
	if snap.UserID != 2 {
		t.Errorf("coalesced snapshot user = %d, want 2", snap.UserID)
	}
}
