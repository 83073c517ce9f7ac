package reading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository defines the interface for temperature reading persistence.
// Storage errors propagate to the caller; there is no internal retry.
type Repository interface {
	// Insert stores a single reading and returns the generated id.
	Insert(ctx context.Context, r *TemperatureReading) (int64, error)

	// InsertHistoryBatch imports device-resident history in one
	// all-or-nothing transaction. A record whose (timestamp,
	// device_address) already exists is skipped. Returns the readings
	// that were actually inserted.
	InsertHistoryBatch(ctx context.Context, userID int64, deviceAddress string, deviceName *string, records []HistoryRecord) ([]TemperatureReading, error)

	// ListForUser returns all of a user's readings, newest timestamp first.
	ListForUser(ctx context.Context, userID int64) ([]TemperatureReading, error)

	// ListForDevice returns a user's readings for one device, newest first.
	ListForDevice(ctx context.Context, userID int64, deviceAddress string) ([]TemperatureReading, error)

	// LastRealtime returns the most recent realtime reading for a
	// user+device, or ErrReadingNotFound.
	LastRealtime(ctx context.Context, userID int64, deviceAddress string) (*TemperatureReading, error)

	// CountForUser returns the user's total persisted reading count.
	CountForUser(ctx context.Context, userID int64) (int, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed reading repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const readingColumns = "id, user_id, device_address, device_name, temperature, unit, timestamp, is_realtime, device_error, raw_state"

// Insert stores a single reading.
func (r *SQLiteRepository) Insert(ctx context.Context, reading *TemperatureReading) (int64, error) {
	if reading.UserID <= 0 || reading.DeviceAddress == "" {
		return 0, ErrInvalidReading
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO temperature_readings
		 (user_id, device_address, device_name, temperature, unit, timestamp, is_realtime, device_error, raw_state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reading.UserID, reading.DeviceAddress, reading.DeviceName,
		reading.Temperature, reading.Unit, reading.Timestamp,
		boolToInt(reading.Realtime), reading.DeviceError, reading.RawState,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting reading: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted id: %w", err)
	}
	reading.ID = id
	return id, nil
}

// InsertHistoryBatch imports history records in one transaction.
//
// Duplicate detection keys on (timestamp, device_address) and ignores
// user_id, preserving the behaviour history imports have always had.
// Two users importing from the same device therefore share one copy of
// each record.
func (r *SQLiteRepository) InsertHistoryBatch(ctx context.Context, userID int64, deviceAddress string, deviceName *string, records []HistoryRecord) ([]TemperatureReading, error) {
	if userID <= 0 || deviceAddress == "" {
		return nil, ErrInvalidReading
	}
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting history transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var inserted []TemperatureReading
	for _, rec := range records {
		ts := rec.Timestamp()

		var exists int
		err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM temperature_readings WHERE timestamp = ? AND device_address = ? LIMIT 1",
			ts, deviceAddress,
		).Scan(&exists)
		switch {
		case err == nil:
			continue // duplicate, skip
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("checking history duplicate: %w", err)
		}

		reading := TemperatureReading{
			UserID:        userID,
			DeviceAddress: deviceAddress,
			DeviceName:    deviceName,
			Temperature:   rec.Value(),
			Unit:          rec.Unit(),
			Timestamp:     ts,
			Realtime:      false,
		}

		result, err := tx.ExecContext(ctx,
			`INSERT INTO temperature_readings
			 (user_id, device_address, device_name, temperature, unit, timestamp, is_realtime, device_error, raw_state)
			 VALUES (?, ?, ?, ?, ?, ?, 0, NULL, NULL)`,
			reading.UserID, reading.DeviceAddress, reading.DeviceName,
			reading.Temperature, reading.Unit, reading.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting history reading: %w", err)
		}
		reading.ID, _ = result.LastInsertId() //nolint:errcheck // always succeeds on SQLite
		inserted = append(inserted, reading)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing history batch: %w", err)
	}
	return inserted, nil
}

// ListForUser returns all readings for a user, newest timestamp first.
func (r *SQLiteRepository) ListForUser(ctx context.Context, userID int64) ([]TemperatureReading, error) {
	return r.queryReadings(ctx,
		"SELECT "+readingColumns+" FROM temperature_readings WHERE user_id = ? ORDER BY timestamp DESC",
		userID,
	)
}

// ListForDevice returns a user's readings for one device, newest first.
func (r *SQLiteRepository) ListForDevice(ctx context.Context, userID int64, deviceAddress string) ([]TemperatureReading, error) {
	return r.queryReadings(ctx,
		"SELECT "+readingColumns+" FROM temperature_readings WHERE user_id = ? AND device_address = ? ORDER BY timestamp DESC",
		userID, deviceAddress,
	)
}

// LastRealtime returns the most recent realtime reading for a user+device.
func (r *SQLiteRepository) LastRealtime(ctx context.Context, userID int64, deviceAddress string) (*TemperatureReading, error) {
	rows, err := r.queryReadings(ctx,
		`SELECT `+readingColumns+` FROM temperature_readings
		 WHERE user_id = ? AND device_address = ? AND is_realtime = 1
		 ORDER BY timestamp DESC, id DESC LIMIT 1`,
		userID, deviceAddress,
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrReadingNotFound
	}
	return &rows[0], nil
}

// CountForUser returns the user's total persisted reading count.
func (r *SQLiteRepository) CountForUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM temperature_readings WHERE user_id = ?", userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting readings: %w", err)
	}
	return count, nil
}

// queryReadings executes a multi-row reading query.
func (r *SQLiteRepository) queryReadings(ctx context.Context, query string, args ...any) ([]TemperatureReading, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var readings []TemperatureReading
	for rows.Next() {
		var rd TemperatureReading
		var realtime int
		if err := rows.Scan(
			&rd.ID, &rd.UserID, &rd.DeviceAddress, &rd.DeviceName,
			&rd.Temperature, &rd.Unit, &rd.Timestamp, &realtime,
			&rd.DeviceError, &rd.RawState,
		); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		rd.Realtime = realtime == 1
		readings = append(readings, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
