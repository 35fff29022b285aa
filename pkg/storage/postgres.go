package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/levenlabs/go-lflag"

	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// pgSchema is applied on startup. Statements are idempotent so restarts are
// safe against an existing database.
var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS settings (
		id INT PRIMARY KEY CHECK (id = 1),
		json TEXT NOT NULL,
		version INT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		json TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS plug_readings (
		device_id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		json TEXT NOT NULL,
		PRIMARY KEY (device_id, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS energy_history (
		day DATE PRIMARY KEY,
		json TEXT NOT NULL,
		version INT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS sim_state (
		id INT PRIMARY KEY CHECK (id = 1),
		json TEXT NOT NULL
	)`,
}

// PostgresProvider implements the Database interface on PostgreSQL. Like the
// Firestore provider it stores entities as JSON strings, keeping only the
// columns needed for keys and range scans.
type PostgresProvider struct {
	pool *pgxpool.Pool
	url  string
}

// configuredPostgres sets up the Postgres provider.
// It registers flags for configuration.
func configuredPostgres() *PostgresProvider {
	url := lflag.String("postgres-url", "", "PostgreSQL connection URL")

	p := &PostgresProvider{}

	lflag.Do(func() {
		p.url = *url
	})

	return p
}

// Validate checks if the provider is properly configured.
func (p *PostgresProvider) Validate() error {
	if p.url == "" {
		return fmt.Errorf("postgres-url is required")
	}
	return nil
}

// Init connects the pool and applies the schema.
func (p *PostgresProvider) Init(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, p.url)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	for _, stmt := range pgSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	p.pool = pool
	return nil
}

// Close releases the pool resources.
func (p *PostgresProvider) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// GetSettings retrieves the dynamic configuration.
func (p *PostgresProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	var jsonStr string
	var version int
	err := p.pool.QueryRow(ctx, `SELECT json, version FROM settings WHERE id = 1`).Scan(&jsonStr, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		// Return default settings if not found
		return types.Settings{}, 0, nil
	}
	if err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings row: %w", err)
	}

	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the dynamic configuration.
func (p *PostgresProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO settings (id, json, version) VALUES (1, $1, $2)
ON CONFLICT (id) DO UPDATE
SET json = EXCLUDED.json,
    version = EXCLUDED.version`, string(jsonBytes), version)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// CreateDevice adds a new device. The devices table enforces unique names.
func (p *PostgresProvider) CreateDevice(ctx context.Context, device types.Device) error {
	jsonBytes, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("failed to marshal device: %w", err)
	}
	_, err = p.pool.Exec(ctx, `INSERT INTO devices (id, name, json) VALUES ($1, $2, $3)`,
		device.ID, device.Name, string(jsonBytes))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDeviceExists, device.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create device %s: %w", device.ID, err)
	}
	return nil
}

// UpdateDevice replaces an existing device.
func (p *PostgresProvider) UpdateDevice(ctx context.Context, device types.Device) error {
	jsonBytes, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("failed to marshal device: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `UPDATE devices SET name = $2, json = $3 WHERE id = $1`,
		device.ID, device.Name, string(jsonBytes))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDeviceExists, device.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to update device %s: %w", device.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, device.ID)
	}
	return nil
}

// GetDevice retrieves a single device.
func (p *PostgresProvider) GetDevice(ctx context.Context, id string) (types.Device, error) {
	var jsonStr string
	err := p.pool.QueryRow(ctx, `SELECT json FROM devices WHERE id = $1`, id).Scan(&jsonStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if err != nil {
		return types.Device{}, fmt.Errorf("failed to get device %s: %w", id, err)
	}

	var d types.Device
	if err := json.Unmarshal([]byte(jsonStr), &d); err != nil {
		return types.Device{}, fmt.Errorf("failed to unmarshal device %s: %w", id, err)
	}
	return d, nil
}

// DeleteDevice removes a device and its readings.
func (p *PostgresProvider) DeleteDevice(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM plug_readings WHERE device_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete readings for device %s: %w", id, err)
	}
	return nil
}

// ListDevices retrieves all devices ordered by id.
func (p *PostgresProvider) ListDevices(ctx context.Context) ([]types.Device, error) {
	rows, err := p.pool.Query(ctx, `SELECT json FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []types.Device
	for rows.Next() {
		var jsonStr string
		if err := rows.Scan(&jsonStr); err != nil {
			return nil, err
		}
		var d types.Device
		if err := json.Unmarshal([]byte(jsonStr), &d); err != nil {
			return nil, fmt.Errorf("failed to unmarshal device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// InsertPlugReading adds a telemetry sample. Re-collecting the same timestamp
// overwrites instead of duplicating.
func (p *PostgresProvider) InsertPlugReading(ctx context.Context, reading types.PlugReading) error {
	jsonBytes, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal plug reading: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO plug_readings (device_id, ts, json) VALUES ($1, $2, $3)
ON CONFLICT (device_id, ts) DO UPDATE
SET json = EXCLUDED.json`, reading.DeviceID, reading.Timestamp.UTC(), string(jsonBytes))
	if err != nil {
		return fmt.Errorf("failed to insert plug reading: %w", err)
	}
	return nil
}

// GetPlugReadings retrieves telemetry within [start, end) for one device.
func (p *PostgresProvider) GetPlugReadings(ctx context.Context, deviceID string, start, end time.Time) ([]types.PlugReading, error) {
	rows, err := p.pool.Query(ctx, `
SELECT json FROM plug_readings
WHERE device_id = $1 AND ts >= $2 AND ts < $3
ORDER BY ts`, deviceID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query plug readings: %w", err)
	}
	defer rows.Close()

	var readings []types.PlugReading
	for rows.Next() {
		var jsonStr string
		if err := rows.Scan(&jsonStr); err != nil {
			return nil, err
		}
		var r types.PlugReading
		if err := json.Unmarshal([]byte(jsonStr), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plug reading: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// GetLatestPlugReading retrieves the most recent telemetry sample for a
// device, or nil when none was recorded yet.
func (p *PostgresProvider) GetLatestPlugReading(ctx context.Context, deviceID string) (*types.PlugReading, error) {
	var jsonStr string
	err := p.pool.QueryRow(ctx, `
SELECT json FROM plug_readings
WHERE device_id = $1
ORDER BY ts DESC
LIMIT 1`, deviceID).Scan(&jsonStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest plug reading: %w", err)
	}

	var r types.PlugReading
	if err := json.Unmarshal([]byte(jsonStr), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plug reading: %w", err)
	}
	return &r, nil
}

// UpsertDayEnergy adds or updates one day of inverter history.
func (p *PostgresProvider) UpsertDayEnergy(ctx context.Context, day types.DayEnergy, version int) error {
	ts, err := day.Day()
	if err != nil {
		return fmt.Errorf("day energy has invalid date %q: %w", day.Date, err)
	}
	jsonBytes, err := json.Marshal(day)
	if err != nil {
		return fmt.Errorf("failed to marshal day energy: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO energy_history (day, json, version) VALUES ($1, $2, $3)
ON CONFLICT (day) DO UPDATE
SET json = EXCLUDED.json,
    version = EXCLUDED.version`, ts, string(jsonBytes), version)
	if err != nil {
		return fmt.Errorf("failed to upsert day energy: %w", err)
	}
	return nil
}

// GetEnergyHistory retrieves per-day records within [start, end).
func (p *PostgresProvider) GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.DayEnergy, error) {
	rows, err := p.pool.Query(ctx, `
SELECT json FROM energy_history
WHERE day >= $1 AND day < $2
ORDER BY day`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query energy history: %w", err)
	}
	defer rows.Close()

	var days []types.DayEnergy
	for rows.Next() {
		var jsonStr string
		if err := rows.Scan(&jsonStr); err != nil {
			return nil, err
		}
		var d types.DayEnergy
		if err := json.Unmarshal([]byte(jsonStr), &d); err != nil {
			return nil, fmt.Errorf("failed to unmarshal day energy: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// GetLatestEnergyDay retrieves the date of the last stored day along with the
// record version it was written at.
func (p *PostgresProvider) GetLatestEnergyDay(ctx context.Context) (time.Time, int, error) {
	var day time.Time
	var version int
	err := p.pool.QueryRow(ctx, `SELECT day, version FROM energy_history ORDER BY day DESC LIMIT 1`).Scan(&day, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, 0, nil
	}
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("failed to get latest day energy row: %w", err)
	}
	return day, version, nil
}

// GetSimState retrieves the simulator state. A missing row is a fresh state,
// not an error.
func (p *PostgresProvider) GetSimState(ctx context.Context) (types.SimState, error) {
	var jsonStr string
	err := p.pool.QueryRow(ctx, `SELECT json FROM sim_state WHERE id = 1`).Scan(&jsonStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.SimState{}, nil
	}
	if err != nil {
		return types.SimState{}, fmt.Errorf("failed to fetch sim state row: %w", err)
	}

	var s types.SimState
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		return types.SimState{}, fmt.Errorf("failed to unmarshal sim state json: %w", err)
	}
	return s, nil
}

// SetSimState saves the simulator state.
func (p *PostgresProvider) SetSimState(ctx context.Context, state types.SimState) error {
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal sim state: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO sim_state (id, json) VALUES (1, $1)
ON CONFLICT (id) DO UPDATE
SET json = EXCLUDED.json`, string(jsonBytes))
	if err != nil {
		return fmt.Errorf("failed to save sim state: %w", err)
	}
	return nil
}

var (
	_ Database = (*FirestoreProvider)(nil)
	_ Database = (*PostgresProvider)(nil)
)
