package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceExists   = errors.New("device name already registered")
)

// Database defines the interface for persisting data and retrieving settings.
type Database interface {
	// Settings
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error

	// Devices
	ListDevices(ctx context.Context) ([]types.Device, error)
	GetDevice(ctx context.Context, id string) (types.Device, error)
	// CreateDevice fails with ErrDeviceExists when another device already
	// carries the same name.
	CreateDevice(ctx context.Context, device types.Device) error
	UpdateDevice(ctx context.Context, device types.Device) error
	DeleteDevice(ctx context.Context, id string) error

	// Plug telemetry
	InsertPlugReading(ctx context.Context, reading types.PlugReading) error
	GetPlugReadings(ctx context.Context, deviceID string, start, end time.Time) ([]types.PlugReading, error)
	GetLatestPlugReading(ctx context.Context, deviceID string) (*types.PlugReading, error)

	// Daily energy history
	UpsertDayEnergy(ctx context.Context, day types.DayEnergy, version int) error
	GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.DayEnergy, error)
	GetLatestEnergyDay(ctx context.Context) (time.Time, int, error)

	// Simulator state
	GetSimState(ctx context.Context) (types.SimState, error)
	SetSimState(ctx context.Context, state types.SimState) error

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, postgres)")

	var p struct{ Database }

	fs := configuredFirestore()
	pg := configuredPostgres()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "postgres":
			if err := pg.Validate(); err != nil {
				panic(fmt.Sprintf("postgres validation failed: %v", err))
			}
			p.Database = pg
			if err := pg.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("postgres init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
