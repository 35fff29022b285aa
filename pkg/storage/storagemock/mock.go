package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/guivega7/Goodwe-Challenge/pkg/storage"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context) (types.Settings, int, error) {
	args := m.Called(ctx)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	args := m.Called(ctx, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) ListDevices(ctx context.Context) ([]types.Device, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.Device), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetDevice(ctx context.Context, id string) (types.Device, error) {
	args := m.Called(ctx, id)
	if len(args) > 0 {
		return args.Get(0).(types.Device), args.Error(1)
	}
	return types.Device{}, nil
}

func (m *MockDatabase) CreateDevice(ctx context.Context, device types.Device) error {
	args := m.Called(ctx, device)
	return args.Error(0)
}

func (m *MockDatabase) UpdateDevice(ctx context.Context, device types.Device) error {
	args := m.Called(ctx, device)
	return args.Error(0)
}

func (m *MockDatabase) DeleteDevice(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDatabase) InsertPlugReading(ctx context.Context, reading types.PlugReading) error {
	args := m.Called(ctx, reading)
	return args.Error(0)
}

func (m *MockDatabase) GetPlugReadings(ctx context.Context, deviceID string, start, end time.Time) ([]types.PlugReading, error) {
	args := m.Called(ctx, deviceID, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.PlugReading), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetLatestPlugReading(ctx context.Context, deviceID string) (*types.PlugReading, error) {
	args := m.Called(ctx, deviceID)
	val := args.Get(0)
	if val == nil {
		return nil, args.Error(1)
	}
	return val.(*types.PlugReading), args.Error(1)
}

func (m *MockDatabase) UpsertDayEnergy(ctx context.Context, day types.DayEnergy, version int) error {
	args := m.Called(ctx, day, version)
	return args.Error(0)
}

func (m *MockDatabase) GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.DayEnergy, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.DayEnergy), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetLatestEnergyDay(ctx context.Context) (time.Time, int, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(time.Time), args.Int(1), args.Error(2)
	}
	return time.Time{}, 0, nil
}

func (m *MockDatabase) GetSimState(ctx context.Context) (types.SimState, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.SimState), args.Error(1)
	}
	return types.SimState{}, nil
}

func (m *MockDatabase) SetSimState(ctx context.Context, state types.SimState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
