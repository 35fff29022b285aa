// Package plugs collects smart-plug telemetry and keeps the device registry
// in sync with the vendor cloud.
package plugs

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/guivega7/Goodwe-Challenge/pkg/storage"
	"github.com/guivega7/Goodwe-Challenge/pkg/tuya"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

const (
	// DefaultWindow bounds how far back the summary and recent queries look.
	DefaultWindow = 24 * time.Hour
	// DefaultLimit caps the recent-readings listing.
	DefaultLimit = 50
)

// TuyaAPI is the subset of the vendor client the plug services use.
type TuyaAPI interface {
	DeviceStatus(ctx context.Context, deviceID string) (tuya.Device, error)
	ListDevices(ctx context.Context) (tuya.DeviceList, error)
	PrimaryDevice() string
}

var _ TuyaAPI = (*tuya.Client)(nil)

// Service owns plug collection, summaries, and vendor sync.
type Service struct {
	db   storage.Database
	tuya TuyaAPI
}

func NewService(db storage.Database, api TuyaAPI) *Service {
	return &Service{db: db, tuya: api}
}

// readingsInWindow merges the readings of every known device within the
// window, newest first. Readings collected before the first sync live under
// the primary plug's vendor id, so that id is always included.
func (s *Service) readingsInWindow(ctx context.Context, window time.Duration) ([]types.PlugReading, error) {
	devices, err := s.db.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	ids := make([]string, 0, len(devices)+1)
	for _, d := range devices {
		if !seen[d.ID] {
			seen[d.ID] = true
			ids = append(ids, d.ID)
		}
	}
	if pid := s.tuya.PrimaryDevice(); pid != "" && !seen[pid] {
		ids = append(ids, pid)
	}

	end := time.Now().Add(time.Second)
	start := end.Add(-window)

	var all []types.PlugReading
	for _, id := range ids {
		readings, err := s.db.GetPlugReadings(ctx, id, start, end)
		if err != nil {
			return nil, err
		}
		all = append(all, readings...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	return all, nil
}

// Recent returns the newest readings across all plugs.
func (s *Service) Recent(ctx context.Context, limit int) ([]types.PlugReading, error) {
	if limit <= 0 || limit > 500 {
		limit = DefaultLimit
	}
	readings, err := s.readingsInWindow(ctx, DefaultWindow)
	if err != nil {
		return nil, err
	}
	if len(readings) > limit {
		readings = readings[:limit]
	}
	return readings, nil
}

// Readings returns every reading within the window, newest first.
func (s *Service) Readings(ctx context.Context, window time.Duration) ([]types.PlugReading, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	return s.readingsInWindow(ctx, window)
}

// Summary aggregates the readings of the last window.
func (s *Service) Summary(ctx context.Context, window time.Duration) (types.PlugSummary, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	readings, err := s.readingsInWindow(ctx, window)
	if err != nil {
		return types.PlugSummary{}, err
	}

	sum := types.PlugSummary{Count: len(readings), UpdatedAt: time.Now().UTC()}
	if len(readings) == 0 {
		return sum, nil
	}

	var power, voltage, current float64
	for _, r := range readings {
		power += r.PowerW
		voltage += r.VoltageV
		current += r.CurrentA
		if r.PowerW > sum.MaxPowerW {
			sum.MaxPowerW = r.PowerW
		}
	}
	n := float64(len(readings))
	sum.AvgPowerW = round2(power / n)
	sum.MaxPowerW = round2(sum.MaxPowerW)
	sum.AvgVoltageV = round2(voltage / n)
	sum.AvgCurrentA = round3(current / n)
	return sum, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
