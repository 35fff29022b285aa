package plugs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/metrics"
	"github.com/guivega7/Goodwe-Challenge/pkg/tuya"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// Collect reads the current status of every synced plug and stores one
// reading per device. Before the first sync has run it falls back to the
// configured primary plug, keyed by its vendor id. One failing device does
// not stop the others.
func (s *Service) Collect(ctx context.Context) (int, error) {
	devices, err := s.db.ListDevices(ctx)
	if err != nil {
		return 0, err
	}

	type target struct{ deviceID, vendorID string }
	var targets []target
	for _, d := range devices {
		if d.Source == types.DeviceSourceTuya && d.ExternalCode != "" {
			targets = append(targets, target{deviceID: d.ID, vendorID: d.ExternalCode})
		}
	}
	if len(targets) == 0 {
		if pid := s.tuya.PrimaryDevice(); pid != "" {
			targets = append(targets, target{deviceID: pid, vendorID: pid})
		}
	}
	if len(targets) == 0 {
		return 0, errors.New("no plugs to collect: sync devices or configure a primary plug")
	}

	stored := 0
	for _, tgt := range targets {
		if err := s.collectOne(ctx, tgt.deviceID, tgt.vendorID); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "plug collection failed",
				slog.String("deviceID", tgt.deviceID), slog.Any("err", err))
			continue
		}
		stored++
	}
	if stored == 0 {
		return 0, fmt.Errorf("all %d plug collections failed", len(targets))
	}
	return stored, nil
}

func (s *Service) collectOne(ctx context.Context, deviceID, vendorID string) error {
	status, err := s.tuya.DeviceStatus(ctx, vendorID)
	if err != nil {
		return err
	}
	m := tuya.ParseMetrics(status.Status)

	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal raw status: %w", err)
	}
	reading := types.PlugReading{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		PowerW:    m.PowerW,
		VoltageV:  m.VoltageV,
		CurrentA:  m.CurrentA,
		EnergyWH:  m.EnergyWH,
		Raw:       raw,
	}
	if err := s.db.InsertPlugReading(ctx, reading); err != nil {
		return err
	}
	metrics.PlugReadings.Inc()
	log.Ctx(ctx).DebugContext(ctx, "stored plug reading",
		slog.String("deviceID", deviceID), slog.Float64("powerW", m.PowerW))
	return nil
}
