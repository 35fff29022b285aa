package plugs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/tuya"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// Sync pulls the vendor device list and creates or updates registry entries.
// Existing devices are matched by vendor code first, then by name for entries
// registered before codes were stored.
func (s *Service) Sync(ctx context.Context) (types.SyncStats, error) {
	var stats types.SyncStats
	list, err := s.tuya.ListDevices(ctx)
	if err != nil {
		return stats, err
	}
	if list.Fallback != "" {
		log.Ctx(ctx).DebugContext(ctx, "device list used fallback", slog.String("fallback", list.Fallback))
	}
	if len(list.Devices) == 0 {
		log.Ctx(ctx).InfoContext(ctx, "no vendor devices to sync")
		return stats, nil
	}

	existing, err := s.db.ListDevices(ctx)
	if err != nil {
		return stats, err
	}
	byCode := make(map[string]types.Device)
	byName := make(map[string]types.Device)
	for _, d := range existing {
		if d.ExternalCode != "" {
			byCode[d.ExternalCode] = d
		}
		byName[d.Name] = d
	}

	now := time.Now().UTC()
	for _, dev := range list.Devices {
		stats.Found++
		if dev.ID == "" {
			continue
		}
		name := dev.Name
		if name == "" {
			name = "Tuya " + shortID(dev.ID)
		}

		powerW := s.currentPower(ctx, dev)

		entry, ok := byCode[dev.ID]
		if !ok {
			entry, ok = byName[name]
		}
		if !ok {
			est := powerW
			if est == 0 {
				est = 50 // assume a small idle appliance
			}
			created := types.Device{
				ID:             uuid.New().String(),
				Name:           name,
				ConsumptionKWH: estimateDailyKWH(est),
				Priority:       types.PriorityMedium,
				On:             true,
				Category:       categoryFor(dev),
				ExternalCode:   dev.ID,
				Source:         types.DeviceSourceTuya,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.db.CreateDevice(ctx, created); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "device create failed during sync",
					slog.String("name", name), slog.Any("err", err))
				continue
			}
			stats.Created++
			continue
		}

		if powerW > 0 {
			entry.ConsumptionKWH = estimateDailyKWH(powerW)
		}
		if entry.ExternalCode == "" {
			entry.ExternalCode = dev.ID
		}
		if entry.Source == "" {
			entry.Source = types.DeviceSourceTuya
		}
		entry.UpdatedAt = now
		if err := s.db.UpdateDevice(ctx, entry); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "device update failed during sync",
				slog.String("name", name), slog.Any("err", err))
			continue
		}
		stats.Updated++
	}

	log.Ctx(ctx).InfoContext(ctx, "device sync finished",
		slog.Int("found", stats.Found), slog.Int("created", stats.Created), slog.Int("updated", stats.Updated))
	return stats, nil
}

// currentPower reads the device's instantaneous draw, preferring the status
// list that came with the listing over an extra status call.
func (s *Service) currentPower(ctx context.Context, dev tuya.Device) float64 {
	if len(dev.Status) > 0 {
		return tuya.ParseMetrics(dev.Status).PowerW
	}
	status, err := s.tuya.DeviceStatus(ctx, dev.ID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "status read failed during sync",
			slog.String("deviceID", dev.ID), slog.Any("err", err))
		return 0
	}
	return tuya.ParseMetrics(status.Status).PowerW
}

// estimateDailyKWH turns instantaneous watts into an estimated daily figure
// assuming four hours of use.
func estimateDailyKWH(powerW float64) float64 {
	return round3(powerW * 4 / 1000)
}

func categoryFor(d tuya.Device) string {
	product := strings.ToLower(d.ProductName)
	switch {
	case strings.Contains(product, "switch"):
		return types.CategorySwitch
	case strings.Contains(product, "light"), d.Category == "dj":
		return types.CategoryLighting
	}
	return types.CategoryOutlet
}

func shortID(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}
