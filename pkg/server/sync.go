package server

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/guivega7/Goodwe-Challenge/pkg/inverter"
	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// energySyncDays is how far back a sync reaches when storage has no newer
// marker. Short outages heal on their own within this window.
const energySyncDays = 5

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

// SyncRes is the response type for the sync endpoint.
type SyncRes struct {
	SyncedDays int `json:"syncedDays"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sv, creds, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	p, err := s.providerFor(ctx, sv, creds)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to prepare inverter provider", slog.Any("error", err))
		writeJSONError(w, "failed to reach inverter", http.StatusBadGateway)
		return
	}

	synced, err := s.syncEnergyHistory(ctx, p)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to sync energy history", slog.Any("error", err))
		writeJSONError(w, "failed to sync energy history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, SyncRes{SyncedDays: synced})
}

// syncEnergyHistory pulls daily totals from the provider and upserts them
// into storage, returning the number of days written. The last stored day is
// always refetched since it was likely written mid-day.
func (s *Server) syncEnergyHistory(ctx context.Context, p inverter.Provider) (int, error) {
	now := time.Now()
	syncStart := truncateDay(now.AddDate(0, 0, -energySyncDays))

	lastDay, lastVersion, err := s.storage.GetLatestEnergyDay(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest energy day: %w", err)
	}
	if !lastDay.IsZero() {
		if lastVersion >= types.CurrentDayEnergyVersion {
			if day := truncateDay(lastDay); day.After(syncStart) {
				syncStart = day
			}
		} else {
			log.Ctx(ctx).InfoContext(ctx, "backfilling energy history due to version mismatch",
				slog.Int("storedVersion", lastVersion),
				slog.Int("currentVersion", types.CurrentDayEnergyVersion))
		}
	}

	var synced int
	for d := syncStart; !d.After(now); d = d.AddDate(0, 0, 1) {
		agg, err := p.Aggregate(ctx, types.DateRange{Start: d, End: d})
		if err != nil {
			// a single bad day should not block the rest of the window
			log.Ctx(ctx).ErrorContext(ctx, "failed to fetch day aggregate",
				slog.String("day", d.Format("2006-01-02")), slog.Any("error", err))
			continue
		}
		if len(agg.History) == 0 {
			log.Ctx(ctx).WarnContext(ctx, "provider returned no history for day",
				slog.String("day", d.Format("2006-01-02")))
			continue
		}
		day := dayEnergyFromAggregate(agg.History[0], agg.Provenance)
		if err := s.storage.UpsertDayEnergy(ctx, day, types.CurrentDayEnergyVersion); err != nil {
			return synced, fmt.Errorf("failed to upsert day energy for %s: %w", day.Date, err)
		}
		synced++
	}

	log.Ctx(ctx).InfoContext(ctx, "synced energy history", slog.Int("days", synced))
	return synced, nil
}

func dayEnergyFromAggregate(da types.DayAggregate, prov types.Provenance) types.DayEnergy {
	return types.DayEnergy{
		Date:           da.Date,
		GenerationKWH:  round2(da.GenerationKWH),
		ConsumptionKWH: round2(da.ConsumptionKWH),
		AvgBatterySOC:  round1(da.AvgBatterySOC),
		Savings:        round2(da.Savings),
		Provenance:     prov,
	}
}
