package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/guivega7/Goodwe-Challenge/pkg/energy"
	"github.com/guivega7/Goodwe-Challenge/pkg/inverter"
	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sv, creds, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	var status types.InverterStatus
	err = s.withProvider(ctx, sv, creds, func(p inverter.Provider) error {
		var err error
		status, err = p.Status(ctx)
		return err
	})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get inverter status", slog.Any("error", err))
		writeJSONError(w, "inverter unavailable", http.StatusBadGateway)
		return
	}

	writeJSON(w, status)
}

// PeriodTotals hold today/month/year figures for one dashboard series. The
// month is the last 30 days and the year extrapolates it.
type PeriodTotals struct {
	Today float64 `json:"today"`
	Month float64 `json:"month"`
	Year  float64 `json:"year"`
}

// BatteryRes summarizes the battery for the dashboard.
type BatteryRes struct {
	SOC         float64 `json:"soc"`
	CapacityKWH float64 `json:"capacityKWH"`
	State       string  `json:"state"`
	PowerW      float64 `json:"powerW"`
}

// DataRes is the aggregated dashboard payload.
type DataRes struct {
	Production  PeriodTotals     `json:"production"`
	Consumption PeriodTotals     `json:"consumption"`
	Battery     BatteryRes       `json:"battery"`
	Savings     PeriodTotals     `json:"savings"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Provenance  types.Provenance `json:"provenance,omitempty"`
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sv, creds, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	var agg types.Aggregate
	err = s.withProvider(ctx, sv, creds, func(p inverter.Provider) error {
		var err error
		agg, err = p.Aggregate(ctx, types.LastDays(time.Now(), 30))
		return err
	})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to aggregate inverter data", slog.Any("error", err))
		writeJSONError(w, "inverter unavailable", http.StatusBadGateway)
		return
	}

	today := agg.EnergyTodayKWH
	var month float64
	for _, day := range agg.History {
		month += day.GenerationKWH
	}
	year := month * 12

	resp := DataRes{
		Production: PeriodTotals{
			Today: round2(today),
			Month: round2(month),
			Year:  round2(year),
		},
		Consumption: PeriodTotals{
			Today: round2(today * sv.ConsumptionFactor),
			Month: round2(month * sv.ConsumptionFactor),
			Year:  round2(year * sv.ConsumptionFactor),
		},
		Battery: BatteryRes{
			SOC:         round1(agg.BatterySOC),
			CapacityKWH: agg.BatteryCapacityKWH,
			State:       agg.BatteryState,
			PowerW:      round1(agg.ACPowerW),
		},
		Savings: PeriodTotals{
			Today: round2(energy.Cost(today, sv.TariffPerKWH)),
			Month: round2(energy.Cost(month, sv.TariffPerKWH)),
			Year:  round2(energy.Cost(year, sv.TariffPerKWH)),
		},
		GeneratedAt: agg.GeneratedAt,
		Provenance:  agg.Provenance,
	}
	writeJSON(w, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sv, _, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	// Stats cover the last 30 stored days, independent of the dashboard's
	// shorter history window.
	today := truncateDay(time.Now())
	history, err := s.storage.GetEnergyHistory(ctx, today.AddDate(0, 0, -29), today.AddDate(0, 0, 1))
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get energy history", slog.Any("error", err))
		writeJSONError(w, "failed to get energy history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, energy.Stats(history, sv.DailyGoalKWH, sv.TariffPerKWH))
}
