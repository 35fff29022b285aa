package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guivega7/Goodwe-Challenge/pkg/alerts"
	"github.com/guivega7/Goodwe-Challenge/pkg/energy"
	"github.com/guivega7/Goodwe-Challenge/pkg/inverter"
	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/plugs"
	"github.com/guivega7/Goodwe-Challenge/pkg/scheduler"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

var _ scheduler.Tasks = (*Server)(nil)

// CollectPlugs stores one telemetry reading per known plug. Without vendor
// credentials there is nothing to collect and the job quietly succeeds.
func (s *Server) CollectPlugs(ctx context.Context) error {
	vendor, err := s.vendorClient(ctx)
	if errors.Is(err, errMissingTuya) {
		return nil
	}
	if err != nil {
		return err
	}
	n, err := plugs.NewService(s.storage, vendor).Collect(ctx)
	if err != nil {
		return err
	}
	log.Ctx(ctx).DebugContext(ctx, "collected plug readings", slog.Int("count", n))
	return nil
}

// SyncDevices imports the vendor's device list into the registry.
func (s *Server) SyncDevices(ctx context.Context) error {
	vendor, err := s.vendorClient(ctx)
	if errors.Is(err, errMissingTuya) {
		return nil
	}
	if err != nil {
		return err
	}
	stats, err := plugs.NewService(s.storage, vendor).Sync(ctx)
	if err != nil {
		return err
	}
	if stats.Created > 0 || stats.Updated > 0 {
		log.Ctx(ctx).InfoContext(ctx, "synced vendor devices",
			slog.Int("found", stats.Found),
			slog.Int("created", stats.Created),
			slog.Int("updated", stats.Updated))
	}
	return nil
}

// SendDailySummary refreshes today's totals, pushes the evening report and
// runs the threshold alerts alongside it.
func (s *Server) SendDailySummary(ctx context.Context) error {
	sv, creds, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}
	client, err := s.alertsClient(creds)
	if errors.Is(err, errMissingIFTTT) {
		log.Ctx(ctx).DebugContext(ctx, "skipping daily summary, no webhook key")
		return nil
	}
	if err != nil {
		return err
	}

	// bring today's totals up to date first so the report is fresh
	p, perr := s.providerFor(ctx, sv, creds)
	if perr != nil {
		log.Ctx(ctx).WarnContext(ctx, "inverter unavailable before summary", slog.Any("error", perr))
	} else if _, err := s.syncEnergyHistory(ctx, p); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to sync before summary", slog.Any("error", err))
	}

	day, _, err := s.storage.GetLatestEnergyDay(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest energy day: %w", err)
	}
	if day.IsZero() {
		log.Ctx(ctx).WarnContext(ctx, "no energy history for daily summary")
		return nil
	}
	start := truncateDay(day)
	history, err := s.storage.GetEnergyHistory(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("failed to get energy history: %w", err)
	}
	if len(history) == 0 {
		return nil
	}
	de := history[0]

	report := energy.Report(de.Date, de.GenerationKWH, de.ConsumptionKWH, sv.AlertTariffPerKWH)
	if err := client.DailySummary(ctx, report); err != nil {
		return fmt.Errorf("failed to send daily summary: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "daily summary sent", slog.String("date", de.Date))

	if _, err := client.HighEnergy(ctx, de.ConsumptionKWH, sv.HighEnergyLimitKWH); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to send high energy alert", slog.Any("error", err))
	}
	if perr == nil {
		if status, err := p.Status(ctx); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to get inverter status", slog.Any("error", err))
		} else if _, err := client.LowBattery(ctx, status.BatterySOC, sv.LowBatteryThreshold); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to send low battery alert", slog.Any("error", err))
		}
	}
	return nil
}

// MorningAnnounce sends the day's plan over the summary applet: battery
// level, the generation forecast and its recommendation.
func (s *Server) MorningAnnounce(ctx context.Context) error {
	sv, creds, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}
	client, err := s.alertsClient(creds)
	if errors.Is(err, errMissingIFTTT) {
		log.Ctx(ctx).DebugContext(ctx, "skipping morning announce, no webhook key")
		return nil
	}
	if err != nil {
		return err
	}

	var status types.InverterStatus
	err = s.withProvider(ctx, sv, creds, func(p inverter.Provider) error {
		var err error
		status, err = p.Status(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to get inverter status: %w", err)
	}

	gen := energy.ForecastGeneration("ensolarado", energy.DefaultCapacityKWH)
	msg := fmt.Sprintf("Plano do dia: bateria em %.0f%%, previsão de geração %.1f kWh. %s",
		status.BatterySOC, gen.EstimatedKWH, gen.Recommendation)
	if err := client.Trigger(ctx, alerts.EventDailySummary, msg); err != nil {
		return fmt.Errorf("failed to send morning announce: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "morning announce sent")
	return nil
}
