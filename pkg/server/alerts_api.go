package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/guivega7/Goodwe-Challenge/pkg/alerts"
	"github.com/guivega7/Goodwe-Challenge/pkg/energy"
	"github.com/guivega7/Goodwe-Challenge/pkg/inverter"
	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// AlertRes reports whether an event actually fired. Threshold events only
// fire when the live value crosses the configured limit.
type AlertRes struct {
	Event     string `json:"event"`
	Triggered bool   `json:"triggered"`
	Message   string `json:"message,omitempty"`
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	event := r.PathValue("event")
	if !alerts.KnownEvent(event) {
		writeJSONError(w, "unknown alert event", http.StatusNotFound)
		return
	}
	if event == alerts.EventPowerOff {
		writeJSONError(w, "desligar is delivered inbound, use /api/power-off", http.StatusBadRequest)
		return
	}

	sv, creds, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	client, err := s.alertsClient(creds)
	if err != nil {
		if errors.Is(err, errMissingIFTTT) {
			writeJSONError(w, "ifttt webhook key not configured", http.StatusPreconditionFailed)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to build alert client", slog.Any("error", err))
		writeJSONError(w, "failed to build alert client", http.StatusInternalServerError)
		return
	}

	res := AlertRes{Event: event}
	switch event {
	case alerts.EventLowBattery:
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
		triggered, err := client.LowBattery(ctx, status.BatterySOC, sv.LowBatteryThreshold)
		if err != nil {
			writeAlertError(ctx, w, err)
			return
		}
		res.Triggered = triggered
		if triggered {
			res.Message = alerts.LowBatteryMessage(status.BatterySOC)
		}

	case alerts.EventHighEnergy:
		var agg types.Aggregate
		err = s.withProvider(ctx, sv, creds, func(p inverter.Provider) error {
			var err error
			agg, err = p.Aggregate(ctx, types.LastDays(time.Now(), 1))
			return err
		})
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to aggregate inverter data", slog.Any("error", err))
			writeJSONError(w, "inverter unavailable", http.StatusBadGateway)
			return
		}
		cons := agg.EnergyTodayKWH * sv.ConsumptionFactor
		triggered, err := client.HighEnergy(ctx, cons, sv.HighEnergyLimitKWH)
		if err != nil {
			writeAlertError(ctx, w, err)
			return
		}
		res.Triggered = triggered
		if triggered {
			res.Message = alerts.HighEnergyMessage(cons, sv.HighEnergyLimitKWH)
		}

	case alerts.EventInverterFault:
		var req struct {
			Description string `json:"description"`
		}
		// the body is optional
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Description == "" {
			req.Description = "falha desconhecida"
		}
		if err := client.InverterFault(ctx, req.Description); err != nil {
			writeAlertError(ctx, w, err)
			return
		}
		res.Triggered = true
		res.Message = alerts.FaultMessage(req.Description)

	case alerts.EventDailySummary:
		report, ok := s.latestReport(ctx, w, sv.Settings)
		if !ok {
			return
		}
		if err := client.DailySummary(ctx, report); err != nil {
			writeAlertError(ctx, w, err)
			return
		}
		res.Triggered = true
		res.Message = alerts.DailySummaryMessage(report)

	case alerts.EventMaintenance:
		if err := client.Trigger(ctx, alerts.EventMaintenance, alerts.MaintenanceMessage); err != nil {
			writeAlertError(ctx, w, err)
			return
		}
		res.Triggered = true
		res.Message = alerts.MaintenanceMessage
	}

	writeJSON(w, res)
}

func writeAlertError(ctx context.Context, w http.ResponseWriter, err error) {
	log.Ctx(ctx).ErrorContext(ctx, "failed to deliver alert", slog.Any("error", err))
	writeJSONError(w, "failed to deliver alert", http.StatusBadGateway)
}

// latestReport builds the daily balance from the most recent stored day. It
// writes the error response and reports false when there is none.
func (s *Server) latestReport(ctx context.Context, w http.ResponseWriter, settings types.Settings) (types.EnergyReport, bool) {
	day, _, err := s.storage.GetLatestEnergyDay(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get latest energy day", slog.Any("error", err))
		writeJSONError(w, "failed to get energy history", http.StatusInternalServerError)
		return types.EnergyReport{}, false
	}
	if day.IsZero() {
		writeJSONError(w, "no energy history", http.StatusPreconditionFailed)
		return types.EnergyReport{}, false
	}
	start := truncateDay(day)
	history, err := s.storage.GetEnergyHistory(ctx, start, start.AddDate(0, 0, 1))
	if err != nil || len(history) == 0 {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get energy history", slog.Any("error", err))
		writeJSONError(w, "failed to get energy history", http.StatusInternalServerError)
		return types.EnergyReport{}, false
	}
	de := history[0]
	return energy.Report(de.Date, de.GenerationKWH, de.ConsumptionKWH, settings.AlertTariffPerKWH), true
}

// PowerOffRes is the response type for the inbound power-off bridge.
type PowerOffRes struct {
	Device  string `json:"device"`
	Changed bool   `json:"changed"`
}

// handlePowerOff is the inbound half of the desligar applet: IFTTT posts the
// device name here and the server turns it off. Retries are harmless since
// an already-off device is a no-op.
func (s *Server) handlePowerOff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Value1 string `json:"value1"`
		Name   string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	name := req.Value1
	if name == "" {
		name = req.Name
	}
	if name == "" {
		writeJSONError(w, "missing device name", http.StatusBadRequest)
		return
	}

	devices, err := s.storage.ListDevices(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list devices", slog.Any("error", err))
		writeJSONError(w, "failed to list devices", http.StatusInternalServerError)
		return
	}
	idx := -1
	for i := range devices {
		if strings.EqualFold(devices[i].Name, name) {
			idx = i
			break
		}
	}
	if idx < 0 {
		writeJSONError(w, "device not found", http.StatusNotFound)
		return
	}

	device := devices[idx]
	if !device.On {
		writeJSON(w, PowerOffRes{Device: device.Name, Changed: false})
		return
	}

	device.On = false
	device.UpdatedAt = time.Now()
	if err := s.storage.UpdateDevice(ctx, device); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to update device", slog.Any("error", err))
		writeJSONError(w, "failed to update device", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "device powered off via webhook", slog.String("name", device.Name))

	if device.Source == types.DeviceSourceTuya && device.ExternalCode != "" {
		if vendor, err := s.vendorClient(ctx); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "plug vendor unavailable", slog.Any("error", err))
		} else if err := vendor.SetSwitch(ctx, device.ExternalCode, false); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to switch plug",
				slog.String("device", device.ID), slog.Any("error", err))
		}
	}

	writeJSON(w, PowerOffRes{Device: device.Name, Changed: true})
}
