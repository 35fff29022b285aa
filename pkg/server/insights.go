package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/guivega7/Goodwe-Challenge/pkg/energy"
	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/plugs"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// patternWindow is how much telemetry the hourly model learns from.
const patternWindow = 7 * 24 * time.Hour

func (s *Server) handleConsumptionForecast(w http.ResponseWriter, r *http.Request) {
	hour := time.Now().Hour()
	if v := r.URL.Query().Get("hour"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 23 {
			writeJSONError(w, "hour must be between 0 and 23", http.StatusBadRequest)
			return
		}
		hour = n
	}
	writeJSON(w, energy.ForecastConsumption(hour))
}

func (s *Server) handleGenerationForecast(w http.ResponseWriter, r *http.Request) {
	weather := r.URL.Query().Get("weather")
	if weather == "" {
		weather = "ensolarado"
	}
	writeJSON(w, energy.ForecastGeneration(weather, energy.DefaultCapacityKWH))
}

// PatternsRes is the learned hour-of-day consumption model.
type PatternsRes struct {
	Hours       []types.HourlyPattern `json:"hours"`
	PeakHour    int                   `json:"peakHour"`
	AvgDailyKWH float64               `json:"avgDailyKWH"`
	Samples     int                   `json:"samples"`
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	window := patternWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSONError(w, "invalid window", http.StatusBadRequest)
			return
		}
		window = d
	}

	vendor, ok := s.requireVendor(w, ctx)
	if !ok {
		return
	}
	readings, err := plugs.NewService(s.storage, vendor).Readings(ctx, window)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get plug readings", slog.Any("error", err))
		writeJSONError(w, "failed to get plug readings", http.StatusInternalServerError)
		return
	}

	hours := energy.HourlyModel(readings, energy.DefaultOutlierMultiple)
	res := PatternsRes{Hours: hours, PeakHour: -1, Samples: len(readings)}
	var peak float64
	for _, h := range hours {
		res.AvgDailyKWH += h.AvgKWH
		if h.AvgKWH > peak {
			peak = h.AvgKWH
			res.PeakHour = h.Hour
		}
	}
	res.AvgDailyKWH = round2(res.AvgDailyKWH)
	writeJSON(w, res)
}

// SuggestionsRes carries the peak shedding plan. Plan is only present inside
// the peak window.
type SuggestionsRes struct {
	InPeakWindow bool            `json:"inPeakWindow"`
	PeakStart    string          `json:"peakStart"`
	PeakEnd      string          `json:"peakEnd"`
	Plan         *types.ShedPlan `json:"plan,omitempty"`
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sv, _, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	devices, err := s.storage.ListDevices(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list devices", slog.Any("error", err))
		writeJSONError(w, "failed to list devices", http.StatusInternalServerError)
		return
	}

	res := SuggestionsRes{PeakStart: sv.PeakStart, PeakEnd: sv.PeakEnd}
	if plan, ok := energy.PeakPlan(devices, sv.Settings, time.Now()); ok {
		res.InPeakWindow = true
		res.Plan = &plan
	}
	writeJSON(w, res)
}

// SmartSaveRes is the response type for the smart-save endpoint.
type SmartSaveRes struct {
	Plan      types.ShedPlan `json:"plan"`
	AlertSent bool           `json:"alertSent"`
}

func (s *Server) handleSmartSave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		LimitKWH float64 `json:"limitKWH"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sv, creds, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	limit := req.LimitKWH
	if limit <= 0 {
		limit = sv.HighEnergyLimitKWH
	}

	devices, err := s.storage.ListDevices(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list devices", slog.Any("error", err))
		writeJSONError(w, "failed to list devices", http.StatusInternalServerError)
		return
	}

	plan := energy.SmartSavePlan(devices, limit)
	res := SmartSaveRes{Plan: plan}
	if plan.CurrentKWH > plan.TargetKWH {
		// over the limit, nudge the user over the webhook too
		if client, err := s.alertsClient(creds); err == nil {
			sent, err := client.HighEnergy(ctx, plan.CurrentKWH, plan.TargetKWH)
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to deliver high energy alert", slog.Any("error", err))
			} else {
				res.AlertSent = sent
			}
		}
	}
	writeJSON(w, res)
}
