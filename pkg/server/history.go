package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/guivega7/Goodwe-Challenge/pkg/inverter"
	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// HistoryRes is the response type for the history endpoint.
type HistoryRes struct {
	Days       []types.DayAggregate `json:"days"`
	Provenance types.Provenance     `json:"provenance,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sv, creds, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	days := sv.HistoryDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, "invalid days", http.StatusBadRequest)
			return
		}
		days = n
	}
	if days < 1 {
		days = 1
	} else if days > 30 {
		days = 30
	}

	end := time.Now()
	if v := r.URL.Query().Get("end"); v != "" {
		end, err = time.Parse("2006-01-02", v)
		if err != nil {
			writeJSONError(w, "invalid end date", http.StatusBadRequest)
			return
		}
	}
	rng := types.LastDays(end, days)

	var agg types.Aggregate
	err = s.withProvider(ctx, sv, creds, func(p inverter.Provider) error {
		var err error
		agg, err = p.Aggregate(ctx, rng)
		return err
	})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to aggregate history", slog.Any("error", err))
		writeJSONError(w, "inverter unavailable", http.StatusBadGateway)
		return
	}

	// Set Cache-Control headers
	// If the range ends before today (midnight today), cache for 24 hours.
	// Otherwise, cache for 1 minute.
	today := time.Now().Truncate(24 * time.Hour)
	if rng.End.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}

	writeJSON(w, HistoryRes{Days: agg.History, Provenance: agg.Provenance})
}

func (s *Server) handleIntraday(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sv, creds, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	day := time.Now()
	if v := r.URL.Query().Get("date"); v != "" {
		day, err = time.Parse("2006-01-02", v)
		if err != nil {
			writeJSONError(w, "invalid date", http.StatusBadRequest)
			return
		}
	}

	var series types.IntradaySeries
	err = s.withProvider(ctx, sv, creds, func(p inverter.Provider) error {
		var err error
		series, err = p.Intraday(ctx, day)
		return err
	})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get intraday series", slog.Any("error", err))
		writeJSONError(w, "inverter unavailable", http.StatusBadGateway)
		return
	}

	// Set Cache-Control headers
	// If the range ends before today (midnight today), cache for 24 hours.
	// Otherwise, cache for 1 minute.
	today := time.Now().Truncate(24 * time.Hour)
	if truncateDay(day).Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}

	writeJSON(w, series)
}
