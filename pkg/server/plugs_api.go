package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/plugs"
	"github.com/guivega7/Goodwe-Challenge/pkg/tuya"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// requireVendor returns the plug vendor client or writes the error response
// and reports false. Missing credentials are the caller's problem to fix, not
// an internal error.
func (s *Server) requireVendor(w http.ResponseWriter, ctx context.Context) (vendorAPI, bool) {
	vendor, err := s.vendorClient(ctx)
	if err != nil {
		if errors.Is(err, errMissingTuya) {
			writeJSONError(w, "tuya credentials not configured", http.StatusPreconditionFailed)
		} else {
			log.Ctx(ctx).ErrorContext(ctx, "failed to build plug client", slog.Any("error", err))
			writeJSONError(w, "plug vendor unavailable", http.StatusBadGateway)
		}
		return nil, false
	}
	return vendor, true
}

// PlugsRes lists the vendor's devices. Fallback carries the synthesized
// device id when the cloud listing was unavailable.
type PlugsRes struct {
	Devices  []tuya.Device `json:"devices"`
	Fallback string        `json:"fallback,omitempty"`
}

func (s *Server) handleListPlugs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	vendor, ok := s.requireVendor(w, ctx)
	if !ok {
		return
	}
	list, err := vendor.ListDevices(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list plug devices", slog.Any("error", err))
		writeJSONError(w, "failed to list plug devices", http.StatusBadGateway)
		return
	}
	writeJSON(w, PlugsRes{Devices: list.Devices, Fallback: list.Fallback})
}

// ReadingsRes is the response type for the plug readings endpoint.
type ReadingsRes struct {
	Readings []types.PlugReading `json:"readings"`
}

func (s *Server) handlePlugReadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	if limit <= 0 || limit > 500 {
		limit = plugs.DefaultLimit
	}

	var readings []types.PlugReading
	if deviceID := r.URL.Query().Get("device"); deviceID != "" {
		// Filtered readings come straight from storage so they stay available
		// even when the vendor credentials are gone.
		end := time.Now().Add(time.Second)
		var err error
		readings, err = s.storage.GetPlugReadings(ctx, deviceID, end.Add(-plugs.DefaultWindow), end)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get plug readings", slog.Any("error", err))
			writeJSONError(w, "failed to get plug readings", http.StatusInternalServerError)
			return
		}
		sort.Slice(readings, func(i, j int) bool { return readings[i].Timestamp.After(readings[j].Timestamp) })
		if len(readings) > limit {
			readings = readings[:limit]
		}
	} else {
		vendor, ok := s.requireVendor(w, ctx)
		if !ok {
			return
		}
		var err error
		readings, err = plugs.NewService(s.storage, vendor).Recent(ctx, limit)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get plug readings", slog.Any("error", err))
			writeJSONError(w, "failed to get plug readings", http.StatusInternalServerError)
			return
		}
	}
	if readings == nil {
		readings = []types.PlugReading{}
	}
	writeJSON(w, ReadingsRes{Readings: readings})
}

func (s *Server) handlePlugSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	window := plugs.DefaultWindow
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
	sum, err := plugs.NewService(s.storage, vendor).Summary(ctx, window)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to summarize plug readings", slog.Any("error", err))
		writeJSONError(w, "failed to summarize plug readings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, sum)
}

// CollectRes is the response type for the manual collection endpoint.
type CollectRes struct {
	Collected int `json:"collected"`
}

func (s *Server) handlePlugCollect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	vendor, ok := s.requireVendor(w, ctx)
	if !ok {
		return
	}
	n, err := plugs.NewService(s.storage, vendor).Collect(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to collect plug readings", slog.Any("error", err))
		writeJSONError(w, "failed to collect plug readings", http.StatusBadGateway)
		return
	}
	writeJSON(w, CollectRes{Collected: n})
}

// CommandRes is the response type for the command passthrough endpoint.
type CommandRes struct {
	Sent int `json:"sent"`
}

func (s *Server) handlePlugCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Commands []tuya.Command `json:"commands"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Commands) == 0 {
		writeJSONError(w, "no commands", http.StatusBadRequest)
		return
	}

	vendor, ok := s.requireVendor(w, ctx)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := vendor.SendCommand(ctx, id, req.Commands...); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to send plug command",
			slog.String("device", id), slog.Any("error", err))
		writeJSONError(w, "failed to send plug command", http.StatusBadGateway)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "plug command sent",
		slog.String("device", id), slog.Int("commands", len(req.Commands)))
	writeJSON(w, CommandRes{Sent: len(req.Commands)})
}
