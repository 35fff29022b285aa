package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/storage"
	"github.com/guivega7/Goodwe-Challenge/pkg/tuya"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// DevicesRes is the response type for the device list endpoint.
type DevicesRes struct {
	Devices []types.Device `json:"devices"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devices, err := s.storage.ListDevices(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list devices", slog.Any("error", err))
		writeJSONError(w, "failed to list devices", http.StatusInternalServerError)
		return
	}
	if devices == nil {
		devices = []types.Device{}
	}
	writeJSON(w, DevicesRes{Devices: devices})
}

// deviceReq is the mutable subset accepted on create and update.
type deviceReq struct {
	Name           string  `json:"name"`
	ConsumptionKWH float64 `json:"consumptionKWH"`
	Priority       int     `json:"priority"`
	On             *bool   `json:"on,omitempty"`
	Category       string  `json:"category,omitempty"`
}

func validateDeviceReq(req deviceReq) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if req.ConsumptionKWH < 0 {
		return fmt.Errorf("consumption cannot be negative")
	}
	if req.Priority < types.PriorityCritical || req.Priority > types.PriorityOptional {
		return fmt.Errorf("priority must be between %d and %d", types.PriorityCritical, types.PriorityOptional)
	}
	return nil
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req deviceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Priority == 0 {
		req.Priority = types.PriorityMedium
	}
	if err := validateDeviceReq(req); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := time.Now()
	device := types.Device{
		ID:             uuid.NewString(),
		Name:           req.Name,
		ConsumptionKWH: req.ConsumptionKWH,
		Priority:       req.Priority,
		Category:       req.Category,
		Source:         types.DeviceSourceManual,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.On != nil {
		device.On = *req.On
	}

	if err := s.storage.CreateDevice(ctx, device); err != nil {
		if errors.Is(err, storage.ErrDeviceExists) {
			writeJSONError(w, "device name already registered", http.StatusConflict)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to create device", slog.Any("error", err))
		writeJSONError(w, "failed to create device", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "device created",
		slog.String("device", device.ID), slog.String("name", device.Name))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(device); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	device, err := s.storage.GetDevice(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			writeJSONError(w, "device not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get device", slog.Any("error", err))
		writeJSONError(w, "failed to get device", http.StatusInternalServerError)
		return
	}
	writeJSON(w, device)
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req deviceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	device, err := s.storage.GetDevice(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			writeJSONError(w, "device not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get device", slog.Any("error", err))
		writeJSONError(w, "failed to get device", http.StatusInternalServerError)
		return
	}

	if req.Priority == 0 {
		req.Priority = device.Priority
	}
	if err := validateDeviceReq(req); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	device.Name = req.Name
	device.ConsumptionKWH = req.ConsumptionKWH
	device.Priority = req.Priority
	if req.Category != "" {
		device.Category = req.Category
	}
	if req.On != nil {
		device.On = *req.On
	}
	device.UpdatedAt = time.Now()

	if err := s.storage.UpdateDevice(ctx, device); err != nil {
		if errors.Is(err, storage.ErrDeviceExists) {
			writeJSONError(w, "device name already registered", http.StatusConflict)
			return
		}
		if errors.Is(err, storage.ErrDeviceNotFound) {
			writeJSONError(w, "device not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to update device", slog.Any("error", err))
		writeJSONError(w, "failed to update device", http.StatusInternalServerError)
		return
	}
	writeJSON(w, device)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := r.PathValue("id")
	if err := s.storage.DeleteDevice(ctx, id); err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			writeJSONError(w, "device not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to delete device", slog.Any("error", err))
		writeJSONError(w, "failed to delete device", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "device deleted", slog.String("device", id))
	w.WriteHeader(http.StatusNoContent)
}

// ToggleRes is the response type for the on/off endpoints.
type ToggleRes struct {
	Device  types.Device `json:"device"`
	Changed bool         `json:"changed"`
}

// handleDeviceToggle turns a device on or off. Toggling to the current state
// is a no-op so webhook retries stay harmless.
func (s *Server) handleDeviceToggle(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		device, err := s.storage.GetDevice(ctx, r.PathValue("id"))
		if err != nil {
			if errors.Is(err, storage.ErrDeviceNotFound) {
				writeJSONError(w, "device not found", http.StatusNotFound)
				return
			}
			log.Ctx(ctx).ErrorContext(ctx, "failed to get device", slog.Any("error", err))
			writeJSONError(w, "failed to get device", http.StatusInternalServerError)
			return
		}

		if device.On == on {
			writeJSON(w, ToggleRes{Device: device, Changed: false})
			return
		}

		device.On = on
		device.UpdatedAt = time.Now()
		if err := s.storage.UpdateDevice(ctx, device); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to update device", slog.Any("error", err))
			writeJSONError(w, "failed to update device", http.StatusInternalServerError)
			return
		}
		log.Ctx(ctx).InfoContext(ctx, "device toggled",
			slog.String("device", device.ID), slog.Bool("on", on))

		// push the change to the vendor for synced plugs, best effort
		if device.Source == types.DeviceSourceTuya && device.ExternalCode != "" {
			if vendor, err := s.vendorClient(ctx); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "plug vendor unavailable", slog.Any("error", err))
			} else if err := vendor.SetSwitch(ctx, device.ExternalCode, on); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to switch plug",
					slog.String("device", device.ID), slog.Any("error", err))
			}
		}

		writeJSON(w, ToggleRes{Device: device, Changed: true})
	}
}

// LiveStatus is the vendor-reported state of a synced plug.
type LiveStatus struct {
	Online   bool    `json:"online"`
	SwitchOn *bool   `json:"switchOn,omitempty"`
	PowerW   float64 `json:"powerW"`
	VoltageV float64 `json:"voltageV"`
	CurrentA float64 `json:"currentA"`
	EnergyWH float64 `json:"energyWH"`
}

// DeviceStatusRes combines a device's stored state with live plug metrics
// when the vendor can report them.
type DeviceStatusRes struct {
	Device types.Device `json:"device"`
	Live   *LiveStatus  `json:"live,omitempty"`
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	device, err := s.storage.GetDevice(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			writeJSONError(w, "device not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get device", slog.Any("error", err))
		writeJSONError(w, "failed to get device", http.StatusInternalServerError)
		return
	}

	res := DeviceStatusRes{Device: device}
	if device.Source == types.DeviceSourceTuya && device.ExternalCode != "" {
		if vendor, err := s.vendorClient(ctx); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "plug vendor unavailable", slog.Any("error", err))
		} else if d, err := vendor.DeviceStatus(ctx, device.ExternalCode); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to get plug status",
				slog.String("device", device.ID), slog.Any("error", err))
		} else {
			m := tuya.ParseMetrics(d.Status)
			res.Live = &LiveStatus{
				Online:   d.Online,
				SwitchOn: m.SwitchOn,
				PowerW:   m.PowerW,
				VoltageV: m.VoltageV,
				CurrentA: m.CurrentA,
				EnergyWH: m.EnergyWH,
			}
		}
	}
	writeJSON(w, res)
}
