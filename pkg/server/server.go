package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guivega7/Goodwe-Challenge/pkg/alerts"
	"github.com/guivega7/Goodwe-Challenge/pkg/inverter"
	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/storage"
	"github.com/guivega7/Goodwe-Challenge/pkg/tuya"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// vendorAPI is the subset of the smart-plug vendor client the server uses.
type vendorAPI interface {
	DeviceStatus(ctx context.Context, deviceID string) (tuya.Device, error)
	ListDevices(ctx context.Context) (tuya.DeviceList, error)
	PrimaryDevice() string
	SendCommand(ctx context.Context, deviceID string, commands ...tuya.Command) error
	SetSwitch(ctx context.Context, deviceID string, on bool) error
}

// alertsAPI is the webhook client used for notifications.
type alertsAPI interface {
	Trigger(ctx context.Context, event, message string) error
	LowBattery(ctx context.Context, soc, threshold float64) (bool, error)
	HighEnergy(ctx context.Context, consumptionKWH, limitKWH float64) (bool, error)
	InverterFault(ctx context.Context, description string) error
	DailySummary(ctx context.Context, report types.EnergyReport) error
}

// Server handles the HTTP API for the SolarMind system. It ties together the
// inverter providers, storage, the smart-plug vendor, and the alert webhooks.
type Server struct {
	inverters *inverter.Map
	storage   storage.Database

	listenAddr string
	httpServer *http.Server

	apiKey        string
	updateKey     string
	encryptionKey string
	release       string
	serverName    string

	// newVendor and newAlerts build the external clients for the stored
	// credentials. Tests swap them for fakes.
	newVendor func(types.TuyaCredentials) (vendorAPI, error)
	newAlerts func(types.IFTTTCredentials) (alertsAPI, error)

	vendorMu    sync.Mutex
	vendor      vendorAPI
	vendorCreds types.TuyaCredentials
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(inverters *inverter.Map, db storage.Database) *Server {
	srv := &Server{
		inverters:  inverters,
		storage:    db,
		serverName: "solarmind",
		newVendor: func(c types.TuyaCredentials) (vendorAPI, error) {
			return tuya.NewClient(c)
		},
		newAlerts: func(c types.IFTTTCredentials) (alertsAPI, error) {
			return alerts.NewClient(c)
		},
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	apiKey := lflag.String("api-key", "", "Key required for mutating API requests. Empty disables authentication.")
	updateKey := lflag.String("update-key", "", "Key accepted for /api/sync in addition to api-key, for the cron scheduler")
	encryptionKey := lflag.RequiredString("credentials-encryption-key", "Key for encrypting credentials")
	release := lflag.String("release", "production", "Release environment (production or staging)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.apiKey = *apiKey
		srv.updateKey = *updateKey
		srv.release = *release

		if len(*encryptionKey) != 32 {
			log.Ctx(context.Background()).Error("credentials-encryption-key must be 32 characters")
			os.Exit(1)
		}
		srv.encryptionKey = *encryptionKey

		if srv.apiKey == "" {
			log.Ctx(context.Background()).Warn("api-key is empty, mutating endpoints are unauthenticated")
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/status", s.handleStatus)
	apiMux.HandleFunc("GET /api/data", s.handleData)
	apiMux.HandleFunc("GET /api/history", s.handleHistory)
	apiMux.HandleFunc("GET /api/intraday", s.handleIntraday)
	apiMux.HandleFunc("GET /api/stats", s.handleStats)
	apiMux.HandleFunc("POST /api/sync", s.handleSync)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("PUT /api/settings", s.handleUpdateSettings)
	apiMux.HandleFunc("GET /api/devices", s.handleListDevices)
	apiMux.HandleFunc("POST /api/devices", s.handleCreateDevice)
	apiMux.HandleFunc("GET /api/devices/{id}", s.handleGetDevice)
	apiMux.HandleFunc("PUT /api/devices/{id}", s.handleUpdateDevice)
	apiMux.HandleFunc("DELETE /api/devices/{id}", s.handleDeleteDevice)
	apiMux.HandleFunc("POST /api/devices/{id}/on", s.handleDeviceToggle(true))
	apiMux.HandleFunc("POST /api/devices/{id}/off", s.handleDeviceToggle(false))
	apiMux.HandleFunc("GET /api/devices/{id}/status", s.handleDeviceStatus)
	apiMux.HandleFunc("GET /api/plugs", s.handleListPlugs)
	apiMux.HandleFunc("GET /api/plugs/readings", s.handlePlugReadings)
	apiMux.HandleFunc("GET /api/plugs/summary", s.handlePlugSummary)
	apiMux.HandleFunc("POST /api/plugs/collect", s.handlePlugCollect)
	apiMux.HandleFunc("POST /api/plugs/{id}/command", s.handlePlugCommand)
	apiMux.HandleFunc("POST /api/alerts/{event}", s.handleAlert)
	apiMux.HandleFunc("POST /api/power-off", s.handlePowerOff)
	apiMux.HandleFunc("GET /api/insights/forecast", s.handleConsumptionForecast)
	apiMux.HandleFunc("GET /api/insights/generation", s.handleGenerationForecast)
	apiMux.HandleFunc("GET /api/insights/patterns", s.handlePatterns)
	apiMux.HandleFunc("GET /api/automation/suggestions", s.handleSuggestions)
	apiMux.HandleFunc("POST /api/automation/smart-save", s.handleSmartSave)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server",
			slog.String("addr", s.listenAddr), slog.String("release", s.release))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
