package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/guivega7/Goodwe-Challenge/pkg/inverter"
	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

type settingsWithVersion struct {
	types.Settings
	version int
}

func (s *Server) getSettingsWithMigration(ctx context.Context) (settingsWithVersion, types.Credentials, error) {
	settings, version, err := s.storage.GetSettings(ctx)
	if err != nil {
		return settingsWithVersion{}, types.Credentials{}, err
	}
	sv := settingsWithVersion{
		Settings: settings,
		version:  version,
	}

	// Check for migration
	if version < types.CurrentSettingsVersion {
		log.Ctx(ctx).InfoContext(ctx, "migrating settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
		newSettings, changed, err := types.MigrateSettings(settings, version)
		if err != nil {
			// Log error but return settings as is (best effort)
			log.Ctx(ctx).ErrorContext(ctx, "failed to migrate settings", slog.Int("currentVersion", version), slog.Any("error", err))
		} else if changed {
			sv.Settings = newSettings
			sv.version = types.CurrentSettingsVersion
			if err := s.storage.SetSettings(ctx, newSettings, types.CurrentSettingsVersion); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to save migrated settings", slog.Any("error", err))
				// Return migrated settings even if save failed, so current request works with new defaults
			} else {
				log.Ctx(ctx).InfoContext(ctx, "saved migrated settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
			}
		}
	}

	var creds types.Credentials
	if len(sv.EncryptedCredentials) > 0 {
		creds, err = s.decryptCredentials(ctx, sv.EncryptedCredentials)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt credentials", slog.Any("error", err))
			return settingsWithVersion{}, types.Credentials{}, err
		}
	}

	return sv, creds, nil
}

// SettingsRes is the response type for GetSettings
type SettingsRes struct {
	types.Settings
	HasCredentials map[string]bool `json:"hasCredentials"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, creds, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	// remove encrypted credentials from response
	settings.EncryptedCredentials = nil

	resp := SettingsRes{
		Settings:       settings.Settings,
		HasCredentials: creds.Has(),
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, resp)
}

func validateSettings(settings types.Settings) error {
	if settings.Inverter != inverter.ProviderSEMS && settings.Inverter != inverter.ProviderSimulated {
		return fmt.Errorf("unknown inverter provider %q", settings.Inverter)
	}
	if settings.TariffPerKWH < 0 {
		return fmt.Errorf("tariff cannot be negative")
	}
	if settings.AlertTariffPerKWH < 0 {
		return fmt.Errorf("alert tariff cannot be negative")
	}
	if settings.ConsumptionFactor < 0 || settings.ConsumptionFactor > 1 {
		return fmt.Errorf("consumption factor must be between 0 and 1")
	}
	if settings.BatteryCapacityKWH < 0 {
		return fmt.Errorf("battery capacity cannot be negative")
	}
	if settings.DailyGoalKWH < 0 {
		return fmt.Errorf("daily goal cannot be negative")
	}
	if settings.PeakFactor < 0 || settings.PeakFactor > 1 {
		return fmt.Errorf("peak factor must be between 0 and 1")
	}
	if _, err := time.Parse("15:04", settings.PeakStart); err != nil {
		return fmt.Errorf("peak start must be HH:MM")
	}
	if _, err := time.Parse("15:04", settings.PeakEnd); err != nil {
		return fmt.Errorf("peak end must be HH:MM")
	}
	if settings.LowBatteryThreshold < 0 || settings.LowBatteryThreshold > 100 {
		return fmt.Errorf("low battery threshold must be between 0 and 100")
	}
	if settings.HighEnergyLimitKWH < 0 {
		return fmt.Errorf("high energy limit cannot be negative")
	}
	if settings.HistoryDays < 1 || settings.HistoryDays > 30 {
		return fmt.Errorf("history days must be between 1 and 30")
	}
	return nil
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		types.Settings
		Credentials *types.Credentials `json:"credentials,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	newSettings := req.Settings
	if err := validateSettings(newSettings); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Get existing settings to preserve the stored credentials
	existing, _, err := s.storage.GetSettings(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	var wg sync.WaitGroup
	// Handle credentials update
	if req.Credentials != nil {
		var existingCreds types.Credentials
		if len(existing.EncryptedCredentials) > 0 {
			existingCreds, err = s.decryptCredentials(ctx, existing.EncryptedCredentials)
			if err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt credentials", slog.Any("error", err))
				writeJSONError(w, "failed to decrypt credentials", http.StatusInternalServerError)
				return
			}
		}

		// check which credentials changed
		var changedSEMS bool
		var shouldBackfillHistory bool
		if req.Credentials.SEMS != nil {
			changedSEMS = true
			if existingCreds.SEMS == nil {
				shouldBackfillHistory = true
			}
			existingCreds.SEMS = req.Credentials.SEMS
		}
		if req.Credentials.Tuya != nil {
			existingCreds.Tuya = req.Credentials.Tuya
			// drop the cached client so the next call uses the new account
			s.resetVendor()
		}
		if req.Credentials.IFTTT != nil {
			existingCreds.IFTTT = req.Credentials.IFTTT
		}

		// if the portal credentials changed, verify them before storing and
		// potentially backfill history
		if changedSEMS && newSettings.Inverter == inverter.ProviderSEMS {
			p := s.inverters.Get(inverter.ProviderSEMS)
			if err := p.ApplySettings(ctx, newSettings); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to apply settings", slog.Any("error", err))
				writeJSONError(w, "failed to apply settings", http.StatusInternalServerError)
				return
			}

			// Verify and update credentials; a fresh login fills in the
			// session token and the corrected regions.
			existingCreds, _, err = p.Authenticate(ctx, existingCreds)
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to verify sems credentials", slog.Any("error", err))
				writeJSONError(w, fmt.Sprintf("failed to verify sems credentials: %v", err), http.StatusBadRequest)
				return
			}

			// now backfill if we need to since the credentials were verified
			if shouldBackfillHistory {
				wg.Add(1)
				go func() {
					defer wg.Done()
					log.Ctx(ctx).InfoContext(ctx, "backfilling energy history for new credentials")
					if _, err := s.syncEnergyHistory(ctx, p); err != nil {
						log.Ctx(ctx).ErrorContext(ctx, "failed to sync energy history after settings update", slog.Any("error", err))
					}
				}()
			}
		}

		// store the existing credentials with the new ones updated in-place
		encrypted, err := s.encryptCredentials(ctx, existingCreds)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to encrypt credentials", slog.Any("error", err))
			writeJSONError(w, "failed to encrypt credentials", http.StatusInternalServerError)
			return
		}
		newSettings.EncryptedCredentials = encrypted
	} else {
		// Preserve existing encrypted credentials if not updating
		newSettings.EncryptedCredentials = existing.EncryptedCredentials
	}

	if err := s.storage.SetSettings(ctx, newSettings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}

	wg.Wait()
	log.Ctx(ctx).InfoContext(ctx, "settings updated")

	w.WriteHeader(http.StatusOK)
}
