package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guivega7/Goodwe-Challenge/pkg/inverter"
	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

var (
	errMissingTuya  = errors.New("tuya credentials not configured")
	errMissingIFTTT = errors.New("ifttt webhook key not configured")
)

// providerFor returns the inverter provider selected by the stored settings,
// configured and authenticated. Refreshed credentials (new session token,
// corrected regions) are persisted so the next request skips the login.
func (s *Server) providerFor(ctx context.Context, sv settingsWithVersion, creds types.Credentials) (inverter.Provider, error) {
	p := s.inverters.Get(sv.Inverter)
	if err := p.ApplySettings(ctx, sv.Settings); err != nil {
		return nil, fmt.Errorf("failed to apply settings: %w", err)
	}
	newCreds, changed, err := p.Authenticate(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with %s: %w", sv.Inverter, err)
	}
	if changed {
		s.persistCredentials(ctx, sv, newCreds)
	}
	return p, nil
}

// persistCredentials re-encrypts and saves credentials after a provider
// refreshed them. Failures are only logged since the in-memory copy still
// works for the current request.
func (s *Server) persistCredentials(ctx context.Context, sv settingsWithVersion, creds types.Credentials) {
	encrypted, err := s.encryptCredentials(ctx, creds)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to encrypt refreshed credentials", slog.Any("error", err))
		return
	}
	settings := sv.Settings
	settings.EncryptedCredentials = encrypted
	if err := s.storage.SetSettings(ctx, settings, sv.version); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save refreshed credentials", slog.Any("error", err))
	}
}

// fallbackProvider returns the simulator after the configured provider
// failed, so the dashboard keeps rendering while the portal is down. The
// original error comes back when the simulator is already the configured
// provider or cannot be prepared.
func (s *Server) fallbackProvider(ctx context.Context, sv settingsWithVersion, cause error) (inverter.Provider, error) {
	if sv.Inverter == inverter.ProviderSimulated {
		return nil, cause
	}
	log.Ctx(ctx).WarnContext(ctx, "inverter provider failed, falling back to simulator",
		slog.String("provider", sv.Inverter), slog.Any("error", cause))
	sim := s.inverters.Get(inverter.ProviderSimulated)
	if err := sim.ApplySettings(ctx, sv.Settings); err != nil {
		return nil, cause
	}
	if _, _, err := sim.Authenticate(ctx, types.Credentials{}); err != nil {
		return nil, cause
	}
	return sim, nil
}

// withProvider runs op against the configured provider and, when either the
// provider setup or op fails, retries once against the simulator.
func (s *Server) withProvider(ctx context.Context, sv settingsWithVersion, creds types.Credentials, op func(inverter.Provider) error) error {
	p, err := s.providerFor(ctx, sv, creds)
	if err == nil {
		if err = op(p); err == nil {
			return nil
		}
	}
	sim, ferr := s.fallbackProvider(ctx, sv, err)
	if ferr != nil {
		return ferr
	}
	return op(sim)
}

// vendorClient returns a smart plug API client built from the stored Tuya
// credentials. The client is cached until the credentials change.
func (s *Server) vendorClient(ctx context.Context) (vendorAPI, error) {
	_, creds, err := s.getSettingsWithMigration(ctx)
	if err != nil {
		return nil, err
	}
	if creds.Tuya == nil {
		return nil, errMissingTuya
	}

	s.vendorMu.Lock()
	defer s.vendorMu.Unlock()
	if s.vendor != nil && s.vendorCreds == *creds.Tuya {
		return s.vendor, nil
	}
	client, err := s.newVendor(*creds.Tuya)
	if err != nil {
		return nil, err
	}
	s.vendor = client
	s.vendorCreds = *creds.Tuya
	return client, nil
}

// resetVendor drops the cached plug client so the next call rebuilds it.
func (s *Server) resetVendor() {
	s.vendorMu.Lock()
	s.vendor = nil
	s.vendorCreds = types.TuyaCredentials{}
	s.vendorMu.Unlock()
}

// alertsClient returns the webhook alert client for the given credentials.
func (s *Server) alertsClient(creds types.Credentials) (alertsAPI, error) {
	if creds.IFTTT == nil {
		return nil, errMissingIFTTT
	}
	return s.newAlerts(*creds.IFTTT)
}
