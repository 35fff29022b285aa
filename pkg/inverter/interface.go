package inverter

import (
	"context"
	"time"

	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// Provider defines the interface for reading production data from a solar
// installation, whether a portal-backed inverter or the simulator.
type Provider interface {
	// Authenticate verifies the credentials against the backing service and
	// returns them, possibly updated (cached session tokens, corrected
	// regions), along with whether they changed and should be persisted.
	Authenticate(ctx context.Context, creds types.Credentials) (types.Credentials, bool, error)

	// ApplySettings updates the provider using the provided global settings.
	ApplySettings(ctx context.Context, settings types.Settings) error

	// Status returns the current snapshot of the system.
	Status(ctx context.Context) (types.InverterStatus, error)

	// Aggregate returns today's totals along with per-day history covering
	// rng, oldest day first.
	Aggregate(ctx context.Context, rng types.DateRange) (types.Aggregate, error)

	// Intraday returns the power and battery series recorded on the given day.
	Intraday(ctx context.Context, day time.Time) (types.IntradaySeries, error)
}
