package inverter

import (
	"sync"

	"github.com/guivega7/Goodwe-Challenge/pkg/storage"
)

// Provider names accepted in settings.
const (
	ProviderSEMS      = "sems"
	ProviderSimulated = "simulated"
)

var (
	_ Provider = (*SEMS)(nil)
	_ Provider = (*Simulated)(nil)
)

// Configured sets up the inverter providers and points the simulator at the
// given database.
func Configured(db storage.Database) *Map {
	ConfigureSimulated(db)
	return NewMap()
}

// Map manages the shared provider instances.
type Map struct {
	mu        sync.Mutex
	providers map[string]Provider
}

// NewMap creates a new provider Map.
func NewMap() *Map {
	return &Map{
		providers: make(map[string]Provider),
	}
}

// Get returns the provider with the given name, creating it on first use.
// Unknown names fall back to the simulator so the dashboard stays alive.
func (m *Map) Get(name string) Provider {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.providers[name]; ok {
		return p
	}

	var p Provider
	switch name {
	case ProviderSEMS:
		p = newSEMS()
	default:
		p = newSimulated()
	}
	m.providers[name] = p
	return p
}

// SetProvider sets the provider for a name. This is primarily used for testing.
func (m *Map) SetProvider(name string, p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[name] = p
}
