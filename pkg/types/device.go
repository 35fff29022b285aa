package types

import (
	"encoding/json"
	"time"
)

// Device is a household appliance tracked by the dashboard. Devices are either
// registered manually or synced from the smart-plug vendor.
type Device struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ConsumptionKWH float64   `json:"consumptionKWH"` // estimated daily consumption
	Priority       int       `json:"priority"`       // 1 critical .. 5 optional
	On             bool      `json:"on"`
	Category       string    `json:"category,omitempty"`
	ExternalCode   string    `json:"externalCode,omitempty"` // vendor device id for synced devices
	Source         string    `json:"source,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Device sources.
const (
	DeviceSourceManual = "manual"
	DeviceSourceTuya   = "tuya"
)

// Device priorities. Lower is more important; only devices above PriorityHigh
// are eligible for automated shedding.
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityMedium   = 3
	PriorityLow      = 4
	PriorityOptional = 5
)

// PriorityLabel returns the human name for a device priority.
func PriorityLabel(p int) string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	case PriorityOptional:
		return "optional"
	}
	return "unknown"
}

// Device categories assigned by the vendor sync.
const (
	CategorySwitch   = "switch"
	CategoryLighting = "lighting"
	CategoryOutlet   = "outlet"
)

// PlugReading is one sample collected from a smart plug.
type PlugReading struct {
	ID        string          `json:"id"`
	DeviceID  string          `json:"deviceID"`
	Timestamp time.Time       `json:"timestamp"`
	PowerW    float64         `json:"powerW"`
	VoltageV  float64         `json:"voltageV"`
	CurrentA  float64         `json:"currentA"`
	EnergyWH  float64         `json:"energyWH"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// PlugSummary aggregates the most recent readings for the summary endpoint.
type PlugSummary struct {
	Count       int       `json:"count"`
	AvgPowerW   float64   `json:"avgPowerW"`
	MaxPowerW   float64   `json:"maxPowerW"`
	AvgVoltageV float64   `json:"avgVoltageV"`
	AvgCurrentA float64   `json:"avgCurrentA"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SyncStats reports the outcome of one vendor device sync.
type SyncStats struct {
	Found   int `json:"found"`
	Created int `json:"created"`
	Updated int `json:"updated"`
}
