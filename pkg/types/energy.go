package types

import "time"

const (
	// CurrentDayEnergyVersion is bumped when the per-day history shape or its
	// derivation changes; the sync job backfills older records.
	CurrentDayEnergyVersion = 1
)

// DayEnergy is one persisted day of inverter history.
type DayEnergy struct {
	Date           string     `json:"date"` // 2006-01-02
	GenerationKWH  float64    `json:"generationKWH"`
	ConsumptionKWH float64    `json:"consumptionKWH"`
	AvgBatterySOC  float64    `json:"avgBatterySOC,omitempty"`
	Savings        float64    `json:"savings"`
	Provenance     Provenance `json:"provenance,omitempty"`
}

// Day parses the record's civil date.
func (d DayEnergy) Day() (time.Time, error) {
	return time.Parse("2006-01-02", d.Date)
}

// EnergyReport is a daily balance used for summaries and alert messages.
type EnergyReport struct {
	Date           string  `json:"date"`
	GenerationKWH  float64 `json:"generationKWH"`
	ConsumptionKWH float64 `json:"consumptionKWH"`
	BalanceKWH     float64 `json:"balanceKWH"` // generation minus consumption
	Cost           float64 `json:"cost"`       // consumption at the alert tariff
}

// EconomyProjection extrapolates savings from a per-day average.
type EconomyProjection struct {
	DailyKWH float64 `json:"dailyKWH"`
	Monthly  float64 `json:"monthly"`
	Annual   float64 `json:"annual"`
}

// StatsSummary totals the stored history for the stats endpoint.
type StatsSummary struct {
	Start          string            `json:"start"`
	End            string            `json:"end"`
	Days           int               `json:"days"`
	GenerationKWH  float64           `json:"generationKWH"`
	ConsumptionKWH float64           `json:"consumptionKWH"`
	BalanceKWH     float64           `json:"balanceKWH"`
	Savings        float64           `json:"savings"`
	AvgDailyKWH    float64           `json:"avgDailyKWH"`
	BestDay        string            `json:"bestDay,omitempty"`
	BestDayKWH     float64           `json:"bestDayKWH,omitempty"`
	Efficiency     float64           `json:"efficiency"` // avg generation vs daily goal, percent
	EfficiencyBand string            `json:"efficiencyBand"`
	Projection     EconomyProjection `json:"projection"`
}

// GenerationForecast is the weather-adjusted generation estimate.
type GenerationForecast struct {
	Weather        string  `json:"weather"`
	Factor         float64 `json:"factor"`
	EstimatedKWH   float64 `json:"estimatedKWH"`
	CapacityKWH    float64 `json:"capacityKWH"`
	Percent        float64 `json:"percent"`
	Category       string  `json:"category"`
	Recommendation string  `json:"recommendation"`
}

// ConsumptionForecast is the hour-banded consumption estimate.
type ConsumptionForecast struct {
	Hour         int     `json:"hour"`
	EstimatedKWH float64 `json:"estimatedKWH"`
	Level        string  `json:"level"` // high, normal, low
}

// HourlyPattern is one hour of the learned consumption model.
type HourlyPattern struct {
	Hour    int     `json:"hour"`
	AvgKWH  float64 `json:"avgKWH"`
	Samples int     `json:"samples"`
}

// ShedSuggestion proposes turning one device off.
type ShedSuggestion struct {
	DeviceID       string  `json:"deviceID"`
	Name           string  `json:"name"`
	ConsumptionKWH float64 `json:"consumptionKWH"`
	Priority       int     `json:"priority"`
	PriorityLabel  string  `json:"priorityLabel"`
	Reason         string  `json:"reason"`
}

// ShedPlan is the set of devices to turn off to reach a consumption target.
type ShedPlan struct {
	TargetKWH    float64          `json:"targetKWH"`
	CurrentKWH   float64          `json:"currentKWH"`
	ReductionKWH float64          `json:"reductionKWH"`
	Achieved     bool             `json:"achieved"`
	Suggestions  []ShedSuggestion `json:"suggestions"`
}

// SimState is the persisted state of the simulated inverter provider.
type SimState struct {
	Timestamp  time.Time `json:"timestamp"`
	BatterySOC float64   `json:"batterySOC"`
}
