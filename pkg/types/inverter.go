package types

import (
	"strings"
	"time"
)

// Region identifies one of the portal's geographic server clusters. The portal
// shards accounts by region and the login region may differ from the region
// that actually serves the account's data.
type Region string

const (
	RegionUS Region = "us"
	RegionEU Region = "eu"
)

// Alternate returns the other region. A login answered with the region
// mismatch code should be retried exactly once against this.
func (r Region) Alternate() Region {
	if r == RegionEU {
		return RegionUS
	}
	return RegionEU
}

// ParseRegion normalizes a region string, defaulting to us.
func ParseRegion(s string) Region {
	if strings.EqualFold(s, string(RegionEU)) {
		return RegionEU
	}
	return RegionUS
}

// Metric names a time-series column exposed by the inverter portal.
type Metric string

const (
	MetricACPower    Metric = "pac"       // instantaneous AC output power (W)
	MetricPVPower    Metric = "ppv"       // instantaneous PV input power (W)
	MetricDayEnergy  Metric = "eday"      // cumulative generation for the day (kWh)
	MetricBatterySOC Metric = "Cbattery1" // battery state of charge (%)
)

// Point is a single sample in a metric series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Provenance records where a result's data came from.
type Provenance string

const (
	// ProvenanceLive means the portal returned at least one point.
	ProvenanceLive Provenance = "live"
	// ProvenanceEmpty means the portal answered successfully but held no
	// points for the requested range. This is not a failure.
	ProvenanceEmpty Provenance = "empty"
	// ProvenanceSimulated means the result was synthesized by the fallback
	// provider.
	ProvenanceSimulated Provenance = "simulated"
)

// DateRange is an inclusive range of civil days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// LastDays returns the range covering the n days ending on (and including) end.
func LastDays(end time.Time, n int) DateRange {
	if n < 1 {
		n = 1
	}
	day := end.Truncate(24 * time.Hour)
	return DateRange{Start: day.AddDate(0, 0, -(n - 1)), End: day}
}

// Days returns each day in the range, oldest first.
func (r DateRange) Days() []time.Time {
	var days []time.Time
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Inverter run states derived from the instantaneous AC power.
const (
	InverterStateOperating = "operating"
	InverterStateStandby   = "standby"
)

// Battery states derived from the instantaneous AC power.
const (
	BatteryStateCharging = "charging"
	BatteryStateStandby  = "standby"
)

// InverterStatus is the latest instantaneous view of the system.
type InverterStatus struct {
	Serial     string     `json:"serial"`
	Online     bool       `json:"online"`
	PVPowerW   float64    `json:"pvPowerW"`
	ACPowerW   float64    `json:"acPowerW"`
	BatterySOC float64    `json:"batterySOC"`
	State      string     `json:"state"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	Provenance Provenance `json:"provenance"`
}

// Aggregate is the dashboard view assembled from the portal's series. The
// per-metric point counts let callers tell an empty metric apart from one
// that failed outright.
type Aggregate struct {
	Serial             string         `json:"serial"`
	GeneratedAt        time.Time      `json:"generatedAt"`
	ACPowerW           float64        `json:"acPowerW"`
	PVPowerW           float64        `json:"pvPowerW"`
	EnergyTodayKWH     float64        `json:"energyTodayKWH"`
	BatterySOC         float64        `json:"batterySOC"`
	BatteryCapacityKWH float64        `json:"batteryCapacityKWH"`
	BatteryState       string         `json:"batteryState"`
	History            []DayAggregate `json:"history,omitempty"`
	PointCounts        map[Metric]int `json:"pointCounts"`
	Provenance         Provenance     `json:"provenance"`
}

// DayAggregate is one day of history.
type DayAggregate struct {
	Date           string  `json:"date"` // 2006-01-02
	Weekday        string  `json:"weekday"`
	GenerationKWH  float64 `json:"generationKWH"`
	ConsumptionKWH float64 `json:"consumptionKWH"` // estimated from generation
	Savings        float64 `json:"savings"`        // generation at the tariff
	AvgBatterySOC  float64 `json:"avgBatterySOC,omitempty"`
}

// IntradaySeries carries today's high-resolution power and SOC series.
type IntradaySeries struct {
	Date       string     `json:"date"`
	Power      []Point    `json:"power"`
	BatterySOC []Point    `json:"batterySOC"`
	Provenance Provenance `json:"provenance"`
}
