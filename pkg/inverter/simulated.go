package inverter

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/guivega7/Goodwe-Challenge/pkg/storage"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

var (
	simDB storage.Database
)

// ConfigureSimulated sets the database for the simulated provider.
func ConfigureSimulated(db storage.Database) {
	simDB = db
}

const simSerial = "simulated"

// Simulated synthesizes plausible generation data so the dashboard keeps
// working without portal credentials or when the portal is down. Battery state
// persists through storage so restarts don't reset it.
type Simulated struct {
	mu       sync.Mutex
	settings types.Settings
	now      func() time.Time
}

func newSimulated() *Simulated {
	return &Simulated{now: time.Now}
}

// ApplySettings saves the current system settings for use in the simulation.
func (s *Simulated) ApplySettings(ctx context.Context, settings types.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

// Authenticate is a no-op for the simulator; there is no portal to talk to.
func (s *Simulated) Authenticate(ctx context.Context, creds types.Credentials) (types.Credentials, bool, error) {
	return creds, false, nil
}

// simSolarKW follows a bell between 06:00 and 19:00 peaking at 3 kW.
func simSolarKW(hour float64) float64 {
	if hour < 6 || hour > 19 {
		return 0
	}
	return 3.0 * math.Sin((hour-6)/13*math.Pi)
}

func hourOf(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60.0
}

// simDailyEnergyKWH is deterministic per day so history stays stable across
// requests.
func simDailyEnergyKWH(day time.Time) float64 {
	return round2(8.5 + math.Sin(float64(day.YearDay())))
}

// simEnergySoFar scales today's total by how much of the bell has passed.
func simEnergySoFar(now time.Time) float64 {
	h := hourOf(now)
	if h <= 6 {
		return 0
	}
	if h > 19 {
		h = 19
	}
	frac := (1 - math.Cos((h-6)/13*math.Pi)) / 2
	return round2(simDailyEnergyKWH(now) * frac)
}

// advance walks the persisted battery forward in at most hourly steps:
// charging through the morning, idle in the afternoon, discharging through
// the evening.
func (s *Simulated) advance(state *types.SimState, now time.Time) {
	if state.Timestamp.IsZero() {
		state.Timestamp = now.Add(-time.Hour)
		state.BatterySOC = 50.0
	}
	if now.Sub(state.Timestamp) > 24*time.Hour {
		state.Timestamp = now.Add(-24 * time.Hour)
	}
	for t := state.Timestamp; t.Before(now); t = t.Add(time.Hour) {
		step := now.Sub(t)
		if step > time.Hour {
			step = time.Hour
		}
		hours := step.Hours()
		switch h := t.Hour(); {
		case h >= 6 && h < 14:
			state.BatterySOC = math.Min(95.0, state.BatterySOC+2.0*hours)
		case h >= 18 && h < 23:
			state.BatterySOC = math.Max(40.0, state.BatterySOC-1.5*hours)
		}
	}
	state.Timestamp = now
}

func (s *Simulated) advanceState(ctx context.Context, now time.Time) (types.SimState, error) {
	state, err := simDB.GetSimState(ctx)
	if err != nil {
		return types.SimState{}, err
	}
	s.advance(&state, now)
	if err := simDB.SetSimState(ctx, state); err != nil {
		return types.SimState{}, err
	}
	return state, nil
}

// Status computes the current simulated power flows and battery level.
func (s *Simulated) Status(ctx context.Context) (types.InverterStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	state, err := s.advanceState(ctx, now)
	if err != nil {
		return types.InverterStatus{}, err
	}

	solarKW := simSolarKW(hourOf(now))
	st := types.InverterStatus{
		Serial:     simSerial,
		Online:     true,
		PVPowerW:   math.Round(solarKW * 1050),
		ACPowerW:   math.Round(solarKW * 1000),
		BatterySOC: round1(state.BatterySOC),
		State:      types.InverterStateStandby,
		UpdatedAt:  now,
		Provenance: types.ProvenanceSimulated,
	}
	if st.ACPowerW > 0 {
		st.State = types.InverterStateOperating
	}
	return st, nil
}

// Aggregate synthesizes the dashboard view over rng. Daily totals are
// deterministic per day; today's total follows the elapsed daylight.
func (s *Simulated) Aggregate(ctx context.Context, rng types.DateRange) (types.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	state, err := s.advanceState(ctx, now)
	if err != nil {
		return types.Aggregate{}, err
	}

	capacity := s.settings.BatteryCapacityKWH
	if capacity == 0 {
		capacity = 10.0
	}

	solarKW := simSolarKW(hourOf(now))
	agg := types.Aggregate{
		Serial:             simSerial,
		GeneratedAt:        now,
		ACPowerW:           math.Round(solarKW * 1000),
		PVPowerW:           math.Round(solarKW * 1050),
		EnergyTodayKWH:     simEnergySoFar(now),
		BatterySOC:         round1(state.BatterySOC),
		BatteryCapacityKWH: capacity,
		BatteryState:       types.BatteryStateStandby,
		PointCounts:        make(map[types.Metric]int),
		Provenance:         types.ProvenanceSimulated,
	}
	if agg.ACPowerW > 0 {
		agg.BatteryState = types.BatteryStateCharging
	}

	today := now.Format("2006-01-02")
	for _, day := range rng.Days() {
		gen := simDailyEnergyKWH(day)
		if day.Format("2006-01-02") == today {
			gen = agg.EnergyTodayKWH
		}
		agg.History = append(agg.History, types.DayAggregate{
			Date:           day.Format("2006-01-02"),
			Weekday:        day.Weekday().String(),
			GenerationKWH:  gen,
			ConsumptionKWH: round2(gen * s.settings.ConsumptionFactor),
			Savings:        round2(gen * s.settings.TariffPerKWH),
			AvgBatterySOC:  round1(62 + 6*math.Sin(float64(day.YearDay()))),
		})
	}

	agg.PointCounts[types.MetricACPower] = 1
	agg.PointCounts[types.MetricPVPower] = 1
	agg.PointCounts[types.MetricBatterySOC] = len(agg.History)
	agg.PointCounts[types.MetricDayEnergy] = len(agg.History)
	return agg, nil
}

// Intraday synthesizes hourly power and battery series for the given day,
// stopping at the current hour for today.
func (s *Simulated) Intraday(ctx context.Context, day time.Time) (types.IntradaySeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := types.IntradaySeries{
		Date:       day.Format("2006-01-02"),
		Provenance: types.ProvenanceSimulated,
	}

	end := 24
	if day.Format("2006-01-02") == now.Format("2006-01-02") {
		end = now.Hour() + 1
	}

	soc := 50.0
	for h := 0; h < end; h++ {
		ts := time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, day.Location())
		out.Power = append(out.Power, types.Point{Time: ts, Value: math.Round(simSolarKW(float64(h)) * 1000)})
		switch {
		case h >= 6 && h < 14:
			soc = math.Min(95.0, soc+2.0)
		case h >= 18 && h < 23:
			soc = math.Max(40.0, soc-1.5)
		}
		out.BatterySOC = append(out.BatterySOC, types.Point{Time: ts, Value: round1(soc)})
	}
	return out, nil
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
