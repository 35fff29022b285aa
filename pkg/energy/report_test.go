package energy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

func TestReport(t *testing.T) {
	t.Run("Balances Generation Against Consumption", func(t *testing.T) {
		r := Report("2025-03-10", 18.234, 12.5, 0.95)
		assert.Equal(t, "2025-03-10", r.Date)
		assert.Equal(t, 18.23, r.GenerationKWH)
		assert.Equal(t, 12.5, r.ConsumptionKWH)
		assert.Equal(t, 5.73, r.BalanceKWH)
		assert.Equal(t, 11.88, r.Cost)
	})

	t.Run("Negative Balance When Consuming More", func(t *testing.T) {
		r := Report("2025-03-11", 5.0, 9.0, 1.0)
		assert.Equal(t, -4.0, r.BalanceKWH)
		assert.Equal(t, 9.0, r.Cost)
	})

	t.Run("Cost Falls Back To The Default Tariff", func(t *testing.T) {
		assert.Equal(t, 9.5, Cost(10, 0))
	})
}

func TestEfficiencyBand(t *testing.T) {
	assert.Equal(t, EfficiencyLow, EfficiencyBand(0))
	assert.Equal(t, EfficiencyLow, EfficiencyBand(69.9))
	assert.Equal(t, EfficiencyMedium, EfficiencyBand(70))
	assert.Equal(t, EfficiencyMedium, EfficiencyBand(84.9))
	assert.Equal(t, EfficiencyHigh, EfficiencyBand(85))
	assert.Equal(t, EfficiencyHigh, EfficiencyBand(120))
}

func TestProjection(t *testing.T) {
	t.Run("Extrapolates Daily Average", func(t *testing.T) {
		p := Projection(10, 0.95)
		assert.Equal(t, 10.0, p.DailyKWH)
		assert.Equal(t, 285.0, p.Monthly)
		assert.Equal(t, 3420.0, p.Annual)
	})

	t.Run("Clamps Negative Input", func(t *testing.T) {
		p := Projection(-3, 0.95)
		assert.Equal(t, 0.0, p.DailyKWH)
		assert.Equal(t, 0.0, p.Monthly)
	})
}

func TestStats(t *testing.T) {
	history := []types.DayEnergy{
		{Date: "2025-03-10", GenerationKWH: 20, ConsumptionKWH: 15, Savings: 17},
		{Date: "2025-03-11", GenerationKWH: 30, ConsumptionKWH: 10, Savings: 25.5},
		{Date: "2025-03-12", GenerationKWH: 10, ConsumptionKWH: 28, Savings: 8.5},
	}

	t.Run("Totals The Window", func(t *testing.T) {
		s := Stats(history, 30, 0.85)
		assert.Equal(t, "2025-03-10", s.Start)
		assert.Equal(t, "2025-03-12", s.End)
		assert.Equal(t, 3, s.Days)
		assert.Equal(t, 60.0, s.GenerationKWH)
		assert.Equal(t, 53.0, s.ConsumptionKWH)
		assert.Equal(t, 7.0, s.BalanceKWH)
		assert.Equal(t, 51.0, s.Savings)
		assert.Equal(t, 20.0, s.AvgDailyKWH)
		assert.Equal(t, "2025-03-11", s.BestDay)
		assert.Equal(t, 30.0, s.BestDayKWH)
	})

	t.Run("Efficiency Is Average Generation Against The Goal", func(t *testing.T) {
		s := Stats(history, 30, 0.85)
		assert.Equal(t, 66.7, s.Efficiency)
		assert.Equal(t, EfficiencyLow, s.EfficiencyBand)

		s = Stats(history, 22, 0.85)
		assert.Equal(t, 90.9, s.Efficiency)
		assert.Equal(t, EfficiencyHigh, s.EfficiencyBand)
	})

	t.Run("Projection Uses The Tariff", func(t *testing.T) {
		s := Stats(history, 30, 0.85)
		assert.Equal(t, 20.0, s.Projection.DailyKWH)
		assert.Equal(t, 510.0, s.Projection.Monthly)
		assert.Equal(t, 6120.0, s.Projection.Annual)
	})

	t.Run("Empty History Is All Zeroes", func(t *testing.T) {
		s := Stats(nil, 30, 0.85)
		assert.Equal(t, types.StatsSummary{}, s)
	})
}
