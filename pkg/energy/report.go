// Package energy turns stored generation and consumption figures into daily
// reports, weather forecasts and device automation plans.
package energy

import (
	"math"

	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// DefaultTariffPerKWH prices energy when no tariff is configured.
const DefaultTariffPerKWH = 0.95

// Efficiency bands for average generation against the daily goal.
const (
	EfficiencyLow    = "low"
	EfficiencyMedium = "medium"
	EfficiencyHigh   = "high"
)

// Cost prices consumption at the given tariff, falling back to the default
// rate when tariff is unset.
func Cost(consumptionKWH, tariff float64) float64 {
	if tariff <= 0 {
		tariff = DefaultTariffPerKWH
	}
	return round2(consumptionKWH * tariff)
}

// Report summarizes one day of generation against consumption.
func Report(date string, generationKWH, consumptionKWH, tariff float64) types.EnergyReport {
	return types.EnergyReport{
		Date:           date,
		GenerationKWH:  round2(generationKWH),
		ConsumptionKWH: round2(consumptionKWH),
		BalanceKWH:     round2(generationKWH - consumptionKWH),
		Cost:           Cost(consumptionKWH, tariff),
	}
}

// EfficiencyBand classifies an efficiency percentage.
func EfficiencyBand(percent float64) string {
	switch {
	case percent < 70:
		return EfficiencyLow
	case percent < 85:
		return EfficiencyMedium
	default:
		return EfficiencyHigh
	}
}

// Projection extrapolates a daily generation average into monthly and annual
// savings at the tariff.
func Projection(dailyKWH, tariff float64) types.EconomyProjection {
	if tariff <= 0 {
		tariff = DefaultTariffPerKWH
	}
	if dailyKWH < 0 {
		dailyKWH = 0
	}
	monthly := dailyKWH * 30 * tariff
	return types.EconomyProjection{
		DailyKWH: round2(dailyKWH),
		Monthly:  round2(monthly),
		Annual:   round2(monthly * 12),
	}
}

// Stats aggregates a run of stored days, oldest first as storage returns them.
// goalKWH is the configured daily goal; efficiency is the average daily
// generation as a percentage of it.
func Stats(history []types.DayEnergy, goalKWH, tariff float64) types.StatsSummary {
	if len(history) == 0 {
		return types.StatsSummary{}
	}

	s := types.StatsSummary{
		Start: history[0].Date,
		End:   history[len(history)-1].Date,
		Days:  len(history),
	}
	for _, d := range history {
		s.GenerationKWH += d.GenerationKWH
		s.ConsumptionKWH += d.ConsumptionKWH
		s.Savings += d.Savings
		if d.GenerationKWH > s.BestDayKWH {
			s.BestDayKWH = d.GenerationKWH
			s.BestDay = d.Date
		}
	}

	avgDaily := s.GenerationKWH / float64(s.Days)
	if goalKWH > 0 {
		s.Efficiency = round1(avgDaily / goalKWH * 100)
	}
	s.EfficiencyBand = EfficiencyBand(s.Efficiency)
	s.Projection = Projection(avgDaily, tariff)

	s.GenerationKWH = round2(s.GenerationKWH)
	s.ConsumptionKWH = round2(s.ConsumptionKWH)
	s.BalanceKWH = round2(s.GenerationKWH - s.ConsumptionKWH)
	s.Savings = round2(s.Savings)
	s.AvgDailyKWH = round2(avgDaily)
	s.BestDayKWH = round2(s.BestDayKWH)
	return s
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
