package energy

import (
	"math/rand"
	"strings"

	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// DefaultCapacityKWH is the system's generation capacity on a clear day.
const DefaultCapacityKWH = 30.0

// Generation categories by percent of capacity.
const (
	CategoryExcellent = "excellent"
	CategoryGood      = "good"
	CategoryModerate  = "moderate"
	CategoryLow       = "low"
)

// Consumption levels for the hour-banded forecast.
const (
	LevelHigh   = "high"
	LevelNormal = "normal"
	LevelLow    = "low"
)

// weatherFactors scale capacity by condition. Keys match the lowercased
// condition strings the weather feed reports.
var weatherFactors = map[string]float64{
	"ensolarado":           1.0,
	"sol":                  1.0,
	"claro":                0.95,
	"parcialmente nublado": 0.7,
	"nublado":              0.4,
	"muito nublado":        0.3,
	"chuvoso":              0.2,
	"tempestade":           0.1,
}

const unknownWeatherFactor = 0.5

// WeatherFactor returns the generation factor for a weather condition, or the
// middle factor for conditions it has never seen.
func WeatherFactor(condition string) float64 {
	f, ok := weatherFactors[strings.ToLower(strings.TrimSpace(condition))]
	if !ok {
		return unknownWeatherFactor
	}
	return f
}

// ForecastGeneration estimates today's generation from the weather condition.
// A zero capacity falls back to the default system capacity.
func ForecastGeneration(condition string, capacityKWH float64) types.GenerationForecast {
	if capacityKWH <= 0 {
		capacityKWH = DefaultCapacityKWH
	}
	factor := WeatherFactor(condition)
	estimated := round2(capacityKWH * factor)
	percent := round1(estimated / capacityKWH * 100)
	category := generationCategory(percent)
	return types.GenerationForecast{
		Weather:        condition,
		Factor:         factor,
		EstimatedKWH:   estimated,
		CapacityKWH:    capacityKWH,
		Percent:        percent,
		Category:       category,
		Recommendation: recommendationFor(category),
	}
}

func generationCategory(percent float64) string {
	switch {
	case percent >= 80:
		return CategoryExcellent
	case percent >= 60:
		return CategoryGood
	case percent >= 40:
		return CategoryModerate
	default:
		return CategoryLow
	}
}

func recommendationFor(category string) string {
	switch category {
	case CategoryExcellent:
		return "Dia ideal para máximo uso de energia solar"
	case CategoryGood:
		return "Aproveite para usar aparelhos de alto consumo"
	case CategoryModerate:
		return "Use aparelhos de alto consumo com moderação"
	default:
		return "Evite usar múltiplos aparelhos de alto consumo simultaneamente"
	}
}

// ForecastConsumption estimates household draw for an hour of the day from
// the usual meal and evening bands, with jitter so repeated calls don't
// return a flat line.
func ForecastConsumption(hour int) types.ConsumptionForecast {
	lo, hi := consumptionBand(hour)
	base := lo + rand.Float64()*(hi-lo)
	estimated := round2(base * (0.85 + rand.Float64()*0.3))
	return types.ConsumptionForecast{
		Hour:         hour,
		EstimatedKWH: estimated,
		Level:        consumptionLevel(estimated),
	}
}

func consumptionBand(hour int) (float64, float64) {
	switch {
	case hour >= 6 && hour <= 8: // morning
		return 12.0, 18.0
	case hour >= 11 && hour <= 14: // lunch
		return 20.0, 28.0
	case hour >= 18 && hour <= 22: // evening
		return 15.0, 25.0
	default: // overnight
		return 5.0, 12.0
	}
}

func consumptionLevel(estimatedKWH float64) string {
	switch {
	case estimatedKWH > 25:
		return LevelHigh
	case estimatedKWH > 15:
		return LevelNormal
	default:
		return LevelLow
	}
}
