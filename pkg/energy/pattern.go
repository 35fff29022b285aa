package energy

import (
	"log/slog"
	"sort"

	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// DefaultOutlierMultiple is how far above the mean of the other samples a
// reading must sit before it counts as an outlier.
const DefaultOutlierMultiple = 2.0

// HourlyModel averages plug draw by hour of day. Each reading contributes its
// power held for an hour, in kWh. With at least three samples for an hour and
// a positive multiple, a sample is dropped when it exceeds the mean of the
// others by that multiple, but only when exactly one sample does; two or more
// means the hour is genuinely spiky and everything is kept.
func HourlyModel(readings []types.PlugReading, outlierMultiple float64) []types.HourlyPattern {
	hourly := make(map[int][]float64)
	for _, r := range readings {
		if r.Timestamp.IsZero() {
			continue
		}
		h := r.Timestamp.Hour()
		hourly[h] = append(hourly[h], r.PowerW/1000)
	}

	model := make([]types.HourlyPattern, 0, len(hourly))
	for h, samples := range hourly {
		valid := samples
		if len(samples) >= 3 && outlierMultiple > 0 {
			valid = dropSingleOutlier(h, samples, outlierMultiple)
		}

		var total float64
		for _, s := range valid {
			total += s
		}
		model = append(model, types.HourlyPattern{
			Hour:    h,
			AvgKWH:  round3(total / float64(len(valid))),
			Samples: len(valid),
		})
	}

	sort.Slice(model, func(i, j int) bool { return model[i].Hour < model[j].Hour })
	return model
}

func dropSingleOutlier(hour int, samples []float64, multiple float64) []float64 {
	var outliers []int // indices
	for i, s := range samples {
		var sumOthers float64
		for j, other := range samples {
			if i == j {
				continue
			}
			sumOthers += other
		}
		avgOthers := sumOthers / float64(len(samples)-1)
		if s > avgOthers*multiple {
			outliers = append(outliers, i)
		}
	}

	switch len(outliers) {
	case 0:
		return samples
	case 1:
		slog.Debug("ignoring outlier sample",
			slog.Int("hour", hour),
			slog.Float64("value", samples[outliers[0]]),
		)
		valid := make([]float64, 0, len(samples)-1)
		for i, s := range samples {
			if i != outliers[0] {
				valid = append(valid, s)
			}
		}
		return valid
	default:
		slog.Debug("multiple outlier samples, keeping all",
			slog.Int("hour", hour),
			slog.Int("outliers", len(outliers)),
			slog.Int("samples", len(samples)),
		)
		return samples
	}
}
