package energy

import (
	"fmt"
	"sort"
	"time"

	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// Automation defaults applied when settings carry zero values.
const (
	DefaultPeakStart         = "17:30"
	DefaultPeakEnd           = "20:30"
	DefaultPeakFactor        = 0.7
	DefaultSmartSaveLimitKWH = 20.0
)

// OnConsumptionKWH sums the consumption of powered-on devices.
func OnConsumptionKWH(devices []types.Device) float64 {
	var total float64
	for _, d := range devices {
		if d.On {
			total += d.ConsumptionKWH
		}
	}
	return total
}

// InPeakWindow reports whether t falls inside the evening peak window. The
// bounds are local "15:04" strings and both ends are inclusive.
func InPeakWindow(t time.Time, start, end string) bool {
	m := t.Hour()*60 + t.Minute()
	return minuteOfDay(start, DefaultPeakStart) <= m && m <= minuteOfDay(end, DefaultPeakEnd)
}

func minuteOfDay(s, fallback string) int {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		parsed, _ = time.Parse("15:04", fallback)
	}
	return parsed.Hour()*60 + parsed.Minute()
}

// Shed plans which devices to turn off so the combined draw of powered-on
// devices comes down to targetKWH. Only medium priority and below are ever
// suggested, least important first and biggest draw first within the same
// priority, so a target below the protected load is reported as not achieved.
func Shed(devices []types.Device, targetKWH float64) types.ShedPlan {
	current := OnConsumptionKWH(devices)
	plan := types.ShedPlan{
		TargetKWH:  round2(targetKWH),
		CurrentKWH: round2(current),
	}
	if current <= targetKWH {
		plan.Achieved = true
		return plan
	}

	var eligible []types.Device
	for _, d := range devices {
		if d.On && d.Priority > types.PriorityHigh {
			eligible = append(eligible, d)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].ConsumptionKWH > eligible[j].ConsumptionKWH
	})

	remaining := current
	for _, d := range eligible {
		if remaining <= targetKWH {
			break
		}
		plan.Suggestions = append(plan.Suggestions, types.ShedSuggestion{
			DeviceID:       d.ID,
			Name:           d.Name,
			ConsumptionKWH: d.ConsumptionKWH,
			Priority:       d.Priority,
			PriorityLabel:  types.PriorityLabel(d.Priority),
			Reason:         fmt.Sprintf("turning off saves %.1f kWh", d.ConsumptionKWH),
		})
		remaining -= d.ConsumptionKWH
	}
	plan.ReductionKWH = round2(current - remaining)
	plan.Achieved = remaining <= targetKWH
	return plan
}

// PeakPlan sheds during the peak window, aiming at the current draw scaled by
// the peak factor. Outside the window it returns false and no plan.
func PeakPlan(devices []types.Device, settings types.Settings, now time.Time) (types.ShedPlan, bool) {
	if !InPeakWindow(now, settings.PeakStart, settings.PeakEnd) {
		return types.ShedPlan{}, false
	}
	factor := settings.PeakFactor
	if factor <= 0 || factor >= 1 {
		factor = DefaultPeakFactor
	}
	return Shed(devices, OnConsumptionKWH(devices)*factor), true
}

// SmartSavePlan sheds against an absolute consumption limit at any hour.
func SmartSavePlan(devices []types.Device, limitKWH float64) types.ShedPlan {
	if limitKWH <= 0 {
		limitKWH = DefaultSmartSaveLimitKWH
	}
	return Shed(devices, limitKWH)
}
