package tuya

import "strconv"

// Metrics are the normalized readings extracted from a device's status list.
// SwitchOn is nil when the device reported no relay state.
type Metrics struct {
	PowerW   float64
	VoltageV float64
	CurrentA float64
	EnergyWH float64
	SwitchOn *bool
}

// ParseMetrics normalizes a status list into plug readings. Plugs report in
// inconsistent units, so out-of-range values are scaled: power above 200 is
// deciwatts, voltage above 300 is decivolts, current above 50 is milliamps.
// Accumulated energy has no reliable unit and is kept raw.
func ParseMetrics(status []StatusCode) Metrics {
	var m Metrics
	for _, s := range status {
		switch s.Code {
		case "switch", "switch_1":
			on := asBool(s.Value)
			m.SwitchOn = &on
		case "cur_power", "power", "power_w":
			v := asFloat(s.Value)
			if v > 200 {
				v /= 10
			}
			m.PowerW = v
		case "cur_voltage", "voltage":
			v := asFloat(s.Value)
			if v > 300 {
				v /= 10
			}
			m.VoltageV = v
		case "cur_current", "current":
			v := asFloat(s.Value)
			if v > 50 {
				v /= 1000
			}
			m.CurrentA = v
		case "add_ele", "energy", "ele_sum":
			m.EnergyWH = asFloat(s.Value)
		}
	}
	return m
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	case bool:
		if t {
			return 1
		}
	}
	return 0
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t == "true" || t == "1" || t == "on"
	}
	return false
}
