package types

import (
	"fmt"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 4

// Settings represents the configuration stored in the database.
// These are dynamic settings that can be changed without redeploying.
type Settings struct {
	// Inverter provider to use ("sems" or "simulated").
	Inverter string `json:"inverter"`

	// Billing
	// Rate applied to generation for the dashboard savings figures.
	TariffPerKWH float64 `json:"tariffPerKWH"`
	// Rate applied in alert reports; the utility bills delivered energy at a
	// slightly higher effective rate than the savings credit.
	AlertTariffPerKWH float64 `json:"alertTariffPerKWH"`
	// Estimated household consumption as a fraction of generation. The portal
	// has no consumption meter, so the dashboard estimates it.
	ConsumptionFactor float64 `json:"consumptionFactor"`

	BatteryCapacityKWH float64 `json:"batteryCapacityKWH"`
	DailyGoalKWH       float64 `json:"dailyGoalKWH"`

	// Peak window (local time, "15:04") and the reduction factor applied to
	// consumption during it.
	PeakStart  string  `json:"peakStart"`
	PeakEnd    string  `json:"peakEnd"`
	PeakFactor float64 `json:"peakFactor"`

	// Alerts
	LowBatteryThreshold float64 `json:"lowBatteryThreshold"` // SOC percent
	HighEnergyLimitKWH  float64 `json:"highEnergyLimitKWH"`

	// Default history window in days (capped at 30 by the endpoints).
	HistoryDays int `json:"historyDays"`

	// Credentials for external systems (encrypted)
	EncryptedCredentials []byte `json:"encryptedCredentials,omitempty"`
}

// Credentials for external systems
type Credentials struct {
	SEMS  *SEMSCredentials  `json:"sems,omitempty"`
	Tuya  *TuyaCredentials  `json:"tuya,omitempty"`
	IFTTT *IFTTTCredentials `json:"ifttt,omitempty"`
}

// Has reports which credential sets are present, keyed by system name.
func (c Credentials) Has() map[string]bool {
	return map[string]bool{
		"sems":  c.SEMS != nil,
		"tuya":  c.Tuya != nil,
		"ifttt": c.IFTTT != nil,
	}
}

// SEMSCredentials authenticate against the GoodWe SEMS portal.
type SEMSCredentials struct {
	Account     string `json:"account"`
	Password    string `json:"password,omitempty"`
	Serial      string `json:"serial"`
	LoginRegion string `json:"loginRegion,omitempty"`
	// DataRegion is the region that actually serves the account's data. It is
	// detected during login and may differ from LoginRegion.
	DataRegion string `json:"dataRegion,omitempty"`
	// Token is the cached SEMS session token. It is stored alongside the other
	// credentials so we can skip login on every cycle and only re-login when
	// the portal rejects the session.
	Token string `json:"token,omitempty"`
}

// TuyaCredentials authenticate against the Tuya OpenAPI.
type TuyaCredentials struct {
	AccessID string `json:"accessID"`
	Secret   string `json:"secret,omitempty"`
	Endpoint string `json:"endpoint,omitempty"` // defaults to the us endpoint
	DeviceID string `json:"deviceID,omitempty"` // primary plug
	UserID   string `json:"userID,omitempty"`   // for the user-scoped device list
}

// IFTTTCredentials hold the webhook key used for alert events.
type IFTTTCredentials struct {
	Key string `json:"key"`
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: billing defaults
			if s.TariffPerKWH == 0 {
				s.TariffPerKWH = 0.85
				migrated = true
			}
			if s.ConsumptionFactor == 0 {
				s.ConsumptionFactor = 0.75
				migrated = true
			}
			if s.BatteryCapacityKWH == 0 {
				s.BatteryCapacityKWH = 10.0
				migrated = true
			}
		case 2:
			// version 2: peak window and daily generation goal
			if s.PeakStart == "" {
				s.PeakStart = "17:30"
				migrated = true
			}
			if s.PeakEnd == "" {
				s.PeakEnd = "20:30"
				migrated = true
			}
			if s.PeakFactor == 0 {
				s.PeakFactor = 0.7
				migrated = true
			}
			if s.DailyGoalKWH == 0 {
				s.DailyGoalKWH = 30.0
				migrated = true
			}
		case 3:
			// version 3: alert thresholds, alert tariff, history window
			if s.LowBatteryThreshold == 0 {
				s.LowBatteryThreshold = 20.0
				migrated = true
			}
			if s.HighEnergyLimitKWH == 0 {
				s.HighEnergyLimitKWH = 20.0
				migrated = true
			}
			if s.AlertTariffPerKWH == 0 {
				s.AlertTariffPerKWH = 0.95
				migrated = true
			}
			if s.HistoryDays == 0 {
				s.HistoryDays = 7
				migrated = true
			}
		case 4:
			// version 4: default the inverter provider. Accounts that already
			// stored credentials were using the portal; everyone else gets the
			// simulated provider until they configure one.
			if s.Inverter == "" {
				if len(s.EncryptedCredentials) > 0 {
					s.Inverter = "sems"
				} else {
					s.Inverter = "simulated"
				}
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
