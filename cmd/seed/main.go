package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"

	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/storage"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

func main() {
	_ = godotenv.Load()
	// seed against the local emulator unless the environment points elsewhere
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding demo data")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	now := time.Now()

	// Default settings so the dashboard works out of the box
	settings, _, err := types.MigrateSettings(types.Settings{}, 0)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build settings", "error", err)
		os.Exit(1)
	}
	if err := s.SetSettings(ctx, settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed settings", "error", err)
		os.Exit(1)
	}

	// Example household devices, plus one vendor-synced plug so the telemetry
	// endpoints have something to show
	devices := []types.Device{
		{Name: "ventilador", ConsumptionKWH: 0.1, Priority: types.PriorityMedium},
		{Name: "ar condicionado", ConsumptionKWH: 2.5, Priority: types.PriorityCritical},
		{Name: "geladeira", ConsumptionKWH: 0.3, Priority: types.PriorityCritical},
		{Name: "tv", ConsumptionKWH: 0.2, Priority: types.PriorityLow},
		{Name: "notebook", ConsumptionKWH: 0.1, Priority: types.PriorityMedium},
		{Name: "tomada inteligente", ConsumptionKWH: 0.5, Priority: types.PriorityOptional,
			Category: types.CategoryOutlet, Source: types.DeviceSourceTuya, ExternalCode: "seed-plug-1"},
	}
	var plugDevice types.Device
	for i := range devices {
		d := &devices[i]
		d.ID = uuid.NewString()
		d.On = rng.Float64() > 0.3
		if d.Source == "" {
			d.Source = types.DeviceSourceManual
		}
		d.CreatedAt = now
		d.UpdatedAt = now
		if err := s.CreateDevice(ctx, *d); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed device", "name", d.Name, "error", err)
			os.Exit(1)
		}
		if d.Source == types.DeviceSourceTuya {
			plugDevice = *d
		}
		fmt.Printf("Seeded device %s (%.1f kWh/day, %s)\n",
			d.Name, d.ConsumptionKWH, types.PriorityLabel(d.Priority))
	}

	// Two weeks of daily history
	for i := 14; i >= 1; i-- {
		day := now.AddDate(0, 0, -i)
		gen := 18.0 + rng.Float64()*14.0 // 18..32 kWh depending on the weather
		de := types.DayEnergy{
			Date:           day.Format("2006-01-02"),
			GenerationKWH:  round2(gen),
			ConsumptionKWH: round2(gen * settings.ConsumptionFactor),
			AvgBatterySOC:  round1(45 + rng.Float64()*40),
			Savings:        round2(gen * settings.TariffPerKWH),
			Provenance:     types.ProvenanceSimulated,
		}
		if err := s.UpsertDayEnergy(ctx, de, types.CurrentDayEnergyVersion); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed day energy", "date", de.Date, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded %s: %.1f kWh generated, %.1f kWh consumed\n",
			de.Date, de.GenerationKWH, de.ConsumptionKWH)
	}

	// Two days of hourly telemetry for the smart plug, drawing more around
	// lunch and through the evening
	start := now.Add(-48 * time.Hour).Truncate(time.Hour)
	var energyWH float64
	for t := start; t.Before(now); t = t.Add(time.Hour) {
		hour := t.Hour()
		power := 40.0 + rng.Float64()*30.0
		switch {
		case hour >= 11 && hour <= 14:
			power += 350 + rng.Float64()*150
		case hour >= 18 && hour <= 22:
			power += 250 + rng.Float64()*200
		}
		voltage := 218 + rng.Float64()*6
		energyWH += power
		reading := types.PlugReading{
			ID:        uuid.NewString(),
			DeviceID:  plugDevice.ID,
			Timestamp: t,
			PowerW:    round2(power),
			VoltageV:  round2(voltage),
			CurrentA:  round3(power / voltage),
			EnergyWH:  math.Round(energyWH),
		}
		if err := s.InsertPlugReading(ctx, reading); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed plug reading", "error", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Seeded 48 hours of telemetry for %s\n", plugDevice.Name)

	log.Ctx(ctx).InfoContext(ctx, "seeded demo data successfully")
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
