package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// dayDocLayout is the document ID format for per-day records. Civil dates sort
// lexicographically, which keeps range queries on document IDs cheap.
const dayDocLayout = "2006-01-02"

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Payloads are stored as JSON strings for portability, with the
// fields needed for lookups duplicated at the top level of each document.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// GetSettings retrieves the dynamic configuration from the "config/settings"
// document.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	doc, err := f.client.Collection("config").Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "settings doc missing json")
		return types.Settings{}, 0, fmt.Errorf("settings document missing 'json' field: %w", err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "settings doc json not string")
		return types.Settings{}, 0, fmt.Errorf("settings 'json' field is not a string")
	}

	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal settings json", slog.Any("err", err))
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the dynamic configuration to the "config/settings"
// document. It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	_, err = f.client.Collection("config").Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// findDeviceIDByName returns the document ID of the device carrying the given
// name, or "" when the name is free.
func (f *FirestoreProvider) findDeviceIDByName(ctx context.Context, name string) (string, error) {
	iter := f.client.Collection("devices").
		Where("name", "==", name).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query device by name: %w", err)
	}
	return doc.Ref.ID, nil
}

// CreateDevice adds a new device document. Names are enforced unique so the
// dashboard never shows two rows for the same appliance.
func (f *FirestoreProvider) CreateDevice(ctx context.Context, device types.Device) error {
	existingID, err := f.findDeviceIDByName(ctx, device.Name)
	if err != nil {
		return err
	}
	if existingID != "" {
		return fmt.Errorf("%w: %s", ErrDeviceExists, device.Name)
	}

	jsonBytes, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("failed to marshal device: %w", err)
	}
	_, err = f.client.Collection("devices").Doc(device.ID).Create(ctx, map[string]interface{}{
		"json": string(jsonBytes),
		"name": device.Name,
	})
	if err != nil {
		return fmt.Errorf("failed to create device %s: %w", device.ID, err)
	}
	return nil
}

// UpdateDevice replaces an existing device document.
func (f *FirestoreProvider) UpdateDevice(ctx context.Context, device types.Device) error {
	existingID, err := f.findDeviceIDByName(ctx, device.Name)
	if err != nil {
		return err
	}
	if existingID != "" && existingID != device.ID {
		return fmt.Errorf("%w: %s", ErrDeviceExists, device.Name)
	}

	jsonBytes, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("failed to marshal device: %w", err)
	}
	_, err = f.client.Collection("devices").Doc(device.ID).Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
		"name": device.Name,
	})
	if err != nil {
		return fmt.Errorf("failed to update device %s: %w", device.ID, err)
	}
	return nil
}

// GetDevice retrieves a single device document.
func (f *FirestoreProvider) GetDevice(ctx context.Context, id string) (types.Device, error) {
	doc, err := f.client.Collection("devices").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}
		return types.Device{}, fmt.Errorf("failed to get device %s: %w", id, err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "device doc missing json", slog.String("deviceID", id))
		return types.Device{}, fmt.Errorf("device %s missing json: %w", id, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "device doc json not string", slog.String("deviceID", id))
		return types.Device{}, fmt.Errorf("device %s json not string", id)
	}

	var d types.Device
	if err := json.Unmarshal([]byte(jsonStr), &d); err != nil {
		return types.Device{}, fmt.Errorf("failed to unmarshal device %s: %w", id, err)
	}
	return d, nil
}

// DeleteDevice removes a device document and reports whether it existed.
func (f *FirestoreProvider) DeleteDevice(ctx context.Context, id string) error {
	ref := f.client.Collection("devices").Doc(id)
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}
		return fmt.Errorf("failed to get device %s: %w", id, err)
	}
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete device %s: %w", id, err)
	}
	return nil
}

// ListDevices retrieves all device documents.
func (f *FirestoreProvider) ListDevices(ctx context.Context) ([]types.Device, error) {
	iter := f.client.Collection("devices").Documents(ctx)
	defer iter.Stop()

	var devices []types.Device
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating devices: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "device doc missing json", slog.String("deviceID", doc.Ref.ID))
			// Skip malformed documents
			continue
		}
		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "device doc json not string", slog.String("deviceID", doc.Ref.ID))
			continue
		}

		var d types.Device
		if err := json.Unmarshal([]byte(jsonStr), &d); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal device", slog.String("deviceID", doc.Ref.ID), slog.Any("err", err))
			// Skip malformed JSON
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func (f *FirestoreProvider) readingsCollection(deviceID string) (*firestore.CollectionRef, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("deviceID cannot be empty")
	}
	return f.client.Collection("devices").Doc(deviceID).Collection("readings"), nil
}

// InsertPlugReading adds a telemetry sample to the device's "readings"
// sub-collection. The document ID is the RFC3339 timestamp so re-collecting
// the same minute overwrites instead of duplicating.
func (f *FirestoreProvider) InsertPlugReading(ctx context.Context, reading types.PlugReading) error {
	jsonBytes, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal plug reading: %w", err)
	}

	coll, err := f.readingsCollection(reading.DeviceID)
	if err != nil {
		return err
	}
	docID := reading.Timestamp.UTC().Format(time.RFC3339)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": reading.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert plug reading: %w", err)
	}
	return nil
}

// GetPlugReadings retrieves telemetry within [start, end) for one device.
// Uses document ID range queries for efficient filtering.
func (f *FirestoreProvider) GetPlugReadings(ctx context.Context, deviceID string, start, end time.Time) ([]types.PlugReading, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.readingsCollection(deviceID)
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var readings []types.PlugReading
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating plug readings: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "plug reading doc missing json", slog.String("docID", doc.Ref.ID), slog.String("deviceID", deviceID))
			return nil, fmt.Errorf("plug reading doc %s missing 'json' field: %w", doc.Ref.ID, err)
		}

		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "plug reading doc json not string", slog.String("docID", doc.Ref.ID), slog.String("deviceID", deviceID))
			return nil, fmt.Errorf("plug reading doc %s 'json' field is not string", doc.Ref.ID)
		}

		var r types.PlugReading
		if err := json.Unmarshal([]byte(jsonStr), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plug reading (id=%s): %w", doc.Ref.ID, err)
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// GetLatestPlugReading retrieves the most recent telemetry sample for a
// device, or nil when none was recorded yet.
func (f *FirestoreProvider) GetLatestPlugReading(ctx context.Context, deviceID string) (*types.PlugReading, error) {
	coll, err := f.readingsCollection(deviceID)
	if err != nil {
		return nil, err
	}

	// firestore automatically creates indexes for top-level fields
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest plug reading: %w", err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		return nil, fmt.Errorf("plug reading doc %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return nil, fmt.Errorf("plug reading doc %s 'json' field is not string", doc.Ref.ID)
	}

	var r types.PlugReading
	if err := json.Unmarshal([]byte(jsonStr), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plug reading (id=%s): %w", doc.Ref.ID, err)
	}
	return &r, nil
}

// UpsertDayEnergy adds or updates one day of inverter history in the
// "energy_history" collection. The document ID is the civil date.
func (f *FirestoreProvider) UpsertDayEnergy(ctx context.Context, day types.DayEnergy, version int) error {
	ts, err := day.Day()
	if err != nil {
		return fmt.Errorf("day energy has invalid date %q: %w", day.Date, err)
	}
	jsonBytes, err := json.Marshal(day)
	if err != nil {
		return fmt.Errorf("failed to marshal day energy: %w", err)
	}

	_, err = f.client.Collection("energy_history").Doc(day.Date).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": ts,
		"version":   version,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert day energy: %w", err)
	}
	return nil
}

// GetEnergyHistory retrieves per-day records within [start, end).
func (f *FirestoreProvider) GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.DayEnergy, error) {
	startDocID := start.UTC().Format(dayDocLayout)
	endDocID := end.UTC().Format(dayDocLayout)

	coll := f.client.Collection("energy_history")
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var days []types.DayEnergy
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating energy history: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "day energy doc missing json", slog.String("docID", doc.Ref.ID))
			return nil, fmt.Errorf("day energy doc %s missing 'json' field: %w", doc.Ref.ID, err)
		}

		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "day energy doc json not string", slog.String("docID", doc.Ref.ID))
			return nil, fmt.Errorf("day energy doc %s 'json' field is not string", doc.Ref.ID)
		}

		var d types.DayEnergy
		if err := json.Unmarshal([]byte(jsonStr), &d); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal day energy", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal day energy (id=%s): %w", doc.Ref.ID, err)
		}
		days = append(days, d)
	}
	return days, nil
}

// GetLatestEnergyDay retrieves the date of the last stored day along with the
// record version it was written at.
func (f *FirestoreProvider) GetLatestEnergyDay(ctx context.Context) (time.Time, int, error) {
	iter := f.client.Collection("energy_history").
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return time.Time{}, 0, nil
	}
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("failed to get latest day energy doc: %w", err)
	}

	ts, err := time.Parse(dayDocLayout, doc.Ref.ID)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid day energy doc id %s: %w", doc.Ref.ID, err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	return ts, version, nil
}

// GetSimState retrieves the simulator state from the "config/sim_state"
// document. A missing document is a fresh state, not an error.
func (f *FirestoreProvider) GetSimState(ctx context.Context) (types.SimState, error) {
	doc, err := f.client.Collection("config").Doc("sim_state").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.SimState{}, nil
		}
		return types.SimState{}, fmt.Errorf("failed to fetch sim state doc: %w", err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		return types.SimState{}, fmt.Errorf("sim state document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return types.SimState{}, fmt.Errorf("sim state 'json' field is not a string")
	}

	var s types.SimState
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		return types.SimState{}, fmt.Errorf("failed to unmarshal sim state json: %w", err)
	}
	return s, nil
}

// SetSimState saves the simulator state to the "config/sim_state" document.
func (f *FirestoreProvider) SetSimState(ctx context.Context, state types.SimState) error {
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal sim state: %w", err)
	}
	_, err = f.client.Collection("config").Doc("sim_state").Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to save sim state: %w", err)
	}
	return nil
}
