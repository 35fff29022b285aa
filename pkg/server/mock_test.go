package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/guivega7/Goodwe-Challenge/pkg/alerts"
	"github.com/guivega7/Goodwe-Challenge/pkg/inverter"
	"github.com/guivega7/Goodwe-Challenge/pkg/storage/storagemock"
	"github.com/guivega7/Goodwe-Challenge/pkg/tuya"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

// 32-byte key for AES-256
const testEncryptionKey = "01234567890123456789012345678901"

// fakeProvider is a hand-rolled inverter.Provider with canned answers.
type fakeProvider struct {
	applyErr error
	applied  []types.Settings

	authCreds   types.Credentials
	authChanged bool
	authErr     error

	status    types.InverterStatus
	statusErr error

	agg      types.Aggregate
	aggErr   error
	aggFn    func(types.DateRange) (types.Aggregate, error)
	aggCalls []types.DateRange

	series      types.IntradaySeries
	intradayErr error
}

func (f *fakeProvider) ApplySettings(_ context.Context, s types.Settings) error {
	f.applied = append(f.applied, s)
	return f.applyErr
}

func (f *fakeProvider) Authenticate(_ context.Context, creds types.Credentials) (types.Credentials, bool, error) {
	if f.authErr != nil {
		return types.Credentials{}, false, f.authErr
	}
	if f.authChanged {
		return f.authCreds, true, nil
	}
	return creds, false, nil
}

func (f *fakeProvider) Status(context.Context) (types.InverterStatus, error) {
	return f.status, f.statusErr
}

func (f *fakeProvider) Aggregate(_ context.Context, rng types.DateRange) (types.Aggregate, error) {
	f.aggCalls = append(f.aggCalls, rng)
	if f.aggFn != nil {
		return f.aggFn(rng)
	}
	return f.agg, f.aggErr
}

func (f *fakeProvider) Intraday(context.Context, time.Time) (types.IntradaySeries, error) {
	return f.series, f.intradayErr
}

type switchCall struct {
	ID string
	On bool
}

// fakeVendor is a hand-rolled plug vendor client recording switch and command
// calls.
type fakeVendor struct {
	list    tuya.DeviceList
	listErr error

	status    map[string]tuya.Device
	statusErr error

	primary string

	switches  []switchCall
	switchErr error

	commands []tuya.Command
	cmdErr   error
}

func (f *fakeVendor) DeviceStatus(_ context.Context, id string) (tuya.Device, error) {
	if f.statusErr != nil {
		return tuya.Device{}, f.statusErr
	}
	return f.status[id], nil
}

func (f *fakeVendor) ListDevices(context.Context) (tuya.DeviceList, error) {
	return f.list, f.listErr
}

func (f *fakeVendor) PrimaryDevice() string { return f.primary }

func (f *fakeVendor) SendCommand(_ context.Context, id string, commands ...tuya.Command) error {
	if f.cmdErr != nil {
		return f.cmdErr
	}
	f.commands = append(f.commands, commands...)
	return nil
}

func (f *fakeVendor) SetSwitch(_ context.Context, id string, on bool) error {
	if f.switchErr != nil {
		return f.switchErr
	}
	f.switches = append(f.switches, switchCall{ID: id, On: on})
	return nil
}

type alertCall struct {
	Event   string
	Message string
}

// fakeAlerts mirrors the webhook client's threshold decisions and records
// what fired.
type fakeAlerts struct {
	calls      []alertCall
	reports    []types.EnergyReport
	triggerErr error
}

func (f *fakeAlerts) Trigger(_ context.Context, event, message string) error {
	if f.triggerErr != nil {
		return f.triggerErr
	}
	f.calls = append(f.calls, alertCall{Event: event, Message: message})
	return nil
}

func (f *fakeAlerts) LowBattery(ctx context.Context, soc, threshold float64) (bool, error) {
	if soc >= threshold {
		return false, nil
	}
	if err := f.Trigger(ctx, alerts.EventLowBattery, alerts.LowBatteryMessage(soc)); err != nil {
		return false, err
	}
	return true, nil
}

func (f *fakeAlerts) HighEnergy(ctx context.Context, consumptionKWH, limitKWH float64) (bool, error) {
	if limitKWH <= 0 || consumptionKWH <= limitKWH {
		return false, nil
	}
	if err := f.Trigger(ctx, alerts.EventHighEnergy, alerts.HighEnergyMessage(consumptionKWH, limitKWH)); err != nil {
		return false, err
	}
	return true, nil
}

func (f *fakeAlerts) InverterFault(ctx context.Context, description string) error {
	return f.Trigger(ctx, alerts.EventInverterFault, alerts.FaultMessage(description))
}

func (f *fakeAlerts) DailySummary(ctx context.Context, report types.EnergyReport) error {
	f.reports = append(f.reports, report)
	return f.Trigger(ctx, alerts.EventDailySummary, alerts.DailySummaryMessage(report))
}

func (f *fakeAlerts) fired(event string) bool {
	for _, c := range f.calls {
		if c.Event == event {
			return true
		}
	}
	return false
}

// newTestServer wires a Server around the mock database and fake providers.
// Nil providers leave the slot to the map's default construction.
func newTestServer(db *storagemock.MockDatabase, sems, sim inverter.Provider) *Server {
	m := inverter.NewMap()
	if sems != nil {
		m.SetProvider(inverter.ProviderSEMS, sems)
	}
	if sim != nil {
		m.SetProvider(inverter.ProviderSimulated, sim)
	}
	return &Server{
		inverters:     m,
		storage:       db,
		encryptionKey: testEncryptionKey,
	}
}

// testSettings returns fully migrated defaults (simulated provider, tariff
// 0.85, consumption factor 0.75).
func testSettings(t *testing.T) types.Settings {
	s, _, err := types.MigrateSettings(types.Settings{}, 0)
	require.NoError(t, err)
	return s
}

// encryptTestCreds seals creds with the test server's key so the mock can
// hand them back as stored settings.
func encryptTestCreds(t *testing.T, srv *Server, creds types.Credentials) []byte {
	blob, err := srv.encryptCredentials(t.Context(), creds)
	require.NoError(t, err)
	return blob
}

// mockSettingsWithCreds encrypts creds into settings and registers the pair
// on the mock database.
func mockSettingsWithCreds(t *testing.T, db *storagemock.MockDatabase, srv *Server, settings types.Settings, creds types.Credentials) {
	settings.EncryptedCredentials = encryptTestCreds(t, srv, creds)
	db.On("GetSettings", mock.Anything).Return(settings, types.CurrentSettingsVersion, nil)
}
