package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/guivega7/Goodwe-Challenge/pkg/alerts"
	"github.com/guivega7/Goodwe-Challenge/pkg/storage/storagemock"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

func alertRequest(event string, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest("POST", "/api/alerts/"+event, nil)
	} else {
		r = httptest.NewRequest("POST", "/api/alerts/"+event, strings.NewReader(body))
	}
	r.SetPathValue("event", event)
	return r
}

func TestAlert(t *testing.T) {
	t.Run("Unknown Event", func(t *testing.T) {
		srv := newTestServer(&storagemock.MockDatabase{}, nil, nil)

		w := httptest.NewRecorder()
		srv.handleAlert(w, alertRequest("tsunami", ""))

		assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), "unknown alert event")
	})

	t.Run("Desligar Is Inbound Only", func(t *testing.T) {
		srv := newTestServer(&storagemock.MockDatabase{}, nil, nil)

		w := httptest.NewRecorder()
		srv.handleAlert(w, alertRequest(alerts.EventPowerOff, ""))

		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), "use /api/power-off")
	})

	t.Run("Missing Webhook Key", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)
		db.On("GetSettings", mock.Anything).Return(testSettings(t), types.CurrentSettingsVersion, nil)

		w := httptest.NewRecorder()
		srv.handleAlert(w, alertRequest(alerts.EventMaintenance, ""))

		assert.Equal(t, http.StatusPreconditionFailed, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), "ifttt webhook key not configured")
	})

	t.Run("Low Battery Below The Threshold Fires", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		sim := &fakeProvider{status: types.InverterStatus{BatterySOC: 15}}
		srv := newTestServer(db, nil, sim)
		fake := &fakeAlerts{}
		srv.newAlerts = func(types.IFTTTCredentials) (alertsAPI, error) { return fake, nil }
		mockSettingsWithCreds(t, db, srv, testSettings(t), types.Credentials{
			IFTTT: &types.IFTTTCredentials{Key: "whk"},
		})

		w := httptest.NewRecorder()
		srv.handleAlert(w, alertRequest(alerts.EventLowBattery, ""))

		require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())
		var res AlertRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.Equal(t, alerts.EventLowBattery, res.Event)
		assert.True(t, res.Triggered)
		assert.Contains(t, res.Message, "15%")
		assert.True(t, fake.fired(alerts.EventLowBattery))
	})

	t.Run("Low Battery Above The Threshold Does Not Fire", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		sim := &fakeProvider{status: types.InverterStatus{BatterySOC: 80}}
		srv := newTestServer(db, nil, sim)
		fake := &fakeAlerts{}
		srv.newAlerts = func(types.IFTTTCredentials) (alertsAPI, error) { return fake, nil }
		mockSettingsWithCreds(t, db, srv, testSettings(t), types.Credentials{
			IFTTT: &types.IFTTTCredentials{Key: "whk"},
		})

		w := httptest.NewRecorder()
		srv.handleAlert(w, alertRequest(alerts.EventLowBattery, ""))

		require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())
		var res AlertRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.False(t, res.Triggered)
		assert.Empty(t, res.Message)
		assert.Empty(t, fake.calls)
	})

	t.Run("High Energy Over The Limit Fires", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		sim := &fakeProvider{agg: types.Aggregate{EnergyTodayKWH: 40}}
		srv := newTestServer(db, nil, sim)
		fake := &fakeAlerts{}
		srv.newAlerts = func(types.IFTTTCredentials) (alertsAPI, error) { return fake, nil }
		mockSettingsWithCreds(t, db, srv, testSettings(t), types.Credentials{
			IFTTT: &types.IFTTTCredentials{Key: "whk"},
		})

		w := httptest.NewRecorder()
		srv.handleAlert(w, alertRequest(alerts.EventHighEnergy, ""))

		require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())
		var res AlertRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.True(t, res.Triggered, "40 kWh at factor 0.75 is 30, over the 20 limit")
		assert.Contains(t, res.Message, "30.0kWh")
		assert.True(t, fake.fired(alerts.EventHighEnergy))
	})

	t.Run("Inverter Fault Uses The Description", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)
		fake := &fakeAlerts{}
		srv.newAlerts = func(types.IFTTTCredentials) (alertsAPI, error) { return fake, nil }
		mockSettingsWithCreds(t, db, srv, testSettings(t), types.Credentials{
			IFTTT: &types.IFTTTCredentials{Key: "whk"},
		})

		w := httptest.NewRecorder()
		srv.handleAlert(w, alertRequest(alerts.EventInverterFault, `{"description":"sobretensão na rede"}`))

		require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())
		var res AlertRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.True(t, res.Triggered)
		require.Len(t, fake.calls, 1)
		assert.Equal(t, alerts.EventInverterFault, fake.calls[0].Event)
		assert.Contains(t, fake.calls[0].Message, "sobretensão na rede")
	})

	t.Run("Daily Summary Without History", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)
		fake := &fakeAlerts{}
		srv.newAlerts = func(types.IFTTTCredentials) (alertsAPI, error) { return fake, nil }
		mockSettingsWithCreds(t, db, srv, testSettings(t), types.Credentials{
			IFTTT: &types.IFTTTCredentials{Key: "whk"},
		})
		db.On("GetLatestEnergyDay", mock.Anything).Return(time.Time{}, 0, nil)

		w := httptest.NewRecorder()
		srv.handleAlert(w, alertRequest(alerts.EventDailySummary, ""))

		assert.Equal(t, http.StatusPreconditionFailed, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), "no energy history")
	})

	t.Run("Daily Summary Reports The Last Stored Day", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)
		fake := &fakeAlerts{}
		srv.newAlerts = func(types.IFTTTCredentials) (alertsAPI, error) { return fake, nil }
		mockSettingsWithCreds(t, db, srv, testSettings(t), types.Credentials{
			IFTTT: &types.IFTTTCredentials{Key: "whk"},
		})
		yesterday := truncateDay(time.Now().AddDate(0, 0, -1))
		db.On("GetLatestEnergyDay", mock.Anything).Return(yesterday, types.CurrentDayEnergyVersion, nil)
		db.On("GetEnergyHistory", mock.Anything, mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).
			Return([]types.DayEnergy{{
				Date:           yesterday.Format("2006-01-02"),
				GenerationKWH:  30,
				ConsumptionKWH: 22,
			}}, nil)

		w := httptest.NewRecorder()
		srv.handleAlert(w, alertRequest(alerts.EventDailySummary, ""))

		require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())
		var res AlertRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.True(t, res.Triggered)
		assert.Contains(t, res.Message, "Resumo Diário")

		require.Len(t, fake.reports, 1)
		assert.InDelta(t, 30.0, fake.reports[0].GenerationKWH, 0.001)
		assert.InDelta(t, 8.0, fake.reports[0].BalanceKWH, 0.001)
	})

	t.Run("Maintenance Always Fires", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)
		fake := &fakeAlerts{}
		srv.newAlerts = func(types.IFTTTCredentials) (alertsAPI, error) { return fake, nil }
		mockSettingsWithCreds(t, db, srv, testSettings(t), types.Credentials{
			IFTTT: &types.IFTTTCredentials{Key: "whk"},
		})

		w := httptest.NewRecorder()
		srv.handleAlert(w, alertRequest(alerts.EventMaintenance, ""))

		require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())
		var res AlertRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.True(t, res.Triggered)
		assert.Equal(t, alerts.MaintenanceMessage, res.Message)
	})

	t.Run("Delivery Failure Is A Bad Gateway", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)
		fake := &fakeAlerts{triggerErr: assert.AnError}
		srv.newAlerts = func(types.IFTTTCredentials) (alertsAPI, error) { return fake, nil }
		mockSettingsWithCreds(t, db, srv, testSettings(t), types.Credentials{
			IFTTT: &types.IFTTTCredentials{Key: "whk"},
		})

		w := httptest.NewRecorder()
		srv.handleAlert(w, alertRequest(alerts.EventMaintenance, ""))

		assert.Equal(t, http.StatusBadGateway, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), "failed to deliver alert")
	})
}

func TestPowerOff(t *testing.T) {
	devices := func() []types.Device {
		return []types.Device{
			{ID: "d-1", Name: "Ventilador", On: true, Source: types.DeviceSourceManual},
			{ID: "d-2", Name: "Geladeira", On: false, Source: types.DeviceSourceManual},
		}
	}

	t.Run("Turns The Device Off", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)
		db.On("ListDevices", mock.Anything).Return(devices(), nil)
		var updated types.Device
		db.On("UpdateDevice", mock.Anything, mock.AnythingOfType("types.Device")).
			Run(func(args mock.Arguments) { updated = args.Get(1).(types.Device) }).
			Return(nil)

		// the applet sends the spoken name, match is case-insensitive
		req := httptest.NewRequest("POST", "/api/power-off", strings.NewReader(`{"value1":"ventilador"}`))
		w := httptest.NewRecorder()
		srv.handlePowerOff(w, req)

		require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())
		var res PowerOffRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.Equal(t, "Ventilador", res.Device)
		assert.True(t, res.Changed)
		assert.False(t, updated.On)
		assert.False(t, updated.UpdatedAt.IsZero())
	})

	t.Run("Already Off Is A No-Op", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)
		db.On("ListDevices", mock.Anything).Return(devices(), nil)

		req := httptest.NewRequest("POST", "/api/power-off", strings.NewReader(`{"value1":"geladeira"}`))
		w := httptest.NewRecorder()
		srv.handlePowerOff(w, req)

		require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())
		var res PowerOffRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.False(t, res.Changed)
		db.AssertNotCalled(t, "UpdateDevice", mock.Anything, mock.Anything)
	})

	t.Run("Unknown Device", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)
		db.On("ListDevices", mock.Anything).Return(devices(), nil)

		req := httptest.NewRequest("POST", "/api/power-off", strings.NewReader(`{"value1":"micro-ondas"}`))
		w := httptest.NewRecorder()
		srv.handlePowerOff(w, req)

		assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), "device not found")
	})

	t.Run("Missing Name", func(t *testing.T) {
		srv := newTestServer(&storagemock.MockDatabase{}, nil, nil)

		req := httptest.NewRequest("POST", "/api/power-off", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		srv.handlePowerOff(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), "missing device name")
	})

	t.Run("Invalid Body", func(t *testing.T) {
		srv := newTestServer(&storagemock.MockDatabase{}, nil, nil)

		req := httptest.NewRequest("POST", "/api/power-off", strings.NewReader(`{nope`))
		w := httptest.NewRecorder()
		srv.handlePowerOff(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
	})

	t.Run("Pushes Synced Plugs To The Vendor", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)
		vendor := &fakeVendor{}
		srv.newVendor = func(types.TuyaCredentials) (vendorAPI, error) { return vendor, nil }
		mockSettingsWithCreds(t, db, srv, testSettings(t), types.Credentials{
			Tuya: &types.TuyaCredentials{AccessID: "id", Secret: "sec"},
		})
		db.On("ListDevices", mock.Anything).Return([]types.Device{{
			ID:           "d-3",
			Name:         "Tomada Inteligente",
			On:           true,
			Source:       types.DeviceSourceTuya,
			ExternalCode: "plug-9",
		}}, nil)
		db.On("UpdateDevice", mock.Anything, mock.AnythingOfType("types.Device")).Return(nil)

		req := httptest.NewRequest("POST", "/api/power-off", strings.NewReader(`{"name":"tomada inteligente"}`))
		w := httptest.NewRecorder()
		srv.handlePowerOff(w, req)

		require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())
		require.Len(t, vendor.switches, 1)
		assert.Equal(t, switchCall{ID: "plug-9", On: false}, vendor.switches[0])
	})
}
