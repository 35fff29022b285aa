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

func TestForecasts(t *testing.T) {
	t.Run("Consumption Forecast Validates The Hour", func(t *testing.T) {
		srv := newTestServer(&storagemock.MockDatabase{}, nil, nil)

		for _, hour := range []string{"25", "-1", "abc"} {
			w := httptest.NewRecorder()
			srv.handleConsumptionForecast(w, httptest.NewRequest("GET", "/api/forecast/consumption?hour="+hour, nil))
			assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode, hour)
		}
	})

	t.Run("Consumption Forecast Uses The Requested Hour", func(t *testing.T) {
		srv := newTestServer(&storagemock.MockDatabase{}, nil, nil)

		req := httptest.NewRequest("GET", "/api/forecast/consumption?hour=12", nil)
		w := httptest.NewRecorder()
		srv.handleConsumptionForecast(w, req)

		require.Equal(t, http.StatusOK, w.Result().StatusCode)
		var res types.ConsumptionForecast
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.Equal(t, 12, res.Hour)
		assert.Greater(t, res.EstimatedKWH, 0.0)
		assert.NotEmpty(t, res.Level)
	})

	t.Run("Generation Forecast Defaults To Sunny", func(t *testing.T) {
		srv := newTestServer(&storagemock.MockDatabase{}, nil, nil)

		req := httptest.NewRequest("GET", "/api/forecast/generation", nil)
		w := httptest.NewRecorder()
		srv.handleGenerationForecast(w, req)

		require.Equal(t, http.StatusOK, w.Result().StatusCode)
		var res types.GenerationForecast
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.Equal(t, "ensolarado", res.Weather)
		assert.InDelta(t, 30.0, res.EstimatedKWH, 0.001)
		assert.InDelta(t, 100.0, res.Percent, 0.001)
		assert.Equal(t, "excellent", res.Category)
	})

	t.Run("Generation Forecast Scales By The Weather", func(t *testing.T) {
		srv := newTestServer(&storagemock.MockDatabase{}, nil, nil)

		req := httptest.NewRequest("GET", "/api/forecast/generation?weather=nublado", nil)
		w := httptest.NewRecorder()
		srv.handleGenerationForecast(w, req)

		require.Equal(t, http.StatusOK, w.Result().StatusCode)
		var res types.GenerationForecast
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.InDelta(t, 0.4, res.Factor, 0.001)
		assert.InDelta(t, 12.0, res.EstimatedKWH, 0.001)
		assert.Equal(t, "moderate", res.Category)
	})
}

func TestPatterns(t *testing.T) {
	t.Run("Learns The Hourly Model", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		vendor := &fakeVendor{}
		srv := plugTestServer(t, db, vendor)

		morning := time.Date(2025, 8, 24, 9, 0, 0, 0, time.UTC)
		evening := time.Date(2025, 8, 24, 20, 0, 0, 0, time.UTC)
		db.On("ListDevices", mock.Anything).Return([]types.Device{{ID: "d-1"}}, nil)
		db.On("GetPlugReadings", mock.Anything, "d-1", mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).
			Return([]types.PlugReading{
				{ID: "r-1", DeviceID: "d-1", Timestamp: morning, PowerW: 1000},
				{ID: "r-2", DeviceID: "d-1", Timestamp: morning.Add(time.Minute), PowerW: 1000},
				{ID: "r-3", DeviceID: "d-1", Timestamp: evening, PowerW: 2000},
			}, nil)

		req := httptest.NewRequest("GET", "/api/patterns", nil)
		w := httptest.NewRecorder()
		srv.handlePatterns(w, req)

		require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())
		var res PatternsRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.Equal(t, 3, res.Samples)
		assert.Equal(t, 20, res.PeakHour)
		assert.InDelta(t, 3.0, res.AvgDailyKWH, 0.001, "1 kWh at 9h plus 2 kWh at 20h")
		require.Len(t, res.Hours, 2)
		assert.Equal(t, 9, res.Hours[0].Hour)
		assert.InDelta(t, 1.0, res.Hours[0].AvgKWH, 0.001)
	})

	t.Run("Validates The Window", func(t *testing.T) {
		srv := newTestServer(&storagemock.MockDatabase{}, nil, nil)

		req := httptest.NewRequest("GET", "/api/patterns?window=banana", nil)
		w := httptest.NewRecorder()
		srv.handlePatterns(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), "invalid window")
	})

	t.Run("Requires Credentials", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)
		db.On("GetSettings", mock.Anything).Return(testSettings(t), types.CurrentSettingsVersion, nil)

		req := httptest.NewRequest("GET", "/api/patterns", nil)
		w := httptest.NewRecorder()
		srv.handlePatterns(w, req)

		assert.Equal(t, http.StatusPreconditionFailed, w.Result().StatusCode)
	})
}

func TestSuggestions(t *testing.T) {
	devices := []types.Device{
		{ID: "d-1", Name: "Ar Condicionado", On: true, ConsumptionKWH: 2.0, Priority: types.PriorityCritical},
		{ID: "d-2", Name: "TV", On: true, ConsumptionKWH: 1.0, Priority: types.PriorityLow},
	}

	t.Run("Inside The Peak Window Plans A Shed", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)

		settings := testSettings(t)
		settings.PeakStart = "00:00"
		settings.PeakEnd = "23:59"
		db.On("GetSettings", mock.Anything).Return(settings, types.CurrentSettingsVersion, nil)
		db.On("ListDevices", mock.Anything).Return(devices, nil)

		req := httptest.NewRequest("GET", "/api/suggestions", nil)
		w := httptest.NewRecorder()
		srv.handleSuggestions(w, req)

		require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())
		var res SuggestionsRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.True(t, res.InPeakWindow)
		require.NotNil(t, res.Plan)

		// 3 kWh on, target 2.1: shedding the TV is enough, the critical
		// air conditioner is never on the list
		assert.InDelta(t, 3.0, res.Plan.CurrentKWH, 0.001)
		assert.InDelta(t, 2.1, res.Plan.TargetKWH, 0.001)
		assert.True(t, res.Plan.Achieved)
		require.Len(t, res.Plan.Suggestions, 1)
		assert.Equal(t, "TV", res.Plan.Suggestions[0].Name)
	})

	t.Run("Outside The Peak Window There Is No Plan", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)

		// a window two hours in the future can never contain now
		settings := testSettings(t)
		settings.PeakStart = time.Now().Add(2 * time.Hour).Format("15:04")
		settings.PeakEnd = time.Now().Add(3 * time.Hour).Format("15:04")
		db.On("GetSettings", mock.Anything).Return(settings, types.CurrentSettingsVersion, nil)
		db.On("ListDevices", mock.Anything).Return(devices, nil)

		req := httptest.NewRequest("GET", "/api/suggestions", nil)
		w := httptest.NewRecorder()
		srv.handleSuggestions(w, req)

		require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())
		var res SuggestionsRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.False(t, res.InPeakWindow)
		assert.Nil(t, res.Plan)
		assert.Equal(t, settings.PeakStart, res.PeakStart)
	})
}

func TestSmartSave(t *testing.T) {
	devices := []types.Device{
		{ID: "d-1", Name: "Ar Condicionado", On: true, ConsumptionKWH: 2.0, Priority: types.PriorityCritical},
		{ID: "d-2", Name: "TV", On: true, ConsumptionKWH: 1.0, Priority: types.PriorityLow},
	}

	t.Run("Builds A Plan And Nudges Over The Webhook", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)
		fake := &fakeAlerts{}
		srv.newAlerts = func(types.IFTTTCredentials) (alertsAPI, error) { return fake, nil }
		mockSettingsWithCreds(t, db, srv, testSettings(t), types.Credentials{
			IFTTT: &types.IFTTTCredentials{Key: "whk"},
		})
		db.On("ListDevices", mock.Anything).Return(devices, nil)

		req := httptest.NewRequest("POST", "/api/smart-save", strings.NewReader(`{"limitKWH":1.5}`))
		w := httptest.NewRecorder()
		srv.handleSmartSave(w, req)

		require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())
		var res SmartSaveRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.InDelta(t, 3.0, res.Plan.CurrentKWH, 0.001)
		assert.InDelta(t, 1.5, res.Plan.TargetKWH, 0.001)
		assert.False(t, res.Plan.Achieved, "the critical load alone is over the limit")
		require.Len(t, res.Plan.Suggestions, 1)
		assert.True(t, res.AlertSent)
		assert.True(t, fake.fired(alerts.EventHighEnergy))
	})

	t.Run("Defaults To The Settings Limit", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)
		fake := &fakeAlerts{}
		srv.newAlerts = func(types.IFTTTCredentials) (alertsAPI, error) { return fake, nil }
		mockSettingsWithCreds(t, db, srv, testSettings(t), types.Credentials{
			IFTTT: &types.IFTTTCredentials{Key: "whk"},
		})
		db.On("ListDevices", mock.Anything).Return([]types.Device{
			{ID: "d-2", Name: "TV", On: true, ConsumptionKWH: 1.0, Priority: types.PriorityLow},
		}, nil)

		// an empty body is fine
		req := httptest.NewRequest("POST", "/api/smart-save", nil)
		w := httptest.NewRecorder()
		srv.handleSmartSave(w, req)

		require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())
		var res SmartSaveRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.InDelta(t, 20.0, res.Plan.TargetKWH, 0.001)
		assert.True(t, res.Plan.Achieved)
		assert.Empty(t, res.Plan.Suggestions)
		assert.False(t, res.AlertSent)
		assert.Empty(t, fake.calls)
	})

	t.Run("Without A Webhook Key The Plan Still Returns", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)
		db.On("GetSettings", mock.Anything).Return(testSettings(t), types.CurrentSettingsVersion, nil)
		db.On("ListDevices", mock.Anything).Return(devices, nil)

		req := httptest.NewRequest("POST", "/api/smart-save", strings.NewReader(`{"limitKWH":1.5}`))
		w := httptest.NewRecorder()
		srv.handleSmartSave(w, req)

		require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())
		var res SmartSaveRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.False(t, res.AlertSent)
		assert.InDelta(t, 3.0, res.Plan.CurrentKWH, 0.001)
	})
}
