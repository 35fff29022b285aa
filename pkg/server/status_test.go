package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/guivega7/Goodwe-Challenge/pkg/inverter"
	"github.com/guivega7/Goodwe-Challenge/pkg/storage/storagemock"
	"github.com/guivega7/Goodwe-Challenge/pkg/types"
)

func TestStatus(t *testing.T) {
	t.Run("Reports The Configured Provider", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		sems := &fakeProvider{status: types.InverterStatus{
			Serial:     "5010KETU229W6177",
			Online:     true,
			ACPowerW:   1500,
			BatterySOC: 80,
			State:      types.InverterStateOperating,
			Provenance: types.ProvenanceLive,
		}}
		srv := newTestServer(db, sems, nil)

		settings := testSettings(t)
		settings.Inverter = inverter.ProviderSEMS
		db.On("GetSettings", mock.Anything).Return(settings, types.CurrentSettingsVersion, nil)

		req := httptest.NewRequest("GET", "/api/status", nil)
		w := httptest.NewRecorder()
		srv.handleStatus(w, req)

		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		var res types.InverterStatus
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.Equal(t, "5010KETU229W6177", res.Serial)
		assert.Equal(t, types.ProvenanceLive, res.Provenance)
	})

	t.Run("Falls Back To The Simulator", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		sems := &fakeProvider{statusErr: assert.AnError}
		sim := &fakeProvider{status: types.InverterStatus{
			Serial:     "SIM",
			Online:     true,
			BatterySOC: 62,
			Provenance: types.ProvenanceSimulated,
		}}
		srv := newTestServer(db, sems, sim)

		settings := testSettings(t)
		settings.Inverter = inverter.ProviderSEMS
		db.On("GetSettings", mock.Anything).Return(settings, types.CurrentSettingsVersion, nil)

		req := httptest.NewRequest("GET", "/api/status", nil)
		w := httptest.NewRecorder()
		srv.handleStatus(w, req)

		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		var res types.InverterStatus
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.Equal(t, types.ProvenanceSimulated, res.Provenance)
	})

	t.Run("Fails When The Simulator Is Already The Provider", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		sim := &fakeProvider{statusErr: assert.AnError}
		srv := newTestServer(db, nil, sim)

		db.On("GetSettings", mock.Anything).Return(testSettings(t), types.CurrentSettingsVersion, nil)

		req := httptest.NewRequest("GET", "/api/status", nil)
		w := httptest.NewRecorder()
		srv.handleStatus(w, req)

		assert.Equal(t, http.StatusBadGateway, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), "inverter unavailable")
	})
}

func TestData(t *testing.T) {
	t.Run("Aggregates The Dashboard Totals", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		sems := &fakeProvider{agg: types.Aggregate{
			EnergyTodayKWH:     10,
			ACPowerW:           1234.56,
			BatterySOC:         55.25,
			BatteryCapacityKWH: 10,
			BatteryState:       types.BatteryStateCharging,
			History: []types.DayAggregate{
				{Date: "2025-08-24", GenerationKWH: 10},
				{Date: "2025-08-25", GenerationKWH: 20},
			},
			GeneratedAt: time.Now(),
			Provenance:  types.ProvenanceLive,
		}}
		srv := newTestServer(db, sems, nil)

		settings := testSettings(t)
		settings.Inverter = inverter.ProviderSEMS
		db.On("GetSettings", mock.Anything).Return(settings, types.CurrentSettingsVersion, nil)

		req := httptest.NewRequest("GET", "/api/data", nil)
		w := httptest.NewRecorder()
		srv.handleData(w, req)

		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		var res DataRes
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))

		assert.InDelta(t, 10.0, res.Production.Today, 0.001)
		assert.InDelta(t, 30.0, res.Production.Month, 0.001, "month is the fetched window")
		assert.InDelta(t, 360.0, res.Production.Year, 0.001, "year extrapolates the month")

		// estimated from generation via the consumption factor
		assert.InDelta(t, 7.5, res.Consumption.Today, 0.001)
		assert.InDelta(t, 22.5, res.Consumption.Month, 0.001)

		// generation at the tariff
		assert.InDelta(t, 8.5, res.Savings.Today, 0.001)
		assert.InDelta(t, 25.5, res.Savings.Month, 0.001)

		assert.InDelta(t, 55.3, res.Battery.SOC, 0.001)
		assert.InDelta(t, 1234.6, res.Battery.PowerW, 0.001)
		assert.Equal(t, types.BatteryStateCharging, res.Battery.State)
		assert.Equal(t, types.ProvenanceLive, res.Provenance)

		// the window is the last 30 days
		require.Len(t, sems.aggCalls, 1)
		rng := sems.aggCalls[0]
		assert.Equal(t, 30, len(rng.Days()))
	})

	t.Run("Inverter Failure Without A Simulator Result Is A Bad Gateway", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		sim := &fakeProvider{aggErr: assert.AnError}
		srv := newTestServer(db, nil, sim)

		db.On("GetSettings", mock.Anything).Return(testSettings(t), types.CurrentSettingsVersion, nil)

		req := httptest.NewRequest("GET", "/api/data", nil)
		w := httptest.NewRecorder()
		srv.handleData(w, req)

		assert.Equal(t, http.StatusBadGateway, w.Result().StatusCode)
	})
}

func TestStats(t *testing.T) {
	t.Run("Summarizes Stored History", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)

		db.On("GetSettings", mock.Anything).Return(testSettings(t), types.CurrentSettingsVersion, nil)
		db.On("GetEnergyHistory", mock.Anything, mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).
			Return([]types.DayEnergy{
				{Date: "2025-08-24", GenerationKWH: 20, ConsumptionKWH: 15},
				{Date: "2025-08-25", GenerationKWH: 30, ConsumptionKWH: 20},
			}, nil)

		req := httptest.NewRequest("GET", "/api/stats", nil)
		w := httptest.NewRecorder()
		srv.handleStats(w, req)

		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		var res types.StatsSummary
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.Equal(t, 2, res.Days)
		assert.InDelta(t, 50.0, res.GenerationKWH, 0.001)
		assert.Equal(t, "2025-08-25", res.BestDay)
	})

	t.Run("Storage Failure", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil, nil)

		db.On("GetSettings", mock.Anything).Return(testSettings(t), types.CurrentSettingsVersion, nil)
		db.On("GetEnergyHistory", mock.Anything, mock.AnythingOfType("time.Time"), mock.AnythingOfType("time.Time")).
			Return([]types.DayEnergy(nil), assert.AnError)

		req := httptest.NewRequest("GET", "/api/stats", nil)
		w := httptest.NewRecorder()
		srv.handleStats(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Result().StatusCode)
	})
}
