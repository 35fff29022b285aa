package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerStack(t *testing.T) {
	srv := newTestServer(nil, nil, nil)
	srv.serverName = "solarmind"
	handler := srv.setupHandler()

	t.Run("Healthz Is Open", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/healthz", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		resp := w.Result()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", w.Body.String())
		assert.Equal(t, "solarmind", resp.Header.Get("Server"))
	})

	t.Run("Security Headers On Every Response", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/healthz", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		resp := w.Result()
		assert.Contains(t, resp.Header.Get("Strict-Transport-Security"), "max-age=")
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
		assert.NotEmpty(t, resp.Header.Get("Referrer-Policy"))
	})

	t.Run("Unknown API Route", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/nope", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
	})

	t.Run("Metrics Endpoint", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/metrics", nil)
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		resp := w.Result()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, w.Body.String(), "solarmind_plug_readings_collected_total",
			"expected the process counters in the exposition")
	})
}
