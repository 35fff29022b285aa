package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthMiddleware(t *testing.T) {
	// runRequest sends req through the middleware and reports whether the
	// inner handler ran.
	runRequest := func(srv *Server, req *http.Request) (*httptest.ResponseRecorder, bool) {
		called := false
		h := srv.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w, called
	}

	t.Run("Mutating Request Without Key Is Rejected", func(t *testing.T) {
		srv := &Server{apiKey: "secret"}
		req := httptest.NewRequest("POST", "/api/devices", nil)

		w, called := runRequest(srv, req)
		assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
		assert.False(t, called)
		assert.Contains(t, w.Body.String(), "missing or invalid api key")
	})

	t.Run("X-API-Key Header", func(t *testing.T) {
		srv := &Server{apiKey: "secret"}
		req := httptest.NewRequest("POST", "/api/devices", nil)
		req.Header.Set("X-API-Key", "secret")

		w, called := runRequest(srv, req)
		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		assert.True(t, called)
	})

	t.Run("Bearer Token", func(t *testing.T) {
		srv := &Server{apiKey: "secret"}
		req := httptest.NewRequest("POST", "/api/devices", nil)
		req.Header.Set("Authorization", "Bearer secret")

		w, called := runRequest(srv, req)
		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		assert.True(t, called)
	})

	t.Run("Key Query Parameter", func(t *testing.T) {
		// IFTTT webhooks cannot set headers
		srv := &Server{apiKey: "secret"}
		req := httptest.NewRequest("POST", "/api/power-off?key=secret", nil)

		w, called := runRequest(srv, req)
		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		assert.True(t, called)
	})

	t.Run("Wrong Key Is Rejected", func(t *testing.T) {
		srv := &Server{apiKey: "secret"}
		req := httptest.NewRequest("DELETE", "/api/devices/abc", nil)
		req.Header.Set("X-API-Key", "not-the-key")

		w, called := runRequest(srv, req)
		assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
		assert.False(t, called)
	})

	t.Run("Reads Stay Open", func(t *testing.T) {
		srv := &Server{apiKey: "secret"}
		req := httptest.NewRequest("GET", "/api/status", nil)

		w, called := runRequest(srv, req)
		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		assert.True(t, called)
	})

	t.Run("Empty Key Disables Authentication", func(t *testing.T) {
		srv := &Server{apiKey: ""}
		req := httptest.NewRequest("POST", "/api/devices", nil)

		w, called := runRequest(srv, req)
		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		assert.True(t, called)
	})

	t.Run("Update Key Works On Sync", func(t *testing.T) {
		srv := &Server{apiKey: "secret", updateKey: "cron-key"}
		req := httptest.NewRequest("POST", "/api/sync", nil)
		req.Header.Set("X-API-Key", "cron-key")

		w, called := runRequest(srv, req)
		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		assert.True(t, called)
	})

	t.Run("Update Key Works On Power-Off", func(t *testing.T) {
		srv := &Server{apiKey: "secret", updateKey: "cron-key"}
		req := httptest.NewRequest("POST", "/api/power-off?key=cron-key", nil)

		w, called := runRequest(srv, req)
		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		assert.True(t, called)
	})

	t.Run("Update Key Does Not Unlock Other Endpoints", func(t *testing.T) {
		srv := &Server{apiKey: "secret", updateKey: "cron-key"}
		req := httptest.NewRequest("PUT", "/api/settings", nil)
		req.Header.Set("X-API-Key", "cron-key")

		w, called := runRequest(srv, req)
		assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
		assert.False(t, called)
	})

	t.Run("Empty Update Key Is Never A Match", func(t *testing.T) {
		// A client sending no key must not match an unset update key.
		srv := &Server{apiKey: "secret", updateKey: ""}
		req := httptest.NewRequest("POST", "/api/sync", nil)

		w, called := runRequest(srv, req)
		assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
		assert.False(t, called)
	})
}

func TestRequestKey(t *testing.T) {
	t.Run("Header Takes Precedence", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/sync?key=from-query", nil)
		req.Header.Set("X-API-Key", "from-header")
		req.Header.Set("Authorization", "Bearer from-bearer")
		assert.Equal(t, "from-header", requestKey(req))
	})

	t.Run("Bearer Before Query", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/sync?key=from-query", nil)
		req.Header.Set("Authorization", "Bearer from-bearer")
		assert.Equal(t, "from-bearer", requestKey(req))
	})

	t.Run("Query Fallback", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/sync?key=from-query", nil)
		assert.Equal(t, "from-query", requestKey(req))
	})

	t.Run("Non-Bearer Authorization Is Ignored", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/sync", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		assert.Equal(t, "", requestKey(req))
	})
}
