package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// --- helpers ---

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok")) //nolint:errcheck
})

func callWithKey(t *testing.T, mw http.Handler, header, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	if key != "" {
		req.Header.Set(header, key)
	}
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_ModeNone_PassesThrough(t *testing.T) {
	mw := Middleware("none", "X-API-Key", "secret", okHandler)
	// No key in request, should still pass because mode != "apikey".
	rec := callWithKey(t, mw, "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}

func TestMiddleware_EmptyKey_PassesThrough(t *testing.T) {
	// key="" means auth is not configured, allow all.
	mw := Middleware("apikey", "X-API-Key", "", okHandler)
	rec := callWithKey(t, mw, "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}

func TestMiddleware_CorrectKey_Passes(t *testing.T) {
	mw := Middleware("apikey", "X-API-Key", "supersecret", okHandler)
	rec := callWithKey(t, mw, "X-API-Key", "supersecret")
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body: %q", rec.Body.String())
	}
}

func TestMiddleware_WrongKey_Unauthorized(t *testing.T) {
	mw := Middleware("apikey", "X-API-Key", "supersecret", okHandler)
	rec := callWithKey(t, mw, "X-API-Key", "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: %s", ct)
	}
}

func TestMiddleware_MissingHeader_Unauthorized(t *testing.T) {
	mw := Middleware("apikey", "X-API-Key", "supersecret", okHandler)
	rec := callWithKey(t, mw, "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", rec.Code)
	}
}

func TestMiddleware_CustomHeader(t *testing.T) {
	mw := Middleware("apikey", "X-Pulse-Token", "mytoken", okHandler)
	rec := callWithKey(t, mw, "X-Pulse-Token", "mytoken")
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d, want 200", rec.Code)
	}
}
