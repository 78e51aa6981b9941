package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"schedd/pkg/logx"
)

func newTestService(t *testing.T, cfg Config, deps Deps) *Service {
	t.Helper()
	if deps.Loc == nil {
		deps.Loc = time.UTC
	}
	return New(cfg, deps, logx.Nop())
}

func doReq(t *testing.T, h http.Handler, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (body %q)", err, rr.Body.String())
	}
	return out
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true, APIKey: "sekrit"}, Deps{})
	h := s.router(s.cfg)

	rr := doReq(t, h, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no key: status %d, want 401", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env["status"] != "error" || env["message"] != "Unauthorized" {
		t.Fatalf("error envelope = %v", env)
	}

	rr = doReq(t, h, http.MethodGet, "/health", map[string]string{"X-API-Key": "wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: status %d, want 401", rr.Code)
	}

	rr = doReq(t, h, http.MethodGet, "/health", map[string]string{"X-API-Key": "sekrit"})
	if rr.Code != http.StatusOK {
		t.Fatalf("header key: status %d, want 200", rr.Code)
	}

	rr = doReq(t, h, http.MethodGet, "/health", map[string]string{"Authorization": "Bearer sekrit"})
	if rr.Code != http.StatusOK {
		t.Fatalf("bearer key: status %d, want 200", rr.Code)
	}
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true}, Deps{})
	h := s.router(s.cfg)

	if rr := doReq(t, h, http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200 with auth disabled", rr.Code)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	t.Parallel()
	// Preflight must pass before auth and rate limiting.
	s := newTestService(t, Config{Enabled: true, APIKey: "sekrit", RateLimit: 1, RateWindow: time.Hour}, Deps{})
	h := s.router(s.cfg)

	for i := 0; i < 3; i++ {
		rr := doReq(t, h, http.MethodOptions, "/events", map[string]string{"Origin": "https://example.com"})
		if rr.Code != http.StatusOK {
			t.Fatalf("preflight %d: status %d, want 200", i, rr.Code)
		}
		hd := rr.Header()
		if hd.Get("Access-Control-Allow-Origin") != "*" {
			t.Fatalf("Allow-Origin = %q", hd.Get("Access-Control-Allow-Origin"))
		}
		if hd.Get("Access-Control-Max-Age") != "86400" {
			t.Fatalf("Max-Age = %q", hd.Get("Access-Control-Max-Age"))
		}
		if hd.Get("Access-Control-Allow-Methods") == "" {
			t.Fatal("Allow-Methods missing")
		}
	}
}

func TestRateLimitPerClient(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true, RateLimit: 3, RateWindow: time.Minute}, Deps{})
	h := s.router(s.cfg)

	for i := 0; i < 3; i++ {
		if rr := doReq(t, h, http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status %d, want 200", i, rr.Code)
		}
	}
	rr := doReq(t, h, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("over budget: status %d, want 429", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env["status"] != "error" {
		t.Fatalf("429 envelope = %v", env)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.9:4711"
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("other client: status %d, want 200", rr.Code)
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	t.Parallel()
	s := newTestService(t, Config{Enabled: true}, Deps{})
	h := s.router(s.cfg)

	rr := doReq(t, h, http.MethodGet, "/no/such/route", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env["status"] != "error" {
		t.Fatalf("404 envelope = %v", env)
	}
}

func TestRecovererTurnsPanicInto500(t *testing.T) {
	t.Parallel()
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	h := recoverer(logx.Nop())(inner)

	rr := doReq(t, h, http.MethodGet, "/anything", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env["status"] != "error" {
		t.Fatalf("500 envelope = %v", env)
	}
}
