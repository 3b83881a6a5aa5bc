package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitRejectsWithStructuredError(t *testing.T) {
	cfg := RateLimitConfig{Requests: 2, Window: time.Hour, Burst: 2}
	handler := RateLimit(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		resp := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/styles", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("request %d unexpectedly limited: %d", i, resp.Code)
		}
	}

	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/styles", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("rejection body is not JSON: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("rejection body missing error field")
	}
}

func TestRateLimitSharesBucketAcrossPorts(t *testing.T) {
	cfg := RateLimitConfig{Requests: 2, Window: time.Hour, Burst: 2}
	handler := RateLimit(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Reconnecting clients show up with a fresh ephemeral port; the
	// budget belongs to the source IP, not the connection.
	limited := 0
	for port := 40000; port < 40050; port++ {
		resp := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/styles", nil)
		req.RemoteAddr = fmt.Sprintf("10.0.0.1:%d", port)
		handler.ServeHTTP(resp, req)
		if resp.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 48 {
		t.Fatalf("expected 48 of 50 requests limited with budget 2, got %d", limited)
	}
}

func TestRateLimitForwardedAddressWithoutPort(t *testing.T) {
	cfg := RateLimitConfig{Requests: 1, Window: time.Hour, Burst: 1}
	handler := RateLimit(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// RealIP substitutes a bare IP with no port.
	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		resp := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.7"
		handler.ServeHTTP(resp, req)
		if resp.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, resp.Code)
		}
	}
}

func TestRateLimitIsPerAddress(t *testing.T) {
	cfg := RateLimitConfig{Requests: 1, Window: time.Hour, Burst: 1}
	handler := RateLimit(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	first.RemoteAddr = "10.0.0.1:1"
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, first)
	if resp.Code != http.StatusOK {
		t.Fatalf("first address limited too early: %d", resp.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/", nil)
	second.RemoteAddr = "10.0.0.2:1"
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, second)
	if resp.Code != http.StatusOK {
		t.Fatalf("other address shares the bucket: %d", resp.Code)
	}
}
