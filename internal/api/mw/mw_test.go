package mw

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	})
}

func TestRateLimitEnforcesBurst(t *testing.T) {
	h := RateLimit(1, 2, nil)(okHandler())

	codes := []int{}
	for i := 0; i < 4; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/status", nil)
		req.RemoteAddr = "127.0.0.1:5000"
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
		if rr.Code == http.StatusTooManyRequests && rr.Header().Get("Retry-After") == "" {
			t.Fatalf("429 without Retry-After")
		}
	}
	if codes[0] != 200 || codes[1] != 200 {
		t.Fatalf("burst requests rejected: %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("over-burst request allowed: %v", codes)
	}
}

func TestRateLimitKeysByRemoteIP(t *testing.T) {
	h := RateLimit(1, 1, nil)(okHandler())

	first := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	h.ServeHTTP(first, req)

	other := httptest.NewRecorder()
	req2 := httptest.NewRequest("GET", "/", nil)
	req2.RemoteAddr = "10.0.0.2:5000"
	h.ServeHTTP(other, req2)

	if first.Code != 200 || other.Code != 200 {
		t.Fatalf("independent clients should not share a bucket: %d %d", first.Code, other.Code)
	}
}

func TestRateLimitSpawnsNoBackgroundGoroutines(t *testing.T) {
	before := runtime.NumGoroutine()
	for i := 0; i < 100; i++ {
		h := RateLimit(10, 10, nil)(okHandler())
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	}
	after := runtime.NumGoroutine()
	if after-before >= 100 {
		t.Fatalf("middleware construction leaked goroutines: %d -> %d", before, after)
	}
}
