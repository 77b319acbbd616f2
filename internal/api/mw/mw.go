package mw

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pakdeck/internal/logging"
)

// Chain composes middlewares from left to right.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// RateLimit applies token-bucket limiting per remote IP. The UI is a loopback
// client, so the limit mostly guards against runaway polling loops.
func RateLimit(rps, burst int, logger logging.Logger) func(http.Handler) http.Handler {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 40
	}
	type entry struct {
		lim  *rate.Limiter
		last time.Time
	}
	var (
		mu     sync.Mutex
		m      = map[string]*entry{}
		lastGC time.Time
	)
	// Pruning happens inline on request arrival; a background ticker would
	// outlive the handler with no stop path.
	gcLocked := func(now time.Time) {
		if now.Sub(lastGC) < time.Minute {
			return
		}
		lastGC = now
		cutoff := now.Add(-5 * time.Minute)
		for k, e := range m {
			if e.last.Before(cutoff) {
				delete(m, k)
			}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			now := time.Now()
			mu.Lock()
			gcLocked(now)
			e := m[host]
			if e == nil {
				e = &entry{lim: rate.NewLimiter(rate.Limit(rps), burst)}
				m[host] = e
			}
			e.last = now
			mu.Unlock()

			if !e.lim.Allow() {
				if logger != nil {
					logger.Warn("rate limited", map[string]any{"remote": host})
				}
				ra := time.Duration(float64(time.Second) / float64(rps))
				w.Header().Set("Retry-After", strconv.Itoa(int(ra.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"code":"rate_limited","message":"too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
