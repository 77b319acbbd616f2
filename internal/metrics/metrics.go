package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	reqTotal    uint64
	eventTotal  uint64
	crashTotal  uint64
	localeSwaps uint64
)

// IncRequests counts one handled HTTP request.
func IncRequests() { atomic.AddUint64(&reqTotal, 1) }

// IncEvents counts one event published to the pipeline.
func IncEvents() { atomic.AddUint64(&eventTotal, 1) }

// IncCrashes counts one fresh crash report.
func IncCrashes() { atomic.AddUint64(&crashTotal, 1) }

// IncLocaleSwitches counts one locale change.
func IncLocaleSwitches() { atomic.AddUint64(&localeSwaps, 1) }

// Handler exposes the counters in Prometheus text format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		write := func(name, help string, v uint64) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
		}
		write("pakdeck_requests_total", "Total HTTP requests handled.", atomic.LoadUint64(&reqTotal))
		write("pakdeck_events_total", "Total events published to the pipeline.", atomic.LoadUint64(&eventTotal))
		write("pakdeck_crashes_total", "Total distinct crash reports this session.", atomic.LoadUint64(&crashTotal))
		write("pakdeck_locale_switches_total", "Total locale changes.", atomic.LoadUint64(&localeSwaps))
	})
}
