package diag

import (
	"time"

	"pakdeck/internal/backend"
	"pakdeck/internal/i18n"
	"pakdeck/internal/prefs"
)

// Result captures diagnostic outcomes. Failures are recorded as entries in
// Errors; Run itself never fails.
type Result struct {
	// Backend
	BackendOK      bool   `json:"backend_ok"`
	BackendVersion string `json:"backend_version,omitempty"`
	BackendRTTms   int    `json:"backend_rtt_ms"`
	// Preference store
	PrefsOK bool `json:"prefs_ok"`
	// Locale catalog
	Locales     []string       `json:"locales"`
	MessageKeys map[string]int `json:"message_keys"`
	// Meta
	Errors     []string `json:"errors"`
	DurationMs int      `json:"duration_ms"`
}

const probeKey = "diag.probe"

// Run probes the backend, the preference store, and the locale catalog.
func Run(client *backend.Client, store prefs.Store, catalog i18n.Messages) *Result {
	start := time.Now()
	res := &Result{Errors: []string{}, MessageKeys: map[string]int{}}

	if client != nil {
		t0 := time.Now()
		h, err := client.Health()
		if err == nil {
			res.BackendOK = h.Status == "ok"
			res.BackendVersion = h.Version
			res.BackendRTTms = int(time.Since(t0) / time.Millisecond)
			if !res.BackendOK {
				res.Errors = append(res.Errors, "backend: status "+h.Status)
			}
		} else {
			res.Errors = append(res.Errors, "backend: "+err.Error())
		}
	} else {
		res.Errors = append(res.Errors, "backend: no client configured")
	}

	res.PrefsOK = probePrefs(store, res)

	res.Locales = catalog.Locales()
	for _, locale := range res.Locales {
		res.MessageKeys[locale] = catalog.KeyCount(locale)
	}
	if len(res.Locales) == 0 {
		res.Errors = append(res.Errors, "i18n: catalog is empty")
	}

	res.DurationMs = int(time.Since(start) / time.Millisecond)
	return res
}

// probePrefs verifies the store with a write/read/delete round trip.
func probePrefs(store prefs.Store, res *Result) bool {
	if store == nil {
		res.Errors = append(res.Errors, "prefs: no store configured")
		return false
	}
	stamp := time.Now().Format(time.RFC3339Nano)
	if err := store.Set(probeKey, stamp); err != nil {
		res.Errors = append(res.Errors, "prefs: write: "+err.Error())
		return false
	}
	v, ok := store.Get(probeKey)
	if !ok || v != stamp {
		res.Errors = append(res.Errors, "prefs: read-back mismatch")
		return false
	}
	_ = store.Delete(probeKey)
	return true
}
