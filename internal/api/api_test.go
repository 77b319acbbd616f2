package api

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pakdeck/internal/backend"
	"pakdeck/internal/config"
	"pakdeck/internal/events"
	"pakdeck/internal/i18n"
	"pakdeck/internal/logging"
	"pakdeck/internal/prefs"
)

type env struct {
	api      *API
	srv      *httptest.Server
	provider *i18n.Provider
	pipeline *events.Pipeline
	csrf     string
}

func newEnv(t *testing.T, backendURL string) *env {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	store := prefs.NewMemoryStore()
	provider := i18n.NewProvider(i18n.DefaultMessages(), "en", store)
	pipeline := events.New(logging.New(io.Discard, "json", "trace"))
	var client *backend.Client
	if backendURL != "" {
		client = backend.NewClient(backendURL, "")
	}
	a := New(Deps{
		Config:   config.Default("en"),
		Provider: provider,
		Logger:   logging.New(io.Discard, "json", "info"),
		Pipeline: pipeline,
		Backend:  client,
		Store:    store,
	})
	srv := httptest.NewServer(a.Serve("127.0.0.1:0", "").Handler)
	t.Cleanup(srv.Close)

	e := &env{api: a, srv: srv, provider: provider, pipeline: pipeline}
	e.csrf = e.fetchCSRF(t)
	return e
}

func (e *env) fetchCSRF(t *testing.T) string {
	t.Helper()
	resp, err := http.Get(e.srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		CSRF string `json:"csrf_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return out.CSRF
}

func (e *env) do(t *testing.T, method, path, body string, withToken bool) (*http.Response, []byte) {
	t.Helper()
	req, _ := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if withToken {
		req.Header.Set("X-CSRF-Token", e.csrf)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func TestCSRFRequiredForMutations(t *testing.T) {
	e := newEnv(t, "")

	resp, _ := e.do(t, http.MethodPut, "/api/settings", `{"log_level":"debug"}`, false)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("PUT without token: %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodPut, "/api/settings", `{"log_level":"debug"}`, true)
	if resp.StatusCode != 200 {
		t.Fatalf("PUT with token: %d", resp.StatusCode)
	}
}

func TestSettingsLanguageSwitchesLocale(t *testing.T) {
	e := newEnv(t, "")

	var seen []string
	cancel := e.provider.Subscribe(func() {
		seen = append(seen, e.provider.Locale())
	})
	defer cancel()

	resp, body := e.do(t, http.MethodPut, "/api/settings", `{"language":"ZH"}`, true)
	if resp.StatusCode != 200 {
		t.Fatalf("PUT settings: %d %s", resp.StatusCode, body)
	}
	if e.provider.Locale() != "zh" {
		t.Fatalf("locale = %q", e.provider.Locale())
	}
	if len(seen) != 1 || seen[0] != "zh" {
		t.Fatalf("subscriber saw %v", seen)
	}
	if e.provider.T("common.unknown", nil) != "未知" {
		t.Fatalf("translation did not follow the switch")
	}
}

func TestLocaleEndpointSkipsCSRFOnLoopback(t *testing.T) {
	e := newEnv(t, "")

	// The tray helper posts without a token; loopback origin is enough.
	resp, body := e.do(t, http.MethodPost, "/api/i18n/locale", `{"locale":"tr"}`, false)
	if resp.StatusCode != 200 {
		t.Fatalf("POST locale: %d %s", resp.StatusCode, body)
	}
	if e.provider.Locale() != "tr" {
		t.Fatalf("locale = %q", e.provider.Locale())
	}

	resp, body = e.do(t, http.MethodGet, "/api/i18n/locale", "", false)
	if resp.StatusCode != 200 {
		t.Fatalf("GET locale: %d", resp.StatusCode)
	}
	var out struct {
		Locale    string   `json:"locale"`
		Server    string   `json:"server_locale"`
		Available []string `json:"available"`
	}
	_ = json.Unmarshal(body, &out)
	if out.Locale != "tr" || out.Server != "en" {
		t.Fatalf("unexpected locale payload: %+v", out)
	}
	if len(out.Available) != 3 {
		t.Fatalf("available locales: %v", out.Available)
	}
}

func TestMessagesEndpoint(t *testing.T) {
	e := newEnv(t, "")

	_, body := e.do(t, http.MethodGet, "/api/i18n/messages?locale=zh", "", false)
	var single struct {
		Locale   string         `json:"locale"`
		Messages map[string]any `json:"messages"`
	}
	_ = json.Unmarshal(body, &single)
	if single.Locale != "zh" || single.Messages["common"] == nil {
		t.Fatalf("zh tree: %+v", single)
	}

	// Unknown locale serves the default tree under the requested name.
	_, body = e.do(t, http.MethodGet, "/api/i18n/messages?locale=fr", "", false)
	_ = json.Unmarshal(body, &single)
	if single.Locale != "fr" || single.Messages["common"] == nil {
		t.Fatalf("fallback tree: %+v", single)
	}

	_, body = e.do(t, http.MethodGet, "/api/i18n/messages", "", false)
	var full struct {
		Catalog map[string]map[string]any `json:"catalog"`
	}
	_ = json.Unmarshal(body, &full)
	if len(full.Catalog) != 3 {
		t.Fatalf("catalog locales: %d", len(full.Catalog))
	}
}

func TestProviderEndpointsProxyBackend(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(backend.Health{Status: "ok", Version: "9.9"})
	})
	mux.HandleFunc("/api/v1/providers", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"providers": []backend.Provider{
			{ID: "winget", Name: "WinGet", Enabled: true},
		}})
	})
	mux.HandleFunc("/api/v1/providers/winget/toggle", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(backend.Provider{ID: "winget", Enabled: false})
	})
	bsrv := httptest.NewServer(mux)
	defer bsrv.Close()

	e := newEnv(t, bsrv.URL)

	resp, body := e.do(t, http.MethodGet, "/api/providers", "", false)
	if resp.StatusCode != 200 || !strings.Contains(string(body), "winget") {
		t.Fatalf("providers: %d %s", resp.StatusCode, body)
	}

	resp, body = e.do(t, http.MethodPost, "/api/providers/toggle", `{"id":"winget","enabled":false}`, true)
	if resp.StatusCode != 200 {
		t.Fatalf("toggle: %d %s", resp.StatusCode, body)
	}

	resp, body = e.do(t, http.MethodGet, "/api/backend/health", "", false)
	if resp.StatusCode != 200 || !strings.Contains(string(body), "9.9") {
		t.Fatalf("health: %d %s", resp.StatusCode, body)
	}
}

func TestBackendUnreachableSurfacedAs502(t *testing.T) {
	e := newEnv(t, "http://127.0.0.1:1")
	resp, _ := e.do(t, http.MethodGet, "/api/providers", "", false)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

func TestCrashReportDedup(t *testing.T) {
	e := newEnv(t, "")

	report := `{"source":"renderer","report":"panic: boom\nstack..."}`
	_, body := e.do(t, http.MethodPost, "/api/crash", report, true)
	var out struct {
		Reported bool `json:"reported"`
	}
	_ = json.Unmarshal(body, &out)
	if !out.Reported {
		t.Fatalf("first crash should be reported")
	}
	_, body = e.do(t, http.MethodPost, "/api/crash", report, true)
	_ = json.Unmarshal(body, &out)
	if out.Reported {
		t.Fatalf("duplicate crash should be suppressed")
	}
}

func TestDiagRun(t *testing.T) {
	e := newEnv(t, "")
	resp, body := e.do(t, http.MethodPost, "/api/diag/run", "", true)
	if resp.StatusCode != 200 {
		t.Fatalf("diag: %d", resp.StatusCode)
	}
	var out struct {
		PrefsOK bool     `json:"prefs_ok"`
		Locales []string `json:"locales"`
	}
	_ = json.Unmarshal(body, &out)
	if !out.PrefsOK || len(out.Locales) != 3 {
		t.Fatalf("diag payload: %s", body)
	}
}

type fakeDoer struct {
	fn func(req *http.Request) (*http.Response, error)
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) { return f.fn(req) }

func TestUpdateCheckUsesInjectedClient(t *testing.T) {
	e := newEnv(t, "")
	e.api.cfg.Updater = config.Updater{Enabled: true, Repo: "pakdeck/pakdeck"}
	e.api.updClient = &fakeDoer{fn: func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 200,
			Body:       io.NopCloser(strings.NewReader(`{"tag_name":"v1.2.3","assets":[]}`)),
		}, nil
	}}

	resp, body := e.do(t, http.MethodPost, "/api/update/check", "", true)
	if resp.StatusCode != 200 || !strings.Contains(string(body), "v1.2.3") {
		t.Fatalf("update check: %d %s", resp.StatusCode, body)
	}
}

func TestLogsStreamDeliversEvents(t *testing.T) {
	e := newEnv(t, "")

	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/api/logs/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()

	// Publish until the subscription inside the handler picks one up.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				e.pipeline.Publish("backend", "install finished")
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			var ev events.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("bad frame %q: %v", line, err)
			}
			if ev.Source != "backend" || ev.Message != "install finished" {
				t.Fatalf("unexpected event: %+v", ev)
			}
			return
		}
	}
	t.Fatalf("stream ended without data: %v", scanner.Err())
}

func TestRateLimitHeadersOnBurst(t *testing.T) {
	e := newEnv(t, "")
	limited := false
	for i := 0; i < 300; i++ {
		resp, _ := http.Get(e.srv.URL + "/api/status")
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			if resp.Header.Get("Retry-After") == "" {
				t.Fatalf("rate limited without Retry-After")
			}
			break
		}
	}
	if !limited {
		t.Skipf("burst did not trip the limiter on this host")
	}
}
