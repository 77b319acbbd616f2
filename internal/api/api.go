package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pakdeck/internal/backend"
	"pakdeck/internal/config"
	"pakdeck/internal/diag"
	"pakdeck/internal/events"
	"pakdeck/internal/i18n"
	"pakdeck/internal/logging"
	"pakdeck/internal/metrics"
	"pakdeck/internal/prefs"
	"pakdeck/internal/traymgr"
	"pakdeck/internal/updater"
	webfs "pakdeck/webui"

	"pakdeck/internal/api/mw"
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// API is the loopback HTTP surface the web UI and the tray helper talk to.
type API struct {
	cfg       *config.Config
	cfgMu     sync.Mutex
	provider  *i18n.Provider
	logger    logging.Logger
	pipeline  *events.Pipeline
	backend   *backend.Client
	store     prefs.Store
	tray      *traymgr.Manager
	csrfToken string
	shutdown  func()
	updClient httpDoer
}

type Deps struct {
	Config   *config.Config
	Provider *i18n.Provider
	Logger   logging.Logger
	Pipeline *events.Pipeline
	Backend  *backend.Client
	Store    prefs.Store
	Tray     *traymgr.Manager
	Shutdown func()
}

func New(d Deps) *API {
	return &API{
		cfg:       d.Config,
		provider:  d.Provider,
		logger:    d.Logger,
		pipeline:  d.Pipeline,
		backend:   d.Backend,
		store:     d.Store,
		tray:      d.Tray,
		csrfToken: randomToken(),
		shutdown:  d.Shutdown,
		updClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Serve builds the HTTP server. The caller starts it and owns shutdown.
func (a *API) Serve(addr string, webDir string) *http.Server {
	mux := http.NewServeMux()

	var handler http.Handler
	if webDir != "" {
		handler = http.FileServer(http.Dir(webDir))
	} else {
		handler = http.FileServer(http.FS(webfs.FS))
	}
	mux.Handle("/", http.StripPrefix("/", handler))

	mux.HandleFunc("/api/status", a.wrap(a.handleStatus))
	mux.HandleFunc("/api/settings", a.wrap(a.handleSettings))
	mux.HandleFunc("/api/i18n/messages", a.wrap(a.handleMessages))
	mux.HandleFunc("/api/i18n/locale", a.wrap(a.handleLocale))
	mux.HandleFunc("/api/backend/health", a.wrap(a.handleBackendHealth))
	mux.HandleFunc("/api/backend/system", a.wrap(a.handleBackendSystem))
	mux.HandleFunc("/api/backend/changelog", a.wrap(a.handleBackendChangelog))
	mux.HandleFunc("/api/providers", a.wrap(a.handleProviders))
	mux.HandleFunc("/api/providers/toggle", a.wrapPOST(a.handleProviderToggle))
	mux.HandleFunc("/api/crash", a.wrapPOST(a.handleCrash))
	mux.HandleFunc("/api/diag/run", a.wrapPOST(a.handleDiagRun))
	mux.HandleFunc("/api/update/check", a.wrapPOST(a.handleUpdateCheck))
	mux.HandleFunc("/api/update/apply", a.wrapPOST(a.handleUpdateApply))
	mux.HandleFunc("/api/logs/stream", a.handleLogsStream)
	mux.HandleFunc("/api/tray/start", a.wrapPOST(a.handleTrayStart))
	mux.HandleFunc("/api/tray/stop", a.wrapPOST(a.handleTrayStop))
	mux.HandleFunc("/api/tray/heartbeat", a.wrapPOST(a.handleTrayHeartbeat))
	mux.HandleFunc("/api/tray/offline", a.wrapPOST(a.handleTrayOffline))
	mux.HandleFunc("/api/exit", a.wrapPOST(a.handleExit))
	mux.Handle("/metrics", metrics.Handler())

	chain := mw.Chain(mw.RateLimit(50, 100, a.logger))
	return &http.Server{Addr: addr, Handler: a.csrfMiddleware(chain(mux))}
}

func (a *API) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{
			Name:     "pd_csrf",
			Value:    a.csrfToken,
			HttpOnly: true,
			Secure:   r.TLS != nil,
			Path:     "/",
			SameSite: http.SameSiteStrictMode,
		})

		if r.Method != http.MethodGet {
			// The tray helper has no cookie jar; its loopback calls pass
			// without a token.
			if trayPath(r.URL.Path) && isLoopback(r.RemoteAddr) {
				next.ServeHTTP(w, r)
				return
			}
			tok := r.Header.Get("X-CSRF-Token")
			if tok == "" {
				http.Error(w, "missing csrf token", http.StatusForbidden)
				return
			}
			if tok != a.csrfToken {
				http.Error(w, "invalid csrf token", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func trayPath(p string) bool {
	return p == "/api/exit" || strings.HasPrefix(p, "/api/tray/") || p == "/api/i18n/locale"
}

func isLoopback(remote string) bool {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (a *API) wrap(h func(http.ResponseWriter, *http.Request) (int, any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.IncRequests()
		code, payload := h(w, r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if payload != nil {
			_ = json.NewEncoder(w).Encode(payload)
		}
	}
}

func (a *API) wrapPOST(h func(http.ResponseWriter, *http.Request) (int, any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		a.wrap(h)(w, r)
	}
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) (int, any) {
	backendState := "unreachable"
	backendVersion := ""
	if a.backend != nil {
		if h, err := a.backend.Health(); err == nil {
			backendState = h.Status
			backendVersion = h.Version
		}
	}
	trayOnline := false
	var lastSeen time.Time
	if a.tray != nil {
		trayOnline, lastSeen = a.tray.Status(time.Now())
	}
	return 200, map[string]any{
		"language":        a.provider.Locale(),
		"server_language": a.provider.ServerLocale(),
		"backend_state":   backendState,
		"backend_version": backendVersion,
		"tray_state":      map[bool]string{true: "online", false: "offline"}[trayOnline],
		"tray_last_seen":  lastSeen,
		"csrf_token":      a.csrfToken,
	}
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) (int, any) {
	switch r.Method {
	case http.MethodGet:
		a.cfgMu.Lock()
		defer a.cfgMu.Unlock()
		return 200, map[string]any{
			"port":        a.cfg.Port,
			"log_level":   a.cfg.LogLevel,
			"log_format":  a.cfg.LogFormat,
			"language":    a.provider.Locale(),
			"autostart":   a.cfg.Autostart,
			"backend_url": a.cfg.BackendURL,
			"updater":     a.cfg.Updater,
		}
	case http.MethodPut:
		var in struct {
			LogLevel  string `json:"log_level"`
			LogFormat string `json:"log_format"`
			Language  string `json:"language"`
			Autostart *bool  `json:"autostart"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			return 400, map[string]string{"error": "bad_json"}
		}

		a.cfgMu.Lock()
		if in.LogLevel != "" {
			a.cfg.LogLevel = in.LogLevel
		}
		if in.LogFormat != "" {
			a.cfg.LogFormat = in.LogFormat
		}
		if in.Autostart != nil {
			a.cfg.Autostart = *in.Autostart
		}
		if in.Language != "" {
			a.cfg.Language = strings.ToLower(strings.TrimSpace(in.Language))
		}
		if err := config.Save(a.cfg); err != nil {
			a.cfgMu.Unlock()
			return 500, map[string]string{"error": "save_failed"}
		}
		lang := a.cfg.Language
		a.cfgMu.Unlock()

		if in.Language != "" {
			a.provider.SetLocale(lang)
			metrics.IncLocaleSwitches()
		}
		a.log("settings.update")
		return 200, map[string]string{"result": "ok"}
	default:
		return 405, map[string]string{"error": "method_not_allowed"}
	}
}

// handleMessages serves the message catalog. With ?locale= it returns that
// locale's tree, falling back to the default tree when the locale is absent;
// without it the full catalog.
func (a *API) handleMessages(w http.ResponseWriter, r *http.Request) (int, any) {
	if locale := r.URL.Query().Get("locale"); locale != "" {
		catalog := a.provider.Catalog()
		tree, ok := catalog[locale]
		if !ok {
			tree = a.provider.Messages()
		}
		return 200, map[string]any{"locale": locale, "messages": tree}
	}
	return 200, map[string]any{"catalog": a.provider.Catalog()}
}

func (a *API) handleLocale(w http.ResponseWriter, r *http.Request) (int, any) {
	switch r.Method {
	case http.MethodGet:
		return 200, map[string]any{
			"locale":        a.provider.Locale(),
			"server_locale": a.provider.ServerLocale(),
			"available":     a.provider.Catalog().Locales(),
		}
	case http.MethodPost:
		var in struct {
			Locale string `json:"locale"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			return 400, map[string]string{"error": "bad_json"}
		}
		in.Locale = strings.ToLower(strings.TrimSpace(in.Locale))
		if in.Locale == "" {
			return 400, map[string]string{"error": "missing_locale"}
		}
		a.provider.SetLocale(in.Locale)
		metrics.IncLocaleSwitches()
		a.cfgMu.Lock()
		a.cfg.Language = in.Locale
		err := config.Save(a.cfg)
		a.cfgMu.Unlock()
		if err != nil {
			return 500, map[string]string{"error": "save_failed"}
		}
		a.log("locale.set:" + in.Locale)
		return 200, map[string]any{"result": "ok", "locale": a.provider.Locale()}
	default:
		return 405, map[string]string{"error": "method_not_allowed"}
	}
}

func (a *API) handleBackendHealth(w http.ResponseWriter, r *http.Request) (int, any) {
	if a.backend == nil {
		return 502, map[string]string{"error": "backend_unconfigured"}
	}
	h, err := a.backend.Health()
	if err != nil {
		return 502, map[string]string{"error": err.Error()}
	}
	return 200, h
}

func (a *API) handleBackendSystem(w http.ResponseWriter, r *http.Request) (int, any) {
	if a.backend == nil {
		return 502, map[string]string{"error": "backend_unconfigured"}
	}
	si, err := a.backend.SystemInfo()
	if err != nil {
		return 502, map[string]string{"error": err.Error()}
	}
	return 200, si
}

func (a *API) handleBackendChangelog(w http.ResponseWriter, r *http.Request) (int, any) {
	if a.backend == nil {
		return 502, map[string]string{"error": "backend_unconfigured"}
	}
	notes, err := a.backend.Changelog(r.URL.Query().Get("version"))
	if err != nil {
		return 502, map[string]string{"error": err.Error()}
	}
	return 200, map[string]string{"notes": notes}
}

func (a *API) handleProviders(w http.ResponseWriter, r *http.Request) (int, any) {
	if a.backend == nil {
		return 502, map[string]string{"error": "backend_unconfigured"}
	}
	ps, err := a.backend.Providers()
	if err != nil {
		return 502, map[string]string{"error": err.Error()}
	}
	if ps == nil {
		ps = []backend.Provider{}
	}
	return 200, map[string]any{"providers": ps}
}

func (a *API) handleProviderToggle(w http.ResponseWriter, r *http.Request) (int, any) {
	if a.backend == nil {
		return 502, map[string]string{"error": "backend_unconfigured"}
	}
	var in struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return 400, map[string]string{"error": "bad_json"}
	}
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		return 400, map[string]string{"error": "missing_id"}
	}
	p, err := a.backend.SetProviderEnabled(in.ID, in.Enabled)
	if err != nil {
		return 502, map[string]string{"error": err.Error()}
	}
	a.log("provider.toggle:" + in.ID)
	return 200, map[string]any{"result": "ok", "provider": p}
}

// handleCrash takes a crash report from the UI renderer. Repeats of the same
// crash within a session are acknowledged but not re-surfaced.
func (a *API) handleCrash(w http.ResponseWriter, r *http.Request) (int, any) {
	var in struct {
		Source string `json:"source"`
		Report string `json:"report"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return 400, map[string]string{"error": "bad_json"}
	}
	if strings.TrimSpace(in.Report) == "" {
		return 400, map[string]string{"error": "missing_report"}
	}
	if in.Source == "" {
		in.Source = "renderer"
	}
	fresh := a.pipeline.ReportCrash(in.Source, in.Report)
	return 200, map[string]any{"result": "ok", "reported": fresh}
}

func (a *API) handleDiagRun(w http.ResponseWriter, r *http.Request) (int, any) {
	return 200, diag.Run(a.backend, a.store, a.provider.Catalog())
}

func (a *API) handleUpdateCheck(w http.ResponseWriter, r *http.Request) (int, any) {
	a.cfgMu.Lock()
	cfg := a.cfg
	a.cfgMu.Unlock()
	res, err := updater.CheckWithConfig(cfg, a.updClient)
	if err != nil {
		return 502, map[string]string{"error": err.Error()}
	}
	return 200, res
}

func (a *API) handleUpdateApply(w http.ResponseWriter, r *http.Request) (int, any) {
	a.cfgMu.Lock()
	cfg := a.cfg
	a.cfgMu.Unlock()
	if err := updater.ApplyWithConfig(cfg, a.updClient); err != nil {
		return 500, map[string]string{"error": err.Error()}
	}
	a.log("update.staged")
	return 200, map[string]string{"result": "ok"}
}

func (a *API) handleTrayStart(w http.ResponseWriter, r *http.Request) (int, any) {
	if a.tray == nil {
		return 500, map[string]string{"error": "tray_manager_unavailable"}
	}
	if err := a.tray.Start(); err != nil {
		if a.logger != nil {
			a.logger.Error("tray start failed", map[string]any{"err": err.Error()})
		}
		return 500, map[string]string{"error": "tray_start_failed"}
	}
	a.tray.RecordHeartbeat()
	return 200, map[string]string{"result": "ok"}
}

func (a *API) handleTrayStop(w http.ResponseWriter, r *http.Request) (int, any) {
	if a.tray == nil {
		return 500, map[string]string{"error": "tray_manager_unavailable"}
	}
	if err := a.tray.Stop(); err != nil {
		if a.logger != nil {
			a.logger.Error("tray stop failed", map[string]any{"err": err.Error()})
		}
		return 500, map[string]string{"error": "tray_stop_failed"}
	}
	return 200, map[string]string{"result": "ok"}
}

func (a *API) handleTrayHeartbeat(w http.ResponseWriter, r *http.Request) (int, any) {
	if a.tray != nil {
		a.tray.RecordHeartbeat()
	}
	return 200, map[string]string{"result": "ok"}
}

func (a *API) handleTrayOffline(w http.ResponseWriter, r *http.Request) (int, any) {
	if a.tray != nil {
		a.tray.SetOffline()
	}
	return 200, map[string]string{"result": "ok"}
}

func (a *API) handleExit(w http.ResponseWriter, r *http.Request) (int, any) {
	go func() {
		time.Sleep(100 * time.Millisecond)
		if a.shutdown != nil {
			a.shutdown()
		}
		time.Sleep(400 * time.Millisecond)
		os.Exit(0)
	}()
	return 200, map[string]string{"result": "exiting"}
}

// handleLogsStream is the SSE feed of the event pipeline. Each event is one
// JSON object per SSE data frame.
func (a *API) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := a.pipeline.Subscribe(64)
	defer cancel()

	fmt.Fprintf(w, "retry: 3000\n\n")
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", b)
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
	}
}

func (a *API) log(event string) {
	if a.pipeline != nil {
		a.pipeline.Publish("agent", event)
	}
}

// ResolveWebDir finds an on-disk web UI directory for development; an empty
// result means the embedded assets are served.
func ResolveWebDir() string {
	if v := os.Getenv("PAKDECK_WEB_DIR"); v != "" {
		if st, err := os.Stat(v); err == nil && st.IsDir() {
			return v
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(cwd, "webui")
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return candidate
		}
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "webui")
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return candidate
		}
	}
	return ""
}
