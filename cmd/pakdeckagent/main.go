package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kardianos/service"

	"pakdeck/internal/api"
	"pakdeck/internal/backend"
	"pakdeck/internal/config"
	"pakdeck/internal/events"
	"pakdeck/internal/i18n"
	"pakdeck/internal/logging"
	"pakdeck/internal/prefs"
	"pakdeck/internal/traymgr"
)

type program struct {
	srv       *http.Server
	store     prefs.Store
	logCloser io.Closer
	cancel    context.CancelFunc
}

func (p *program) Start(s service.Service) error {
	go p.run()
	return nil
}

func (p *program) run() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	_, logDir, stateDir := config.Paths()
	logger, closer, err := logging.Setup(filepath.Join(logDir, "agent.log"), cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		log.Printf("logging setup failed: %v", err)
		logger = logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	}
	p.logCloser = closer

	store, err := prefs.NewSQLiteStore(stateDir)
	if err != nil {
		logger.Warn("preference store unavailable, falling back to memory", map[string]any{"err": err.Error()})
		store = nil
	}
	var prefStore prefs.Store
	if store != nil {
		prefStore = store
	} else {
		prefStore = prefs.NewMemoryStore()
	}
	p.store = prefStore

	provider := i18n.NewProvider(i18n.DefaultMessages(), config.DefaultLanguage, prefStore)
	provider.OnPersistError(func(err error) {
		logger.Warn("locale preference write failed", map[string]any{"err": err.Error()})
	})
	// A saved preference wins over config; config seeds the first run.
	if _, ok := prefStore.Get(i18n.PrefKey); !ok && cfg.Language != "" {
		provider.SetLocale(cfg.Language)
	}

	pipeline := events.New(logger)
	log.SetOutput(pipeline.Writer("console"))
	log.SetFlags(0)

	client := backend.NewClient(cfg.BackendURL, backendToken(prefStore))
	go streamBackendEvents(ctx, client, pipeline, logger)

	workDir, _ := os.Getwd()
	tray := traymgr.New(workDir, os.Getenv("PAKDECK_TRAY_EXE"), logger)

	a := api.New(api.Deps{
		Config:   cfg,
		Provider: provider,
		Logger:   logger,
		Pipeline: pipeline,
		Backend:  client,
		Store:    prefStore,
		Tray:     tray,
		Shutdown: func() { cancel() },
	})
	addr := net.JoinHostPort("127.0.0.1", fmt.Sprintf("%d", cfg.Port))
	webDir := api.ResolveWebDir()
	p.srv = a.Serve(addr, webDir)

	go func() { _ = p.srv.ListenAndServe() }()
	logger.Info("api listening", map[string]any{"addr": addr, "web_dir": webDir, "language": provider.Locale()})

	if cfg.Autostart {
		if err := tray.Start(); err != nil {
			logger.Warn("tray helper did not start", map[string]any{"err": err.Error()})
		}
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}
	p.shutdown()
}

// backendToken prefers the protected token in the preference store; the
// environment seeds it on first run.
func backendToken(store prefs.Store) string {
	if tok, ok := prefs.GetSecret(store, "backend.token"); ok {
		return string(tok)
	}
	if env := os.Getenv("PAKDECK_BACKEND_TOKEN"); env != "" {
		_ = prefs.SetSecret(store, "backend.token", []byte(env))
		return env
	}
	return ""
}

// streamBackendEvents keeps the backend event stream alive, reconnecting
// with a fixed delay until ctx is cancelled.
func streamBackendEvents(ctx context.Context, client *backend.Client, pipeline *events.Pipeline, logger logging.Logger) {
	for {
		if err := client.StreamEvents(ctx, pipeline); err != nil && ctx.Err() == nil {
			logger.Debug("backend event stream closed", map[string]any{"err": err.Error()})
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
	}
}

func (p *program) shutdown() {
	if p.srv != nil {
		_ = p.srv.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
	if p.logCloser != nil {
		_ = p.logCloser.Close()
	}
}

func (p *program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.shutdown()
	return nil
}

func main() {
	svcCfg := &service.Config{
		Name:        "PakDeckAgent",
		DisplayName: "PakDeck Agent",
		Description: "PakDeck desktop agent with local API and web UI",
		Option: map[string]interface{}{
			"StartType": "automatic-delayed",
		},
	}
	prg := &program{}
	s, err := service.New(prg, svcCfg)
	if err != nil {
		log.Fatalf("service create: %v", err)
	}

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "install", "uninstall", "start", "stop", "restart":
			if err := service.Control(s, os.Args[1]); err != nil {
				log.Fatalf("service %s: %v", os.Args[1], err)
			}
			return
		}
	}

	if err := s.Run(); err != nil {
		log.Fatalf("service run: %v", err)
	}
}
