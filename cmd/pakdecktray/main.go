package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/getlantern/systray"

	"pakdeck/internal/config"
	"pakdeck/internal/i18n"
	"pakdeck/internal/prefs"
)

var (
	statusItem   *systray.MenuItem
	panelItem    *systray.MenuItem
	packagesItem *systray.MenuItem
	updatesItem  *systray.MenuItem
	logsItem     *systray.MenuItem
	diagItem     *systray.MenuItem
	langENItem   *systray.MenuItem
	langZHItem   *systray.MenuItem
	langTRItem   *systray.MenuItem
	exitItem     *systray.MenuItem
	shutdownItem *systray.MenuItem

	provider *i18n.Provider
	agentURL string
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	agentURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)

	// The helper holds no durable state of its own; the agent owns the
	// preference. A memory store keeps the session's locale so SetLocale
	// actually moves the snapshot; the agent's view seeds it, config as
	// fallback.
	lang := fetchAgentLocale()
	if lang == "" {
		lang = cfg.Language
	}
	provider = i18n.NewProvider(i18n.DefaultMessages(), config.DefaultLanguage, prefs.NewMemoryStore())
	if lang != "" {
		provider.SetLocale(lang)
	}
	provider.Subscribe(applyTitles)

	systray.Run(onReady, onExit)
}

func onReady() {
	statusItem = systray.AddMenuItem("", "status")
	systray.AddSeparator()
	panelItem = systray.AddMenuItem("", "open panel")
	packagesItem = systray.AddMenuItem("", "packages")
	updatesItem = systray.AddMenuItem("", "check updates")
	logsItem = systray.AddMenuItem("", "open logs")
	diagItem = systray.AddMenuItem("", "diagnostics")
	systray.AddSeparator()
	langENItem = systray.AddMenuItem("", "english")
	langZHItem = systray.AddMenuItem("", "chinese")
	langTRItem = systray.AddMenuItem("", "turkish")
	systray.AddSeparator()
	exitItem = systray.AddMenuItem("", "exit")
	shutdownItem = systray.AddMenuItem("", "exit agent")

	applyTitles()

	_ = apiPost("/api/tray/heartbeat")
	go heartbeatLoop()

	go func() {
		for {
			select {
			case <-statusItem.ClickedCh:
				openURL(agentURL + "/")
			case <-panelItem.ClickedCh:
				openURL(agentURL + "/")
			case <-packagesItem.ClickedCh:
				openURL(agentURL + "/#providers")
			case <-updatesItem.ClickedCh:
				_ = apiPost("/api/update/check")
				openURL(agentURL + "/#updates")
			case <-logsItem.ClickedCh:
				_, logDir, _ := config.Paths()
				openPath(logDir)
			case <-diagItem.ClickedCh:
				_ = apiPost("/api/diag/run")
				openURL(agentURL + "/#logs")
			case <-langENItem.ClickedCh:
				changeLanguage("en")
			case <-langZHItem.ClickedCh:
				changeLanguage("zh")
			case <-langTRItem.ClickedCh:
				changeLanguage("tr")
			case <-exitItem.ClickedCh:
				systray.Quit()
				return
			case <-shutdownItem.ClickedCh:
				_ = apiPost("/api/exit")
				systray.Quit()
				return
			}
		}
	}()
}

func heartbeatLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		_ = apiPost("/api/tray/heartbeat")
	}
}

// changeLanguage pushes the new locale to the agent first, then switches the
// local provider. The subscriber re-renders every menu title before this
// function returns.
func changeLanguage(lang string) {
	if lang == provider.Locale() {
		return
	}
	if err := apiPostJSON("/api/i18n/locale", fmt.Sprintf(`{"locale":%q}`, lang)); err != nil {
		log.Printf("tray: change language: %v", err)
		return
	}
	provider.SetLocale(lang)
}

func applyTitles() {
	t := provider.View().T
	set := func(item *systray.MenuItem, key string) {
		if item != nil {
			item.SetTitle(t(key, nil))
		}
	}
	if statusItem != nil {
		statusItem.SetTitle(fmt.Sprintf("%s - %s", t("app.title", nil), t("status.running", nil)))
	}
	set(panelItem, "menu.open_panel")
	set(packagesItem, "menu.packages")
	set(updatesItem, "menu.check_updates")
	set(logsItem, "menu.open_logs")
	set(diagItem, "menu.diagnose")
	set(langENItem, "menu.language.english")
	set(langZHItem, "menu.language.chinese")
	set(langTRItem, "menu.language.turkish")
	set(exitItem, "menu.exit")
	set(shutdownItem, "menu.shutdown")
}

func onExit() {
	_ = apiPost("/api/tray/offline")
}

func fetchAgentLocale() string {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(agentURL + "/api/i18n/locale")
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	var payload struct {
		Locale string `json:"locale"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ""
	}
	return payload.Locale
}

func openURL(u string) {
	switch runtime.GOOS {
	case "windows":
		_ = exec.Command("rundll32", "url.dll,FileProtocolHandler", u).Start()
	case "darwin":
		_ = exec.Command("open", u).Start()
	default:
		_ = exec.Command("xdg-open", u).Start()
	}
}

func openPath(p string) {
	switch runtime.GOOS {
	case "windows":
		_ = exec.Command("explorer", p).Start()
	case "darwin":
		_ = exec.Command("open", p).Start()
	default:
		_ = exec.Command("xdg-open", p).Start()
	}
}

func apiPost(path string) error {
	return apiWithCSRF(http.MethodPost, path, "{}")
}

func apiPostJSON(path, body string) error {
	return apiWithCSRF(http.MethodPost, path, body)
}

func apiWithCSRF(method, path, body string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(agentURL + "/api/status")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var payload struct {
		Token string `json:"csrf_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}
	req, _ := http.NewRequest(method, agentURL+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if payload.Token != "" {
		req.Header.Set("X-CSRF-Token", payload.Token)
	}
	resp2, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp2.Body.Close()
	if resp2.StatusCode >= 300 {
		return fmt.Errorf("status: %s", resp2.Status)
	}
	return nil
}
