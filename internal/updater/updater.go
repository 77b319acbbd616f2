package updater

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"pakdeck/internal/config"
)

// Result describes the outcome of an update check.
type Result struct {
	Available bool   `json:"available"`
	Version   string `json:"version"`
	URL       string `json:"url,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Check queries the configured GitHub repo for the latest release using the
// config on disk.
func Check() (*Result, error) {
	cfg, _ := config.Load()
	return CheckWithConfig(cfg, &http.Client{Timeout: 10 * time.Second})
}

// CheckWithConfig is the injectable variant used by tests and the API layer.
func CheckWithConfig(cfg *config.Config, client httpDoer) (*Result, error) {
	if cfg == nil || !cfg.Updater.Enabled {
		return &Result{Available: false, Notes: "updater disabled"}, nil
	}
	repo := strings.TrimSpace(cfg.Updater.Repo)
	if repo == "" || !strings.Contains(repo, "/") {
		return &Result{Available: false, Notes: "updater repo not configured"}, nil
	}
	url := fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", repo)
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if tok := os.Getenv("GITHUB_TOKEN"); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("github api: %s: %s", resp.Status, string(b))
	}
	var rel struct {
		TagName string `json:"tag_name"`
		Body    string `json:"body"`
		Assets  []struct {
			Name               string `json:"name"`
			BrowserDownloadURL string `json:"browser_download_url"`
		} `json:"assets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, err
	}
	assetURL := ""
	for _, a := range rel.Assets {
		if assetMatches(a.Name) {
			assetURL = a.BrowserDownloadURL
			break
		}
	}
	if assetURL == "" {
		return &Result{Available: false, Version: rel.TagName, Notes: "no asset for " + runtime.GOOS}, nil
	}
	// Local build version is not embedded, so surface the tag and let the
	// caller decide whether to apply.
	return &Result{Available: true, Version: rel.TagName, URL: assetURL, Notes: firstLines(rel.Body, 10)}, nil
}

// assetMatches reports whether a release asset name fits the running platform.
func assetMatches(name string) bool {
	n := strings.ToLower(name)
	if runtime.GOOS == "windows" {
		return strings.HasSuffix(n, ".exe")
	}
	return strings.Contains(n, runtime.GOOS) && strings.Contains(n, runtime.GOARCH)
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Apply checks for an update and stages it next to the running executable.
func Apply() error {
	cfg, _ := config.Load()
	return ApplyWithConfig(cfg, &http.Client{Timeout: 30 * time.Second})
}

// ApplyWithConfig downloads the latest release and swaps the running binary.
// If the binary is locked, a .new sibling plus a marker file are left behind
// for the service wrapper to finalize on the next restart.
func ApplyWithConfig(cfg *config.Config, client httpDoer) error {
	if cfg == nil || !cfg.Updater.Enabled {
		return errors.New("updater disabled")
	}
	res, err := CheckWithConfig(cfg, client)
	if err != nil {
		return err
	}
	if !res.Available || res.URL == "" {
		return errors.New("no update available")
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("executable path: %w", err)
	}
	return ApplyToPath(cfg, client, exe, res.URL)
}

// ApplyToPath downloads an asset and installs it at targetPath with staged
// swap and rollback. Split out so tests can point it at a temp file.
func ApplyToPath(cfg *config.Config, client httpDoer, targetPath, downloadURL string) error {
	if cfg == nil || !cfg.Updater.Enabled {
		return errors.New("updater disabled")
	}
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	staged := targetPath + ".new"
	f, err := os.Create(staged)
	if err != nil {
		return fmt.Errorf("create staged: %w", err)
	}
	defer f.Close()
	req, _ := http.NewRequest(http.MethodGet, downloadURL, nil)
	if tok := os.Getenv("GITHUB_TOKEN"); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("download: %s: %s", resp.Status, string(b))
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}
	_ = f.Chmod(0o755)

	backup := targetPath + ".bak"
	if _, err := os.Stat(targetPath); err == nil {
		if err := os.Rename(targetPath, backup); err != nil {
			// Binary is likely locked. Leave the staged copy and mark it for
			// the next restart.
			_ = os.WriteFile(filepath.Join(dir, ".update-staged"),
				[]byte(time.Now().Format(time.RFC3339)), 0o644)
			return nil
		}
	}
	if err := os.Rename(staged, targetPath); err != nil {
		_ = os.Rename(backup, targetPath)
		return fmt.Errorf("activate update: %w", err)
	}
	// Backup stays behind for manual rollback.
	return nil
}
