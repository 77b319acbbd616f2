package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	yaml "gopkg.in/yaml.v3"

	"pakdeck/internal/i18n"
)

type Updater struct {
	Enabled bool   `yaml:"enabled"`
	Repo    string `yaml:"repo"` // owner/name on GitHub
}

type Config struct {
	Port       int     `yaml:"port"`
	LogLevel   string  `yaml:"log_level"`
	LogFormat  string  `yaml:"log_format"`
	Language   string  `yaml:"language"`
	Autostart  bool    `yaml:"autostart"`
	BackendURL string  `yaml:"backend_url"`
	Updater    Updater `yaml:"updater"`
}

const (
	DefaultPort       = 2841
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "json"
	DefaultLanguage   = "en"
	DefaultBackendURL = "http://127.0.0.1:2842"
)

func Default(language string) *Config {
	if language == "" {
		language = DefaultLanguage
	}
	return &Config{
		Port:       DefaultPort,
		LogLevel:   DefaultLogLevel,
		LogFormat:  DefaultLogFormat,
		Language:   language,
		Autostart:  true,
		BackendURL: DefaultBackendURL,
		Updater:    Updater{Enabled: true},
	}
}

// DataBase returns the per-machine data directory for the agent.
func DataBase() string {
	if runtime.GOOS == "windows" {
		pd := os.Getenv("ProgramData")
		if pd == "" {
			pd = `C:\ProgramData`
		}
		return filepath.Join(pd, "PakDeck")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "pakdeck")
	}
	return "/var/lib/pakdeck"
}

func Paths() (configDir, logDir, stateDir string) {
	base := DataBase()
	return filepath.Join(base, "config"), filepath.Join(base, "logs"), filepath.Join(base, "state")
}

func ConfigFilePath() string {
	cfgDir, _, _ := Paths()
	return filepath.Join(cfgDir, "config.yaml")
}

func EnsureDirs() error {
	cfg, logs, state := Paths()
	for _, d := range []string{cfg, logs, state} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the config file, creating it with defaults on first run. The
// first-run language comes from the OS locale matched against the embedded
// catalog.
func Load() (*Config, error) {
	if err := EnsureDirs(); err != nil {
		return nil, err
	}
	path := ConfigFilePath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default(systemLanguage())
		if err := Save(cfg); err != nil {
			return cfg, nil
		}
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default(systemLanguage())
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = DefaultBackendURL
	}
	return cfg, nil
}

func Save(cfg *Config) error {
	if err := EnsureDirs(); err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(ConfigFilePath(), out, 0o644)
}

func systemLanguage() string {
	return i18n.SystemLocale(i18n.DefaultMessages().Locales(), DefaultLanguage)
}
