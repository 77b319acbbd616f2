package traymgr

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"pakdeck/internal/logging"
)

// offlineAfter is how long the agent waits after the last heartbeat before
// reporting the tray helper as offline.
const offlineAfter = 15 * time.Second

// Manager controls the lifecycle of the tray helper process and tracks its
// heartbeats.
type Manager struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	workDir  string
	exePath  string
	logger   logging.Logger
	lastSeen time.Time
}

func New(workDir, exePath string, logger logging.Logger) *Manager {
	return &Manager{workDir: workDir, exePath: exePath, logger: logger}
}

func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd != nil && m.cmd.Process != nil && m.cmd.ProcessState == nil {
		return nil
	}

	cmd, err := m.prepareCommand()
	if err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.Info("starting tray helper", map[string]any{"path": cmd.Path})
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	m.cmd = cmd

	go func(c *exec.Cmd) {
		_ = c.Wait()
		m.mu.Lock()
		if m.cmd == c {
			m.cmd = nil
		}
		m.mu.Unlock()
	}(cmd)

	return nil
}

func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd == nil || m.cmd.Process == nil || m.cmd.ProcessState != nil {
		return nil
	}
	if m.logger != nil {
		m.logger.Info("stopping tray helper", map[string]any{"pid": m.cmd.Process.Pid})
	}
	err := m.cmd.Process.Kill()
	m.cmd = nil
	m.lastSeen = time.Time{}
	return err
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cmd != nil && m.cmd.Process != nil && m.cmd.ProcessState == nil
}

// RecordHeartbeat marks the tray helper as alive right now.
func (m *Manager) RecordHeartbeat() {
	m.mu.Lock()
	m.lastSeen = time.Now()
	m.mu.Unlock()
}

// SetOffline clears the heartbeat, used when the helper announces shutdown.
func (m *Manager) SetOffline() {
	m.mu.Lock()
	m.lastSeen = time.Time{}
	m.mu.Unlock()
}

// Status reports whether the helper is considered online at the given time
// and when it was last seen.
func (m *Manager) Status(now time.Time) (online bool, lastSeen time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastSeen.IsZero() {
		return false, m.lastSeen
	}
	return now.Sub(m.lastSeen) <= offlineAfter, m.lastSeen
}

func trayBinaryName() string {
	if runtime.GOOS == "windows" {
		return "PakDeckTray.exe"
	}
	return "pakdecktray"
}

func (m *Manager) prepareCommand() (*exec.Cmd, error) {
	if m.exePath != "" {
		if fi, err := os.Stat(m.exePath); err == nil && !fi.IsDir() {
			cmd := exec.Command(m.exePath)
			cmd.Dir = filepath.Dir(m.exePath)
			return cmd, nil
		}
	}

	exe, _ := os.Executable()
	if exe != "" {
		path := filepath.Join(filepath.Dir(exe), trayBinaryName())
		if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
			cmd := exec.Command(path)
			cmd.Dir = filepath.Dir(path)
			return cmd, nil
		}
	}

	if m.workDir != "" {
		path := filepath.Join(m.workDir, "bin", trayBinaryName())
		if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
			cmd := exec.Command(path)
			cmd.Dir = filepath.Dir(path)
			return cmd, nil
		}
	}

	if goPath, err := exec.LookPath("go"); err == nil {
		cmd := exec.Command(goPath, "run", "./cmd/pakdecktray")
		if m.workDir != "" {
			cmd.Dir = m.workDir
		}
		return cmd, nil
	}

	return nil, errors.New("no tray helper binary found")
}
