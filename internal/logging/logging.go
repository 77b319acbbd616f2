package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const maxArchives = 5

// RotatingWriter appends to a single log file and rotates it once it would
// exceed maxBytes, keeping up to maxArchives numbered archives.
type RotatingWriter struct {
	path string
	maxB int64
	file *os.File
	mu   sync.Mutex
}

func NewRotatingWriter(path string, maxBytes int64) (*RotatingWriter, error) {
	rw := &RotatingWriter{path: path, maxB: maxBytes}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (w *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	return nil
}

func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	for i := maxArchives; i >= 1; i-- {
		src := w.path
		if i > 1 {
			src = w.path + "." + fmt.Sprint(i-1)
		}
		dst := w.path + "." + fmt.Sprint(i)
		if _, err := os.Stat(src); err == nil {
			_ = os.Remove(dst)
			_ = os.Rename(src, dst)
		}
	}
	return w.open()
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	fi, _ := w.file.Stat()
	if fi != nil && fi.Size()+int64(len(p)) > w.maxB {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// Level defines logging severity.
type Level int

const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
)

// ParseLevel maps a level name to a Level, defaulting to Info. The events
// pipeline uses it to classify intercepted output lines as well.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return Trace
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error", "fatal", "panic":
		return Error
	default:
		return Info
	}
}

func (l Level) String() string {
	switch l {
	case Trace:
		return "trace"
	case Debug:
		return "debug"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Logger is a minimal structured logger.
type Logger interface {
	With(fields map[string]any) Logger
	Log(level Level, msg string, fields map[string]any)
	Trace(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

type jsonLogger struct {
	w      io.Writer
	level  Level
	fields map[string]any
	asText bool
}

// New creates a structured logger writing to w using the given format
// ("json" or "text") and level string.
func New(w io.Writer, format, level string) Logger {
	jl := &jsonLogger{w: w, level: ParseLevel(level), fields: map[string]any{}}
	if strings.ToLower(strings.TrimSpace(format)) == "text" {
		jl.asText = true
	}
	return jl
}

func (l *jsonLogger) With(fields map[string]any) Logger {
	if len(fields) == 0 {
		return l
	}
	nf := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		nf[k] = v
	}
	for k, v := range fields {
		nf[k] = v
	}
	return &jsonLogger{w: l.w, level: l.level, fields: nf, asText: l.asText}
}

func (l *jsonLogger) enabled(level Level) bool { return level >= l.level }

func (l *jsonLogger) Log(level Level, msg string, fields map[string]any) {
	if !l.enabled(level) {
		return
	}
	ev := make(map[string]any, len(l.fields)+len(fields)+3)
	for k, v := range l.fields {
		ev[k] = v
	}
	for k, v := range fields {
		ev[k] = v
	}
	ev["ts"] = time.Now().Format(time.RFC3339Nano)
	ev["lvl"] = level.String()
	ev["msg"] = msg
	if l.asText {
		var sb strings.Builder
		sb.WriteString(ev["ts"].(string))
		sb.WriteString(" ")
		sb.WriteString(level.String())
		sb.WriteString(" ")
		sb.WriteString(msg)
		for k, v := range ev {
			if k == "ts" || k == "lvl" || k == "msg" {
				continue
			}
			sb.WriteString(" ")
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(fmt.Sprint(v))
		}
		sb.WriteString("\n")
		_, _ = l.w.Write([]byte(sb.String()))
		return
	}
	b, _ := json.Marshal(ev)
	b = append(b, '\n')
	_, _ = l.w.Write(b)
}

func (l *jsonLogger) Trace(msg string, fields map[string]any) { l.Log(Trace, msg, fields) }
func (l *jsonLogger) Debug(msg string, fields map[string]any) { l.Log(Debug, msg, fields) }
func (l *jsonLogger) Info(msg string, fields map[string]any)  { l.Log(Info, msg, fields) }
func (l *jsonLogger) Warn(msg string, fields map[string]any)  { l.Log(Warn, msg, fields) }
func (l *jsonLogger) Error(msg string, fields map[string]any) { l.Log(Error, msg, fields) }

// Setup opens a rotating file writer for path, tees it with stdout, and
// returns the logger plus the writer for closing on shutdown.
func Setup(path, format, level string) (Logger, io.Closer, error) {
	rw, err := NewRotatingWriter(path, 5*1024*1024)
	if err != nil {
		return nil, nil, err
	}
	mw := io.MultiWriter(os.Stdout, rw)
	return New(mw, format, level), rw, nil
}
