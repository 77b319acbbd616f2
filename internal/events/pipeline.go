package events

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"time"

	"pakdeck/internal/logging"
	"pakdeck/internal/metrics"
)

// Event is one line of frontend-visible activity: agent logs, intercepted
// console output, or lines relayed from the native backend's event stream.
type Event struct {
	Time    time.Time     `json:"time"`
	Source  string        `json:"source"`
	Level   logging.Level `json:"-"`
	LevelS  string        `json:"level"`
	Message string        `json:"message"`
	Crash   bool          `json:"crash,omitempty"`
}

// Pipeline fans events in from every producer and out to bounded subscriber
// channels and the structured logger. Crash reports are deduplicated for the
// lifetime of the process: the same crash fingerprint is surfaced once per
// session.
type Pipeline struct {
	mu      sync.Mutex
	logger  logging.Logger
	crashes map[string]struct{}
	subs    map[chan Event]struct{}
}

func New(logger logging.Logger) *Pipeline {
	return &Pipeline{
		logger:  logger,
		crashes: map[string]struct{}{},
		subs:    map[chan Event]struct{}{},
	}
}

// Publish classifies line by severity and fans it out.
func (p *Pipeline) Publish(source, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	p.emit(Event{
		Time:    time.Now(),
		Source:  source,
		Level:   Classify(line),
		Message: line,
	})
}

// ReportCrash surfaces a crash report once per session. It reports whether
// the crash was new; duplicates are dropped silently.
func (p *Pipeline) ReportCrash(source, report string) bool {
	fp := fingerprint(source, report)
	p.mu.Lock()
	if _, dup := p.crashes[fp]; dup {
		p.mu.Unlock()
		return false
	}
	p.crashes[fp] = struct{}{}
	p.mu.Unlock()

	metrics.IncCrashes()
	p.emit(Event{
		Time:    time.Now(),
		Source:  source,
		Level:   logging.Error,
		Message: report,
		Crash:   true,
	})
	return true
}

// Subscribe returns a bounded channel of future events and a cancel
// function. Events are dropped for a subscriber whose channel is full; slow
// consumers never block producers.
func (p *Pipeline) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()
	cancel := func() {
		p.mu.Lock()
		if _, ok := p.subs[ch]; ok {
			delete(p.subs, ch)
			close(ch)
		}
		p.mu.Unlock()
	}
	return ch, cancel
}

// Writer returns an io.Writer that intercepts console-style output for
// source, splitting it into lines and publishing each one. Useful as the
// output of the std log package or a child process.
func (p *Pipeline) Writer(source string) io.Writer {
	return &lineWriter{p: p, source: source}
}

func (p *Pipeline) emit(ev Event) {
	metrics.IncEvents()
	ev.LevelS = ev.Level.String()
	if p.logger != nil {
		fields := map[string]any{"source": ev.Source}
		if ev.Crash {
			fields["crash"] = true
		}
		p.logger.Log(ev.Level, ev.Message, fields)
	}
	p.mu.Lock()
	for ch := range p.subs {
		select {
		case ch <- ev:
		default: // subscriber is behind, drop
		}
	}
	p.mu.Unlock()
}

// Classify derives a severity from the text of a line. Backend and console
// producers carry no structured level, so the line itself is the only
// signal.
func Classify(line string) logging.Level {
	l := strings.ToLower(line)
	switch {
	case strings.Contains(l, "panic") || strings.Contains(l, "fatal"):
		return logging.Error
	case strings.Contains(l, "error") || strings.Contains(l, "err="):
		return logging.Error
	case strings.Contains(l, "warn"):
		return logging.Warn
	case strings.Contains(l, "debug") || strings.Contains(l, "trace"):
		return logging.Debug
	default:
		return logging.Info
	}
}

// fingerprint identifies a crash by its source and first line, so repeated
// panics with identical heads collapse even when stack addresses differ.
func fingerprint(source, report string) string {
	head := report
	if i := strings.IndexByte(report, '\n'); i >= 0 {
		head = report[:i]
	}
	sum := sha256.Sum256([]byte(source + "\x00" + strings.TrimSpace(head)))
	return hex.EncodeToString(sum[:])
}

type lineWriter struct {
	mu     sync.Mutex
	p      *Pipeline
	source string
	buf    bytes.Buffer
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	w.buf.Write(b)
	var lines []string
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(w.buf.Next(i+1)))
	}
	w.mu.Unlock()
	for _, line := range lines {
		w.p.Publish(w.source, line)
	}
	return len(b), nil
}
