// Package transcript writes an NDJSON log of every session event, one file
// per student and run.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/recovery-room/internal/simulation"
)

// Config controls transcript logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Entry is one NDJSON line.
type Entry struct {
	Timestamp      time.Time `json:"ts"`
	UserID         string    `json:"user_id"`
	RunID          string    `json:"run_id"`
	Scenario       string    `json:"scenario"`
	Event          string    `json:"event"`
	Index          *int      `json:"index,omitempty"`
	Role           string    `json:"role,omitempty"`
	Text           string    `json:"text,omitempty"`
	CoachingNote   string    `json:"coaching_note,omitempty"`
	ReasoningTrace string    `json:"reasoning_trace,omitempty"`
	Synthetic      bool      `json:"synthetic,omitempty"`
	Raw            string    `json:"raw,omitempty"`
	AngerLevel     int       `json:"anger_level"`
	Status         string    `json:"status,omitempty"`
	Outcome        string    `json:"outcome,omitempty"`
	Score          *int      `json:"score,omitempty"`
	Fallback       bool      `json:"fallback,omitempty"`
}

var errLoggerClosed = errors.New("transcript logger closed")

// Logger queues entries and writes them on a single goroutine so callers
// never block on disk I/O. Entries are dropped when the queue is full.
type Logger struct {
	dir    string
	queue  chan Entry
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New starts a logger. A disabled config returns a nil Logger, which is
// safe to use.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	l := &Logger{
		dir:    cfg.Dir,
		queue:  make(chan Entry, cfg.QueueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Observe converts a session event to an entry and queues it.
func (l *Logger) Observe(_ context.Context, ev simulation.Event) {
	if l == nil {
		return
	}
	l.Log(FromEvent(ev))
}

// Log queues e for writing.
func (l *Logger) Log(e Entry) {
	if l == nil {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- e:
	default:
		l.logger.Warn("transcript queue full, dropping entry", "user_id", e.UserID, "run_id", e.RunID, "event", e.Event)
	}
}

// Close flushes queued entries and stops the writer.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errLoggerClosed
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}

func (l *Logger) run() {
	defer close(l.done)
	for e := range l.queue {
		if err := l.write(e); err != nil {
			l.logger.Warn("failed to write transcript entry", "error", err, "user_id", e.UserID, "run_id", e.RunID)
		}
	}
}

func (l *Logger) write(e Entry) error {
	path := l.Path(e.UserID, e.RunID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create transcript dir: %w", err)
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("write transcript: %w", err)
	}
	return f.Close()
}

// Path is the file entries for userID/runID are appended to.
func (l *Logger) Path(userID, runID string) string {
	return filepath.Join(l.dir, safeName(userID), safeName(runID)+".ndjson")
}

// FromEvent flattens a session event.
func FromEvent(ev simulation.Event) Entry {
	e := Entry{
		Timestamp:  ev.At,
		UserID:     ev.UserID,
		RunID:      ev.RunID,
		Scenario:   string(ev.Scenario),
		Event:      string(ev.Kind),
		AngerLevel: ev.AngerLevel,
		Status:     string(ev.Status),
	}
	switch ev.Kind {
	case simulation.EventTurn:
		idx := ev.Index
		e.Index = &idx
		e.Role = string(ev.Turn.Role)
		e.Text = ev.Turn.Text
		e.CoachingNote = ev.Turn.CoachingNote
		e.ReasoningTrace = ev.Turn.ReasoningTrace
		e.Synthetic = ev.Turn.Synthetic
		e.Raw = ev.Raw
	case simulation.EventReport:
		if ev.Report != nil {
			score := ev.Report.Score
			e.Outcome = string(ev.Report.Outcome)
			e.Score = &score
			e.Text = ev.Report.Summary
			e.Fallback = ev.Report.Fallback
		}
	case simulation.EventSurvey:
		if ev.Survey != nil {
			e.Text = ev.Survey.Reflection
		}
	}
	return e
}

func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "unknown"
	}
	return s
}
