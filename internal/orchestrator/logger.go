package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultDebugLogPath is where the CLI writes the decision trace, relative
// to the repository root.
const DefaultDebugLogPath = ".taskq/logs/orchestrator-debug.log"

// DebugLogger writes a timestamped trace of every decision. The zero value
// and a nil *DebugLogger discard everything.
type DebugLogger struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	now    func() time.Time
}

// NewDebugLogger appends to the file at logPath, creating parent
// directories. An empty path yields a no-op logger.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return NopLogger(), nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &DebugLogger{w: f, closer: f, now: time.Now}
	l.Log("=== taskq debug log started at %s ===", l.now().Format(time.RFC3339))
	return l, nil
}

// NewDebugLoggerTo writes to w. Close does not close w.
func NewDebugLoggerTo(w io.Writer) *DebugLogger {
	return &DebugLogger{w: w, now: time.Now}
}

// NewDebugLoggerForRepo logs to DefaultDebugLogPath under repoPath and falls
// back to a no-op logger when the file cannot be opened.
func NewDebugLoggerForRepo(repoPath string) *DebugLogger {
	l, err := NewDebugLogger(filepath.Join(repoPath, DefaultDebugLogPath))
	if err != nil {
		return NopLogger()
	}
	return l
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one timestamped line.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	if l == nil || l.w == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now
	if l.now != nil {
		now = l.now
	}
	fmt.Fprintf(l.w, "[%s] %s\n", now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
	if f, ok := l.w.(*os.File); ok {
		f.Sync()
	}
}

// Close closes the log file if the logger owns one.
func (l *DebugLogger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.closer.Close()
	l.w, l.closer = nil, nil
	return err
}
