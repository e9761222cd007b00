package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kitehq/kite/internal/infrastructure/secrets"
)

// timestampLayout renders entry timestamps as HH:mm:ss.SSS.
const timestampLayout = "15:04:05.000"

// Entry markers beyond the four structured levels.
const (
	markerExec = "EXEC"
	markerOut  = "OUT"
	markerLog  = "LOG"
)

// SegmentLogger is the per-segment log sink. Every entry is written
// timestamped to <log-root>/<segment-name>.log, retained in an in-memory
// buffer for the segment result, and mirrored to the console with a
// [<segment-name>] prefix. Secrets are masked before emission.
type SegmentLogger struct {
	name    string
	file    *os.File
	console io.Writer
	masker  *secrets.Masker

	mu  sync.Mutex
	buf strings.Builder
}

// Options configures a segment logger.
type Options struct {
	// Console receives prefixed lines; nil suppresses console emission.
	Console io.Writer
	// Masker masks registered secrets; nil disables masking.
	Masker *secrets.Masker
}

// NewSegmentLogger creates the logger for one segment execution, truncating
// any previous log file of the same name under root.
func NewSegmentLogger(root, name string, opts Options) (*SegmentLogger, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log root: %w", err)
	}
	file, err := os.Create(filepath.Join(root, name+".log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create segment log: %w", err)
	}
	return &SegmentLogger{
		name:    name,
		file:    file,
		console: opts.Console,
		masker:  opts.Masker,
	}, nil
}

// SegmentName returns the segment this logger belongs to.
func (l *SegmentLogger) SegmentName() string {
	return l.name
}

// Debug records a DEBUG entry.
func (l *SegmentLogger) Debug(format string, args ...any) {
	l.write("DEBUG", fmt.Sprintf(format, args...))
}

// Info records an INFO entry.
func (l *SegmentLogger) Info(format string, args ...any) {
	l.write("INFO", fmt.Sprintf(format, args...))
}

// Warn records a WARN entry.
func (l *SegmentLogger) Warn(format string, args ...any) {
	l.write("WARN", fmt.Sprintf(format, args...))
}

// Error records an ERROR entry.
func (l *SegmentLogger) Error(format string, args ...any) {
	l.write("ERROR", fmt.Sprintf(format, args...))
}

// Out records a captured subprocess output line.
func (l *SegmentLogger) Out(line string) {
	l.write(markerOut, line)
}

// Log records captured general output.
func (l *SegmentLogger) Log(line string) {
	l.write(markerLog, line)
}

// CommandStarted records a command-start marker.
func (l *SegmentLogger) CommandStarted(command string) {
	l.write(markerExec, "$ "+command)
}

// CommandCompleted records a command-complete marker.
func (l *SegmentLogger) CommandCompleted(command string, exitCode int, duration time.Duration) {
	l.write(markerExec, fmt.Sprintf("%s completed (exit=%d, took=%s)", command, exitCode, duration))
}

// Output returns everything written so far.
func (l *SegmentLogger) Output() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

// Close flushes and closes the underlying log file.
func (l *SegmentLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// write appends one entry to the file and buffer, and mirrors it to the
// console. The file line is strictly ordered by the logger mutex.
func (l *SegmentLogger) write(marker, payload string) {
	if l.masker != nil {
		payload = l.masker.Mask(payload)
	}
	line := fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format(timestampLayout), marker, payload)

	l.mu.Lock()
	l.buf.WriteString(line)
	if l.file != nil {
		_, _ = l.file.WriteString(line)
	}
	l.mu.Unlock()

	if l.console != nil {
		fmt.Fprintf(l.console, "[%s] %s\n", l.name, payload)
	}
}
