package logging

import (
	"io"
	"os"
	"sync"

	"github.com/kitehq/kite/internal/domain"
	"github.com/kitehq/kite/internal/infrastructure/secrets"
)

// Manager is the process-wide registry of active segment loggers. Entries
// are added when a segment starts and removed when it stops, so that helpers
// not explicitly handed a logger can find the one for their segment.
type Manager struct {
	root    string
	console io.Writer
	masker  *secrets.Masker

	mu     sync.Mutex
	active map[string]*SegmentLogger
}

// ManagerOptions configures a logger manager.
type ManagerOptions struct {
	// Root is the directory segment log files are written under.
	Root string
	// Console receives prefixed lines; nil defaults to stdout. Use
	// io.Discard to suppress console emission.
	Console io.Writer
	// Masker masks registered secrets on every emitted line.
	Masker *secrets.Masker
}

// NewManager creates a logger manager writing under the given root.
func NewManager(opts ManagerOptions) *Manager {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	return &Manager{
		root:    opts.Root,
		console: console,
		masker:  opts.Masker,
		active:  make(map[string]*SegmentLogger),
	}
}

// Start creates and registers the logger for a segment execution. The first
// attempt creates the log file; retries reuse the same logger.
func (m *Manager) Start(segmentName string) (*SegmentLogger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logger, ok := m.active[segmentName]; ok {
		return logger, nil
	}
	logger, err := NewSegmentLogger(m.root, segmentName, Options{Console: m.console, Masker: m.masker})
	if err != nil {
		return nil, err
	}
	m.active[segmentName] = logger
	return logger, nil
}

// Stop unregisters and closes the logger for a segment.
func (m *Manager) Stop(segmentName string) {
	m.mu.Lock()
	logger, ok := m.active[segmentName]
	delete(m.active, segmentName)
	m.mu.Unlock()
	if ok {
		_ = logger.Close()
	}
}

// Get returns the active logger for a segment, or false.
func (m *Manager) Get(segmentName string) (domain.SegmentLogger, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logger, ok := m.active[segmentName]
	return logger, ok
}

// Active returns the names of segments with a registered logger.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.active))
	for name := range m.active {
		names = append(names, name)
	}
	return names
}
