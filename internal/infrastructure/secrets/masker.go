package secrets

import (
	"strings"
	"sync"
)

// MaskReplacement is substituted for every registered secret on output.
const MaskReplacement = "***"

// minSecretLength guards against masking trivially short values that would
// shred unrelated output (e.g. a secret of "1").
const minSecretLength = 4

// Masker is an append-only registry of secret values. Registered secrets are
// replaced before any line is emitted to logs or the console. Secrets
// accumulate for the life of the invocation; masking is idempotent.
type Masker struct {
	mu      sync.RWMutex
	secrets []string
}

// NewMasker creates an empty masker.
func NewMasker() *Masker {
	return &Masker{}
}

// Register adds secret values to the registry. Blank or too-short values are
// ignored. Duplicate registrations are collapsed.
func (m *Masker) Register(values ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		if len(v) < minSecretLength || v == MaskReplacement {
			continue
		}
		if m.contains(v) {
			continue
		}
		m.secrets = append(m.secrets, v)
	}
}

// Mask replaces every registered secret in the input. Masking already-masked
// text yields the same text.
func (m *Masker) Mask(s string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, secret := range m.secrets {
		s = strings.ReplaceAll(s, secret, MaskReplacement)
	}
	return s
}

// Count returns the number of registered secrets.
func (m *Masker) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.secrets)
}

func (m *Masker) contains(v string) bool {
	for _, s := range m.secrets {
		if s == v {
			return true
		}
	}
	return false
}
