package artifacts

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// ManifestVersion is the current manifest wire format version.
const ManifestVersion = 1

// manifestFileName is the manifest location under the store root.
const manifestFileName = ".manifest.json"

// Manifest is the JSON document describing the store contents at the end of
// an invocation. It makes the store self-describing so a later, independent
// invocation can re-adopt the same artifacts by name. Unknown fields from
// future versions are ignored on read.
type Manifest struct {
	Artifacts map[string]Entry `json:"artifacts"`
	RideName  *string          `json:"rideName"`
	Timestamp int64            `json:"timestamp"`
	Version   int              `json:"version"`
}

// SaveManifest serializes every current entry plus the ride name and a save
// timestamp. The write is atomic: content goes to a temporary file which is
// renamed over the manifest path.
func (s *Store) SaveManifest(rideName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	manifest := Manifest{
		Artifacts: make(map[string]Entry, len(s.index)),
		Timestamp: time.Now().UnixMilli(),
		Version:   ManifestVersion,
	}
	for name, entry := range s.index {
		manifest.Artifacts[name] = entry
	}
	if rideName != "" {
		manifest.RideName = &rideName
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(s.root, manifestFileName), data, 0o644)
}

// RestoreFromManifest rebuilds the in-memory index from a previously saved
// manifest, reusing the files already on disk. A missing or unparseable
// manifest means no prior artifacts; zero is returned.
func (s *Store) RestoreFromManifest() (int, error) {
	data, err := os.ReadFile(filepath.Join(s.root, manifestFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	for name, entry := range manifest.Artifacts {
		if entry.RelativePath == "" {
			entry.RelativePath = name
		}
		if _, err := os.Stat(filepath.Join(s.root, entry.RelativePath)); err != nil {
			continue
		}
		if entry.Name == "" {
			entry.Name = name
		}
		s.index[name] = entry
		restored++
	}
	return restored, nil
}
