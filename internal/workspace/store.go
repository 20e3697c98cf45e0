// Package workspace persists session configurations as one YAML file per
// session under a user-chosen directory, remembers which directory was open
// last, and exports session logs as compressed archives. The registry owns
// the in-memory sessions; this package only owns the disk layout.
package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thedongcc/Tcom-sub002/internal/fault"
	"github.com/thedongcc/Tcom-sub002/internal/logging"
	"github.com/thedongcc/Tcom-sub002/internal/metrics"
	"github.com/thedongcc/Tcom-sub002/internal/session"
)

const (
	sessionFileSuffix = ".yaml"
	stateDirName      = "tcom"
	stateFileName     = "state.json"
)

// userConfigDir locates the per-user state directory. Tests point it at a
// temp dir.
var userConfigDir = os.UserConfigDir

type StoreOptions struct {
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

// Store reads and writes session files. Methods take the workspace
// directory explicitly so one store can serve whichever workspace is open.
type Store struct {
	logger  *logging.Logger
	metrics *metrics.Registry
}

func NewStore(options StoreOptions) *Store {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	m := options.Metrics
	if m == nil {
		m = metrics.Default
	}
	return &Store{logger: logger, metrics: m}
}

// ListSessions decodes every session file in dir. Files that fail to decode
// or validate are skipped and diagnosed, never fatal; a missing directory is
// an empty workspace.
func (s *Store) ListSessions(dir string) ([]session.Config, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fault.Configf("workspace directory is not set")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fault.Persistence(err, "list workspace "+dir)
	}

	configs := make([]session.Config, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), sessionFileSuffix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		payload, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("session file unreadable", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		var config session.Config
		if err := yaml.Unmarshal(payload, &config); err != nil {
			s.logger.Warn("session file invalid", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		if err := config.Validate(); err != nil {
			s.logger.Warn("session file rejected", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		configs = append(configs, config)
	}
	return configs, nil
}

// SaveSession writes the session's file atomically, creating dir if needed.
func (s *Store) SaveSession(dir string, config session.Config) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fault.Configf("workspace directory is not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.metrics.IncStoreError()
		return fault.Persistence(err, "create workspace "+dir)
	}
	payload, err := yaml.Marshal(config)
	if err != nil {
		s.metrics.IncStoreError()
		return fault.Persistence(err, "encode session "+config.Name)
	}
	name := sessionFilename(config.Name)
	if err := writeFileAtomic(dir, name, payload); err != nil {
		s.metrics.IncStoreError()
		return fault.Persistence(err, "save session "+config.Name)
	}
	s.metrics.IncStoreWrite()
	s.logger.Debug("session saved", map[string]string{
		"path": filepath.Join(dir, name),
	})
	return nil
}

// DeleteSession removes the session's file. A file that is already gone is
// not an error.
func (s *Store) DeleteSession(dir string, config session.Config) error {
	path := filepath.Join(strings.TrimSpace(dir), sessionFilename(config.Name))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.metrics.IncStoreError()
		return fault.Persistence(err, "delete session "+config.Name)
	}
	return nil
}

// RenameSession moves the session's file to its new name. A missing source
// means the session was never saved; the pending save creates the new file.
func (s *Store) RenameSession(dir, oldName, newName string) error {
	dir = strings.TrimSpace(dir)
	oldPath := filepath.Join(dir, sessionFilename(oldName))
	newPath := filepath.Join(dir, sessionFilename(newName))
	if oldPath == newPath {
		return nil
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		s.metrics.IncStoreError()
		return fault.Persistence(err, "rename session "+oldName)
	}
	return nil
}

type appState struct {
	LastWorkspace string `json:"lastWorkspace"`
}

// LastWorkspace reports the directory that was open when the tool last shut
// down. Empty when no state file exists yet.
func (s *Store) LastWorkspace() (string, error) {
	path, err := statePath()
	if err != nil {
		return "", err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fault.Persistence(err, "read app state")
	}
	var state appState
	if err := json.Unmarshal(payload, &state); err != nil {
		return "", fault.Persistence(err, "decode app state")
	}
	return state.LastWorkspace, nil
}

// SetLastWorkspace records dir in the per-user state file.
func (s *Store) SetLastWorkspace(dir string) error {
	path, err := statePath()
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(appState{LastWorkspace: dir}, "", "  ")
	if err != nil {
		return fault.Persistence(err, "encode app state")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fault.Persistence(err, "create state dir")
	}
	payload = append(payload, '\n')
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fault.Persistence(err, "write app state")
	}
	return nil
}

func statePath() (string, error) {
	base, err := userConfigDir()
	if err != nil {
		return "", fault.Persistence(err, "locate user config dir")
	}
	return filepath.Join(base, stateDirName, stateFileName), nil
}

func sessionFilename(name string) string {
	return sanitizeName(name) + sessionFileSuffix
}

// sanitizeName maps a session name onto a filename every platform accepts.
// Runs of rejected characters collapse to one dash; case and spaces survive
// so the file stays recognizable next to the name shown in the tool.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name))
	lastDash := false
	for _, r := range name {
		rejected := r < 0x20 || strings.ContainsRune(`/\:*?"<>|`, r)
		if rejected {
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
			continue
		}
		lastDash = false
		b.WriteRune(r)
	}
	cleaned := strings.Trim(b.String(), "-. ")
	if cleaned == "" {
		return "session"
	}
	return cleaned
}

func writeFileAtomic(dir string, name string, payload []byte) error {
	tempFile, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempName)
	}()
	if _, err := tempFile.Write(payload); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tempName, 0o644); err != nil {
		return err
	}
	return os.Rename(tempName, filepath.Join(dir, name))
}
