package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// PrefsFileName is the fixed name of the persisted preference slice. Only
// UI preferences persist across sessions; job data never does.
const PrefsFileName = "picpic-sync-prefs.json"

// Preferences is the small UI slice that survives restarts.
type Preferences struct {
	SidebarCollapsed  bool   `json:"sidebar_collapsed"`
	ActiveWorkspaceID string `json:"active_workspace_id"`
}

// PrefStore is a plain state container with an explicit serialize boundary:
// every mutation writes through to the file, and Load is the only
// deserialize step.
type PrefStore struct {
	path string

	mu    sync.Mutex
	prefs Preferences
}

func NewPrefStore(dir string) *PrefStore {
	return &PrefStore{path: filepath.Join(dir, PrefsFileName)}
}

// Load reads the persisted slice. A missing file leaves the defaults.
func (p *PrefStore) Load() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read preferences: %w", err)
	}
	var prefs Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return fmt.Errorf("parse preferences: %w", err)
	}
	p.mu.Lock()
	p.prefs = prefs
	p.mu.Unlock()
	return nil
}

// Get returns the current preferences.
func (p *PrefStore) Get() Preferences {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prefs
}

// SetSidebarCollapsed updates and persists the sidebar state.
func (p *PrefStore) SetSidebarCollapsed(collapsed bool) error {
	p.mu.Lock()
	p.prefs.SidebarCollapsed = collapsed
	prefs := p.prefs
	p.mu.Unlock()
	return p.write(prefs)
}

// SetActiveWorkspace updates and persists the active workspace id.
func (p *PrefStore) SetActiveWorkspace(id string) error {
	p.mu.Lock()
	p.prefs.ActiveWorkspaceID = id
	prefs := p.prefs
	p.mu.Unlock()
	return p.write(prefs)
}

func (p *PrefStore) write(prefs Preferences) error {
	data, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create preference dir: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}
