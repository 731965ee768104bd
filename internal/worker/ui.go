package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DefaultUIID is served when a UI config request names no id.
const DefaultUIID = "default_event_list"

// CodeUINotFound is reported when a requested UI config does not exist.
const CodeUINotFound = "UI_NOT_FOUND"

// UIConfigs holds screen layouts for the companion client. Layouts are
// opaque JSON documents keyed by id.
type UIConfigs struct {
	mu      sync.RWMutex
	configs map[string]json.RawMessage
}

func NewUIConfigs() *UIConfigs {
	return &UIConfigs{configs: make(map[string]json.RawMessage)}
}

// Put stores a layout. data must be valid JSON.
func (u *UIConfigs) Put(id string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("ui config %q: invalid JSON", id)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.configs[id] = append(json.RawMessage(nil), data...)
	return nil
}

// Get returns a layout by id.
func (u *UIConfigs) Get(id string) (json.RawMessage, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	c, ok := u.configs[id]
	return c, ok
}

// IDs returns the stored ids, sorted.
func (u *UIConfigs) IDs() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	ids := make([]string, 0, len(u.configs))
	for id := range u.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadDir reads every *.json file in dir; the file name without extension
// is the id. A missing directory is not an error.
func (u *UIConfigs) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading ui config dir: %w", err)
	}

	n := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return n, fmt.Errorf("reading ui config %s: %w", e.Name(), err)
		}
		if err := u.Put(strings.TrimSuffix(e.Name(), ".json"), data); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
