// Package manifest persists and reloads function manifests across the
// introspect/runtime process split (spec.md §4.3).
//
// During introspect, each registration is written as
// {manifestsDir}/{name}.json; the first write of a process run clears and
// recreates manifestsDir so stale manifests from a previous run never
// linger (P6). At runtime, the Store reads every manifest file into memory
// once at startup and once more after the handler process first connects.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fnharness/devbridge/internal/logging"
	jsonschemapkg "github.com/google/jsonschema-go/jsonschema"
)

// Config is the persisted, handler-less form of a function's configuration.
type Config struct {
	SessionConfig    map[string]any        `json:"sessionConfig,omitempty"`
	ParametersSchema *jsonschemapkg.Schema  `json:"parametersSchema,omitempty"`
}

// PersistedManifest is the on-disk shape written by the Emitter and read by
// the Store: a name and its configuration, with no handler reference.
type PersistedManifest struct {
	Name   string `json:"name"`
	Config Config `json:"config"`
}

// Emitter writes one manifest file per registration during the introspect
// phase. It is not safe for concurrent use from multiple goroutines — the
// introspect phase is expected to register functions sequentially.
type Emitter struct {
	dir     string
	cleared bool
}

// NewEmitter returns an Emitter writing under dir. dir is created lazily by
// Write, and cleared recursively first by the Write call passing first=true.
func NewEmitter(dir string) *Emitter {
	return &Emitter{dir: dir}
}

// Write persists one function's manifest. The first-write clearing is
// driven by the caller: pass first=true exactly once, on the registration
// that transitioned the registry from size 0 to size 1.
func (e *Emitter) Write(first bool, name string, cfg Config) error {
	if first && !e.cleared {
		if err := os.RemoveAll(e.dir); err != nil {
			return fmt.Errorf("manifest: clear %s: %w", e.dir, err)
		}
		e.cleared = true
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("manifest: create %s: %w", e.dir, err)
	}

	pm := PersistedManifest{Name: name, Config: cfg}
	data, err := json.MarshalIndent(pm, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode %s: %w", name, err)
	}
	path := filepath.Join(e.dir, name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("manifest: write %s: %w", path, err)
	}
	return nil
}

// Store holds the runtime-phase view of persisted manifests: a name to
// PersistedManifest map built at startup and reloaded at most once after the
// handler process first connects.
type Store struct {
	mu   sync.RWMutex
	dir  string
	byID map[string]PersistedManifest
}

// NewStore returns a Store rooted at dir. Call Load to populate it; a Store
// with no successful Load behaves as empty, not an error state.
func NewStore(dir string) *Store {
	return &Store{dir: dir, byID: make(map[string]PersistedManifest)}
}

// Load reads every *.json file under dir into memory, replacing the
// previous contents atomically. A missing directory is not an error: it is
// logged and the store becomes empty, per spec.md §4.3.
func (s *Store) Load() error {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		logging.Op().Info("manifest directory absent, starting with empty store", "dir", s.dir)
		s.mu.Lock()
		s.byID = make(map[string]PersistedManifest)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("manifest: read dir %s: %w", s.dir, err)
	}

	var names []string
	for _, ent := range entries {
		if ent.IsDir() || filepath.Ext(ent.Name()) != ".json" {
			continue
		}
		names = append(names, ent.Name())
	}
	sort.Strings(names)

	results := make([]PersistedManifest, len(names))
	g := new(errgroup.Group)
	g.SetLimit(goruntime.GOMAXPROCS(0))
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			data, err := os.ReadFile(filepath.Join(s.dir, name))
			if err != nil {
				return fmt.Errorf("manifest: read %s: %w", name, err)
			}
			var pm PersistedManifest
			if err := json.Unmarshal(data, &pm); err != nil {
				return fmt.Errorf("manifest: parse %s: %w", name, err)
			}
			results[i] = pm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	byID := make(map[string]PersistedManifest, len(results))
	for _, pm := range results {
		byID[pm.Name] = pm
	}

	s.mu.Lock()
	s.byID = byID
	s.mu.Unlock()
	return nil
}

// Get returns the persisted manifest for name and whether it was found.
func (s *Store) Get(name string) (PersistedManifest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pm, ok := s.byID[name]
	return pm, ok
}

// Size returns the number of manifests currently held.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
