package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"endpointagent/internal/apperr"
	"endpointagent/internal/model"
	"endpointagent/internal/pkg/logger"
)

// GroupListProvider returns the ordered list of group names whose overlay
// files should be fetched and merged on top of the base document.
type GroupListProvider func() []string

// OverlayFetcher retrieves the raw YAML bytes for a single group overlay,
// e.g. from sharedDir/<group>.conf.
type OverlayFetcher func(group string) ([]byte, error)

// Store is the generic, hot-reloadable configuration tree behind the
// agent's get<T>(table, key) contract (C1). It is distinct from the typed
// bootstrap Config: callers needing a fixed known shape use Config;
// callers needing open-ended per-group lookups (modules, centralized
// config commands) use Store.
type Store struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[model.ConfigSnapshot]

	basePath   string
	groupsFn   GroupListProvider
	fetchFn    OverlayFetcher

	watchersMu sync.Mutex
	watchers   []func(*model.ConfigSnapshot)
}

// NewStore constructs a Store rooted at basePath. groupsFn and fetchFn may
// be nil, in which case the store only ever reflects the base document.
func NewStore(basePath string, groupsFn GroupListProvider, fetchFn OverlayFetcher) (*Store, error) {
	s := &Store{basePath: basePath, groupsFn: groupsFn, fetchFn: fetchFn}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStoreFromYAML builds a Store from an in-memory document, for tests.
func NewStoreFromYAML(yamlDoc string) (*Store, error) {
	tables, err := parseTables([]byte(yamlDoc))
	if err != nil {
		return nil, apperr.NewConfigError("parse inline yaml", err)
	}
	s := &Store{}
	s.snapshot.Store(model.NewConfigSnapshot(tables))
	return s, nil
}

func parseTables(raw []byte) (map[string]map[string]interface{}, error) {
	var doc map[string]interface{}
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
	}
	tables := make(map[string]map[string]interface{}, len(doc))
	for k, v := range doc {
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		tables[k] = m
	}
	return tables, nil
}

// reload re-executes the construction pipeline: parse base, overlay each
// group in order, and atomically swap the snapshot. A base parse failure
// leaves the store on an empty config (logged, not returned as an error,
// per §4.1); an overlay parse failure aborts without mutating the current
// snapshot.
func (s *Store) reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var base map[string]interface{}
	if s.basePath != "" {
		raw, err := os.ReadFile(s.basePath)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Warnf("config base file missing, starting empty: %s", s.basePath)
				base = map[string]interface{}{}
			} else {
				return apperr.NewConfigError("read base "+s.basePath, err)
			}
		} else if err := yaml.Unmarshal(raw, &base); err != nil {
			logger.Warnf("config base file malformed, starting empty: %v", err)
			base = map[string]interface{}{}
		}
	}
	if base == nil {
		base = map[string]interface{}{}
	}

	if s.groupsFn != nil && s.fetchFn != nil {
		for _, group := range s.groupsFn() {
			raw, err := s.fetchFn(group)
			if err != nil {
				return apperr.NewConfigError("fetch overlay "+group, err)
			}
			var overlay map[string]interface{}
			if err := yaml.Unmarshal(raw, &overlay); err != nil {
				return apperr.NewConfigError("parse overlay "+group, err)
			}
			base = model.MergeOverlay(base, overlay)
		}
	}

	tables := make(map[string]map[string]interface{}, len(base))
	for k, v := range base {
		if m, ok := v.(map[string]interface{}); ok {
			tables[k] = m
		}
	}
	s.snapshot.Store(model.NewConfigSnapshot(tables))
	return nil
}

// Reload is the public entry point for C8's "update-group" and
// "set-group" centralized-configuration commands and for the fsnotify
// watcher in watcher.go.
func (s *Store) Reload() error {
	if err := s.reload(); err != nil {
		return err
	}
	snap := s.snapshot.Load()
	s.watchersMu.Lock()
	cbs := append([]func(*model.ConfigSnapshot){}, s.watchers...)
	s.watchersMu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(snap)
		}
	}
	return nil
}

// Snapshot returns the current immutable snapshot. Readers observing
// before a swap see old values; after, new values; no torn reads.
func (s *Store) Snapshot() *model.ConfigSnapshot {
	return s.snapshot.Load()
}

// Watch registers fn to be called, in registration order, after every
// successful Reload. The returned func unsubscribes it.
func (s *Store) Watch(fn func(*model.ConfigSnapshot)) (unsubscribe func()) {
	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()
	idx := len(s.watchers)
	s.watchers = append(s.watchers, fn)
	return func() {
		s.watchersMu.Lock()
		defer s.watchersMu.Unlock()
		if idx < len(s.watchers) {
			s.watchers[idx] = nil
		}
	}
}

// DefaultSharedOverlayFetcher reads <sharedDir>/<group>.conf from disk,
// matching the on-disk layout in §6.
func DefaultSharedOverlayFetcher(sharedDir string) OverlayFetcher {
	return func(group string) ([]byte, error) {
		path := filepath.Join(sharedDir, fmt.Sprintf("%s.conf", group))
		return os.ReadFile(path)
	}
}
