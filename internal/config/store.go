package config

import "sync"

// Store holds the live configuration and supports atomic replacement when the
// watcher picks up a file change. Readers get a consistent snapshot pointer;
// the snapshot itself is treated as immutable by convention.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStore returns a Store seeded with cfg.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

// Config returns the current snapshot. Callers must not mutate it.
func (s *Store) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Replace swaps in a new snapshot.
func (s *Store) Replace(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// Entry looks up a config entry by ID in the current snapshot.
func (s *Store) Entry(id string) (*Entry, bool) {
	cfg := s.Config()
	for i := range cfg.Entries {
		if cfg.Entries[i].ID == id {
			return &cfg.Entries[i], true
		}
	}
	return nil, false
}
