package config

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Store holds the current configuration document. Every replacement bumps
// the generation so readers can tell a stale snapshot from a fresh one.
// Documents handed out by Config are never mutated afterwards.
type Store struct {
	mu         sync.RWMutex
	path       string
	current    *Config
	generation atomic.Uint64
}

// NewStore loads the configuration at path
func NewStore(path string) (*Store, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, current: cfg}
	s.generation.Store(1)
	return s, nil
}

// NewStaticStore wraps an in-memory configuration that has no backing file
func NewStaticStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Store{current: cfg}
	s.generation.Store(1)
	return s
}

// Path returns the main configuration file, empty for static stores
func (s *Store) Path() string {
	return s.path
}

// Config returns the current configuration snapshot
func (s *Store) Config() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Hooks returns the hook references of the current snapshot
func (s *Store) Hooks() HooksConfig {
	return s.Config().Hooks
}

// Generation returns a counter that changes whenever the document is replaced
func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

// Set replaces the current document
func (s *Store) Set(cfg *Config) {
	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()
	s.generation.Add(1)
}

// Reload re-reads the backing file. On failure the previous document stays
// in place.
func (s *Store) Reload() (*Config, error) {
	if s.path == "" {
		return nil, errors.New("store has no backing file")
	}
	cfg, err := LoadConfig(s.path)
	if err != nil {
		return nil, err
	}
	s.Set(cfg)
	return cfg, nil
}
