// Package settings provides the key/value settings store used by discovery.
package settings

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	zlog "github.com/rs/zerolog/log"
)

// Namespace is the default settings namespace.
const Namespace = "similarbox"

// Backend persists raw setting values.
// Load reports found=false for keys that were never written.
type Backend interface {
	Load(namespace, key string) (value string, found bool, err error)
	Save(namespace, key, value string) error
	Keys(namespace string) ([]string, error)
}

// Store provides typed access to settings kept in a Backend.
// Backend failures are never returned to callers: reads fall back and writes are dropped.
type Store struct {
	backend   Backend
	namespace string
}

// New creates a new Store. An empty namespace selects Namespace.
func New(backend Backend, namespace string) *Store {
	if namespace == "" {
		namespace = Namespace
	}
	return &Store{
		backend:   backend,
		namespace: namespace,
	}
}

// Get returns the raw value of key, or fallback if the key is absent or unreadable.
func (s *Store) Get(key, fallback string) string {
	value, found, err := s.backend.Load(s.namespace, key)
	if err != nil {
		zlog.Warn().Msgf("failed to load setting, using fallback: key=%s error=%v", key, err)
		return fallback
	}
	if !found {
		return fallback
	}
	return value
}

// Set writes the raw value of key.
func (s *Store) Set(key, value string) {
	if err := s.backend.Save(s.namespace, key, value); err != nil {
		zlog.Warn().Msgf("failed to save setting: key=%s error=%v", key, err)
	}
}

// EnsureDefaults writes every key of defaults that is missing from the backend.
func (s *Store) EnsureDefaults(defaults map[string]string) {
	for key, value := range defaults {
		_, found, err := s.backend.Load(s.namespace, key)
		if err != nil {
			zlog.Warn().Msgf("failed to check setting: key=%s error=%v", key, err)
			continue
		}
		if found {
			continue
		}
		s.Set(key, value)
	}
}

// String returns the value of key, or fallback.
func (s *Store) String(key, fallback string) string {
	return s.Get(key, fallback)
}

// Bool returns the value of key coerced to bool, or fallback when it does not parse.
func (s *Store) Bool(key string, fallback bool) bool {
	raw := s.Get(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		zlog.Debug().Msgf("setting is not a bool, using fallback: key=%s value=%q", key, raw)
		return fallback
	}
	return v
}

// Int returns the value of key coerced to int, or fallback when it does not parse.
func (s *Store) Int(key string, fallback int) int {
	raw := s.Get(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		zlog.Debug().Msgf("setting is not an int, using fallback: key=%s value=%q", key, raw)
		return fallback
	}
	return v
}

// StringList returns the comma separated value of key as a list.
func (s *Store) StringList(key string) []string {
	return SplitList(s.Get(key, ""))
}

// SetBool writes a bool setting.
func (s *Store) SetBool(key string, value bool) {
	s.Set(key, strconv.FormatBool(value))
}

// All returns every stored setting of the namespace.
func (s *Store) All() map[string]string {
	keys, err := s.backend.Keys(s.namespace)
	if err != nil {
		zlog.Warn().Msgf("failed to list settings: error=%v", err)
		return map[string]string{}
	}
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		value, found, err := s.backend.Load(s.namespace, key)
		if err != nil || !found {
			continue
		}
		result[key] = value
	}
	return result
}

// SplitList splits a comma separated list, trimming items and dropping empties.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// MemoryBackend is an in-process Backend.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

func memoryKey(namespace, key string) string {
	return fmt.Sprintf("%s\x00%s", namespace, key)
}

// Load implements Backend.
func (b *MemoryBackend) Load(namespace, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[memoryKey(namespace, key)]
	return v, ok, nil
}

// Save implements Backend.
func (b *MemoryBackend) Save(namespace, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[memoryKey(namespace, key)] = value
	return nil
}

// Keys implements Backend.
func (b *MemoryBackend) Keys(namespace string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	prefix := namespace + "\x00"
	var keys []string
	for k := range b.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(keys)
	return keys, nil
}
