package settings

import (
	"context"
	"fmt"
	"sync"
)

// Setting is a type-safe setting variable backed by Storage. Go has no
// Display/FromStr traits, so construction takes explicit parse/format
// functions in their place — the rest of the shape (cached raw value,
// cached parsed value, re-parse only on raw-value change, optional
// validator) follows settings_vars.rs's Setting<T> exactly.
type Setting[T any] struct {
	key     string
	storage *Storage
	parse   func(string) (T, error)
	format  func(T) string
	def     T

	mu        sync.RWMutex
	cachedRaw string
	haveRaw   bool
	cached    T

	validator func(T) error
}

// New constructs a Setting[T] and registers it as storage's provider for
// key, so Storage.Set can validate against it and hot-reload can push
// updates into its cache.
func New[T any](storage *Storage, key string, def T, parse func(string) (T, error), format func(T) string) *Setting[T] {
	s := &Setting[T]{key: key, storage: storage, parse: parse, format: format, def: def, cached: def}
	storage.registerProvider(key, s)
	return s
}

// WithValidator attaches a custom validation function, checked before a
// proposed value is persisted (mirrors with_validator).
func (s *Setting[T]) WithValidator(fn func(T) error) *Setting[T] {
	s.mu.Lock()
	s.validator = fn
	s.mu.Unlock()
	return s
}

// Get returns the current value, re-parsing from the raw cache only if the
// underlying raw string has changed since the last call.
func (s *Setting[T]) Get() T {
	raw, ok := s.storage.GetRaw(s.key)

	s.mu.RLock()
	unchanged := ok == s.haveRaw && raw == s.cachedRaw
	cached := s.cached
	s.mu.RUnlock()
	if unchanged {
		return cached
	}

	value := s.def
	if ok {
		if v, err := s.parse(raw); err == nil {
			value = v
		}
	}

	s.mu.Lock()
	s.cachedRaw = raw
	s.haveRaw = ok
	s.cached = value
	s.mu.Unlock()

	return value
}

// Set validates v, persists it, and updates the cache.
func (s *Setting[T]) Set(ctx context.Context, group string, v T) error {
	s.mu.RLock()
	validator := s.validator
	s.mu.RUnlock()
	if validator != nil {
		if err := validator(v); err != nil {
			return fmt.Errorf("settings: %s: %w", s.key, err)
		}
	}
	return s.storage.Set(ctx, group, s.key, s.format(v))
}

// ValidateRaw implements Provider.
func (s *Setting[T]) ValidateRaw(raw string) error {
	v, err := s.parse(raw)
	if err != nil {
		return err
	}
	s.mu.RLock()
	validator := s.validator
	s.mu.RUnlock()
	if validator != nil {
		return validator(v)
	}
	return nil
}

// ApplyRaw implements Provider.
func (s *Setting[T]) ApplyRaw(raw string) {
	v, err := s.parse(raw)
	if err != nil {
		v = s.def
	}
	s.mu.Lock()
	s.cachedRaw = raw
	s.haveRaw = true
	s.cached = v
	s.mu.Unlock()
}
