// Package settings implements the settings runtime (C14): hot-reloadable,
// type-safe key/value settings backed by Postgres, with a
// PostgreSQL LISTEN/NOTIFY-driven reload path across replicas. Grounded on
// original_source/synctv-core/src/service/settings_vars.rs's Setting<T> (the
// per-setting raw+parsed cache pair, re-parsed only when the raw value
// changes) and settings.rs's SettingsService (the shared storage map plus
// listener callbacks) — adapted to Go's gorm.io/gorm (the teacher's pack
// already carries it for the Postgres-backed domain model) and pgx's native
// LISTEN/NOTIFY support.
package settings

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// Row is the gorm model backing the settings table.
type Row struct {
	Key   string `gorm:"primaryKey;column:key"`
	Group string `gorm:"column:group_name"`
	Value string `gorm:"column:value"`
}

func (Row) TableName() string { return "settings" }

// Storage is the shared `{ key -> raw_string }` store plus a registry of
// type-erased providers used for validation dispatch, matching the original
// SettingsStorage's dual role.
type Storage struct {
	db *gorm.DB

	mu        sync.RWMutex
	raw       map[string]string
	providers map[string]Provider

	listenerMu sync.RWMutex
	listeners  []ChangeListener
}

// Provider is the type-erased interface every Setting[T] implements so the
// storage layer can validate a proposed string value without knowing T.
type Provider interface {
	// ValidateRaw parses and validates a raw string without committing it.
	ValidateRaw(raw string) error
	// ApplyRaw updates the Setting's cache from a freshly stored raw value
	// (called after a successful Set or a hot-reload notification).
	ApplyRaw(raw string)
}

// ChangeListener is notified with (key, raw_value) whenever a setting
// changes, whether locally via Set or remotely via LISTEN/NOTIFY.
type ChangeListener func(key, rawValue string)

func NewStorage(db *gorm.DB) *Storage {
	return &Storage{db: db, raw: make(map[string]string), providers: make(map[string]Provider)}
}

// Initialize loads every row into the in-memory cache.
func (s *Storage) Initialize(ctx context.Context) error {
	var rows []Row
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return fmt.Errorf("settings: initialize: %w", err)
	}
	s.mu.Lock()
	for _, row := range rows {
		s.raw[row.Key] = row.Value
	}
	s.mu.Unlock()
	return nil
}

// registerProvider associates key with the Setting[T] that owns it, the Go
// analogue of the original's auto-register-on-construction behavior.
func (s *Storage) registerProvider(key string, p Provider) {
	s.mu.Lock()
	s.providers[key] = p
	s.mu.Unlock()
}

// GetRaw returns the current cached raw string for key, if any.
func (s *Storage) GetRaw(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.raw[key]
	return v, ok
}

// Set validates rawValue against key's registered provider (if any), then
// persists it and updates the cache + notifies listeners.
func (s *Storage) Set(ctx context.Context, group, key, rawValue string) error {
	s.mu.RLock()
	provider, hasProvider := s.providers[key]
	s.mu.RUnlock()

	if hasProvider {
		if err := provider.ValidateRaw(rawValue); err != nil {
			return fmt.Errorf("settings: validate %s: %w", key, err)
		}
	}

	row := Row{Key: key, Group: group, Value: rawValue}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("settings: persist %s: %w", key, err)
	}
	if err := s.db.WithContext(ctx).Exec("SELECT pg_notify('settings_changed', ?)", key).Error; err != nil {
		return fmt.Errorf("settings: notify %s: %w", key, err)
	}

	s.mu.Lock()
	s.raw[key] = rawValue
	s.mu.Unlock()

	if hasProvider {
		provider.ApplyRaw(rawValue)
	}
	s.notifyListeners(key, rawValue)
	return nil
}

// GetAllValues returns a snapshot of every cached key/raw-value pair.
func (s *Storage) GetAllValues() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.raw))
	for k, v := range s.raw {
		out[k] = v
	}
	return out
}

// OnChange registers a callback invoked on every settings change.
func (s *Storage) OnChange(fn ChangeListener) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenerMu.Unlock()
}

func (s *Storage) notifyListeners(key, rawValue string) {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	for _, fn := range s.listeners {
		fn(key, rawValue)
	}
}

// reloadFromDB re-reads a single key from Postgres (used by the LISTEN
// handler, since a NOTIFY from another replica doesn't carry the new value,
// only that it changed).
func (s *Storage) reloadFromDB(ctx context.Context, key string) (string, bool, error) {
	var row Row
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	s.mu.Lock()
	s.raw[row.Key] = row.Value
	s.mu.Unlock()

	s.mu.RLock()
	provider, ok := s.providers[key]
	s.mu.RUnlock()
	if ok {
		provider.ApplyRaw(row.Value)
	}
	return row.Value, true, nil
}
