package settings

import (
	"strconv"
	"testing"
)

func parseInt(s string) (int, error) { return strconv.Atoi(s) }
func formatInt(v int) string         { return strconv.Itoa(v) }

func newTestStorage() *Storage {
	return &Storage{raw: make(map[string]string), providers: make(map[string]Provider)}
}

func TestSettingGetReturnsDefaultWhenUnset(t *testing.T) {
	storage := newTestStorage()
	setting := New(storage, "chat_retention_days", 30, parseInt, formatInt)

	if got := setting.Get(); got != 30 {
		t.Errorf("Get() = %d, want the default of 30", got)
	}
}

func TestSettingGetReflectsStorageRawValue(t *testing.T) {
	storage := newTestStorage()
	setting := New(storage, "chat_retention_days", 30, parseInt, formatInt)

	storage.mu.Lock()
	storage.raw["chat_retention_days"] = "90"
	storage.mu.Unlock()

	if got := setting.Get(); got != 90 {
		t.Errorf("Get() = %d, want 90", got)
	}
}

func TestSettingGetCachesUntilRawChanges(t *testing.T) {
	storage := newTestStorage()
	setting := New(storage, "k", 1, parseInt, formatInt)

	storage.mu.Lock()
	storage.raw["k"] = "5"
	storage.mu.Unlock()
	if got := setting.Get(); got != 5 {
		t.Fatalf("Get() = %d, want 5", got)
	}

	storage.mu.Lock()
	storage.raw["k"] = "7"
	storage.mu.Unlock()
	if got := setting.Get(); got != 7 {
		t.Fatalf("Get() = %d, want 7 after the raw value changed", got)
	}
}

func TestSettingGetFallsBackToDefaultOnParseError(t *testing.T) {
	storage := newTestStorage()
	setting := New(storage, "k", 42, parseInt, formatInt)

	storage.mu.Lock()
	storage.raw["k"] = "not-an-int"
	storage.mu.Unlock()

	if got := setting.Get(); got != 42 {
		t.Errorf("Get() = %d, want the default 42 when the raw value fails to parse", got)
	}
}

func TestSettingValidateRawUsesValidator(t *testing.T) {
	storage := newTestStorage()
	setting := New(storage, "k", 10, parseInt, formatInt).WithValidator(func(v int) error {
		if v < 0 {
			return errNegative
		}
		return nil
	})

	if err := setting.ValidateRaw("5"); err != nil {
		t.Errorf("ValidateRaw(5) = %v, want nil", err)
	}
	if err := setting.ValidateRaw("-1"); err == nil {
		t.Error("expected ValidateRaw(-1) to fail the validator")
	}
	if err := setting.ValidateRaw("garbage"); err == nil {
		t.Error("expected ValidateRaw to fail on unparseable input")
	}
}

func TestSettingApplyRawUpdatesCache(t *testing.T) {
	storage := newTestStorage()
	setting := New(storage, "k", 1, parseInt, formatInt)

	setting.ApplyRaw("99")
	// Get() reads from storage.raw, which ApplyRaw deliberately does not
	// touch (that's Storage.Set's job) — but the Setting's own cache should
	// now agree with the applied value, observable once storage.raw matches.
	storage.mu.Lock()
	storage.raw["k"] = "99"
	storage.mu.Unlock()
	if got := setting.Get(); got != 99 {
		t.Errorf("Get() = %d, want 99", got)
	}
}

func TestSettingApplyRawFallsBackToDefaultOnParseError(t *testing.T) {
	storage := newTestStorage()
	setting := New(storage, "k", 7, parseInt, formatInt)
	setting.ApplyRaw("not-an-int")

	setting.mu.RLock()
	cached := setting.cached
	setting.mu.RUnlock()
	if cached != 7 {
		t.Errorf("cached value after a bad ApplyRaw = %d, want the default 7", cached)
	}
}

var errNegative = &validationError{"value must not be negative"}

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
