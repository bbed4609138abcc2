package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/synctv-org/synctv-core/internal/logging"
)

func TestCorrelationIDGeneratedWhenAbsent(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(logging.CorrelationIDKey).(string)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	CorrelationID(next).ServeHTTP(rec, req)

	if seen == "" {
		t.Fatal("expected a correlation id to be set on the request context")
	}
	if rec.Header().Get(HeaderXCorrelationID) != seen {
		t.Errorf("response header correlation id %q != context value %q", rec.Header().Get(HeaderXCorrelationID), seen)
	}
}

func TestCorrelationIDReused(t *testing.T) {
	const want = "caller-supplied-id"
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(logging.CorrelationIDKey).(string)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXCorrelationID, want)
	rec := httptest.NewRecorder()
	CorrelationID(next).ServeHTTP(rec, req)

	if seen != want {
		t.Errorf("correlation id = %q, want %q", seen, want)
	}
	if rec.Header().Get(HeaderXCorrelationID) != want {
		t.Errorf("response header correlation id = %q, want %q", rec.Header().Get(HeaderXCorrelationID), want)
	}
}
