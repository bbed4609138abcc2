// Package validation implements C16: the named boundary validators
// (username, password, email, URL, room name) plus a field-error
// accumulator. Built on github.com/go-playground/validator/v10 — the
// library the teacher's go.mod already carries transitively via Gin's
// binding package — promoted here to a direct dependency since REST
// handler wiring is out of scope but the validators themselves are not.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var std = validator.New()

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Errors accumulates field-level validation failures.
type Errors struct {
	fields map[string]string
}

func NewErrors() *Errors {
	return &Errors{fields: make(map[string]string)}
}

func (e *Errors) Add(field, msg string) {
	e.fields[field] = msg
}

func (e *Errors) HasErrors() bool {
	return len(e.fields) > 0
}

func (e *Errors) Error() string {
	parts := make([]string, 0, len(e.fields))
	for field, msg := range e.fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// Fields returns a copy of the accumulated field->message map.
func (e *Errors) Fields() map[string]string {
	out := make(map[string]string, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

// Username validates 3-50 chars, [A-Za-z0-9_-], no leading '_' or '-'.
func Username(s string) error {
	if len(s) < 3 || len(s) > 50 {
		return fmt.Errorf("username must be 3-50 characters, got %d", len(s))
	}
	if s[0] == '_' || s[0] == '-' {
		return fmt.Errorf("username must not start with '_' or '-'")
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return fmt.Errorf("username contains invalid character %q", r)
		}
	}
	return nil
}

// PasswordOptions configures the Password validator.
type PasswordOptions struct {
	RequireSpecial bool
}

// Password validates length >= 8 with upper/lower/digit, optionally a
// special character.
func Password(s string, opts PasswordOptions) error {
	if len(s) < 8 {
		return fmt.Errorf("password must be at least 8 characters, got %d", len(s))
	}
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return fmt.Errorf("password must contain an uppercase letter, a lowercase letter, and a digit")
	}
	if opts.RequireSpecial && !hasSpecial {
		return fmt.Errorf("password must contain a special character")
	}
	return nil
}

// Email validates against a precompiled regex — intentionally not
// RFC-5322-complete, matching the teacher's pragmatic validation style.
func Email(s string) error {
	if !emailPattern.MatchString(s) {
		return fmt.Errorf("invalid email address")
	}
	return nil
}

// URLOptions configures the URL validator.
type URLOptions struct {
	HTTPSOnly      bool
	AllowedDomains []string // empty = no allow-list restriction
}

// URL validates a URL string, optionally restricting scheme and host.
func URL(s string, opts URLOptions) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url must be absolute")
	}
	if opts.HTTPSOnly && u.Scheme != "https" {
		return fmt.Errorf("url must use https")
	}
	if len(opts.AllowedDomains) > 0 {
		allowed := false
		for _, domain := range opts.AllowedDomains {
			if u.Hostname() == domain {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("url host %q is not in the allowed domain list", u.Hostname())
		}
	}
	return nil
}

// RoomName validates 1-100 chars with no control characters.
func RoomName(s string) error {
	if n := utf8.RuneCountInString(s); n < 1 || n > 100 {
		return fmt.Errorf("room name must be 1-100 characters, got %d", n)
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("room name must not contain control characters")
		}
	}
	return nil
}

// Struct runs go-playground/validator struct tag validation, for request
// shapes declared with `validate:"..."` tags elsewhere in the codebase.
func Struct(v any) error {
	return std.Struct(v)
}
