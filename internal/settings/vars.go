package settings

import (
	"fmt"
	"strconv"
)

func parseInt64(s string) (int64, error)   { return strconv.ParseInt(s, 10, 64) }
func formatInt64(v int64) string           { return strconv.FormatInt(v, 10) }
func parseBool(s string) (bool, error)     { return strconv.ParseBool(s) }
func formatBool(v bool) string             { return strconv.FormatBool(v) }
func parseString(s string) (string, error) { return s, nil }
func formatString(v string) string         { return v }

// Vars bundles the knobs spec.md leaves as caller-side constants, surfaced
// here as hot-reloadable Setting[T] entries per SPEC_FULL.md's Open
// Question (d) decision — activity_window_minutes, signup/publish toggles,
// and related policy knobs.
type Vars struct {
	// ActivityWindowMinutes bounds how recently a user must have acted to
	// count as "active" for presence/online-status reporting.
	ActivityWindowMinutes *Setting[int64]

	// SignupEnabled gates new account creation.
	SignupEnabled *Setting[bool]

	// MaxRoomsPerUser caps how many rooms a single user may own.
	MaxRoomsPerUser *Setting[int64]

	// GuestPublishEnabled allows unauthenticated viewers to request a
	// publish token (subject to room policy); disabled by default.
	GuestPublishEnabled *Setting[bool]

	// ChatRetentionMinutes drives periodic chat history cleanup.
	ChatRetentionMinutes *Setting[int64]

	// DefaultRoomVisibility is "public" or "private" for newly created rooms.
	DefaultRoomVisibility *Setting[string]
}

// NewVars constructs and registers every knob against storage.
func NewVars(storage *Storage) *Vars {
	return &Vars{
		ActivityWindowMinutes: New(storage, "server.activity_window_minutes", int64(5), parseInt64, formatInt64).
			WithValidator(func(v int64) error {
				if v <= 0 || v > 24*60 {
					return fmt.Errorf("activity_window_minutes must be between 1 and 1440")
				}
				return nil
			}),
		SignupEnabled: New(storage, "server.signup_enabled", true, parseBool, formatBool),
		MaxRoomsPerUser: New(storage, "server.max_rooms_per_user", int64(10), parseInt64, formatInt64).
			WithValidator(func(v int64) error {
				if v <= 0 || v > 1000 {
					return fmt.Errorf("max_rooms_per_user must be between 1 and 1000")
				}
				return nil
			}),
		GuestPublishEnabled:   New(storage, "server.guest_publish_enabled", false, parseBool, formatBool),
		ChatRetentionMinutes:  New(storage, "server.chat_retention_minutes", int64(60*24*7), parseInt64, formatInt64),
		DefaultRoomVisibility: New(storage, "server.default_room_visibility", "public", parseString, formatString).
			WithValidator(func(v string) error {
				if v != "public" && v != "private" {
					return fmt.Errorf("default_room_visibility must be \"public\" or \"private\"")
				}
				return nil
			}),
	}
}
