// Package roomstore is the thin GORM-backed adapter satisfying
// rtmpingest's RoomStore/UserStore/MediaStore collaborators. The room/user/
// media domain model itself (creation, membership, moderation) lives
// outside this core's scope; this package only reads the handful of
// columns C8's publish-authorization check needs, the same way
// internal/settings.Storage reads its Row model via gorm.
package roomstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/synctv-org/synctv-core/internal/rtmpingest"
)

// RoomRow is the subset of the rooms table C8 reads.
type RoomRow struct {
	ID        string `gorm:"primaryKey"`
	Status    string
	CreatorID string
	AdminIDs  []string `gorm:"serializer:json"`
}

func (RoomRow) TableName() string { return "rooms" }

// UserRow is the subset of the users table C8 reads.
type UserRow struct {
	ID      string `gorm:"primaryKey"`
	Status  string
	IsAdmin bool
}

func (UserRow) TableName() string { return "users" }

// MediaRow is the subset of the media table C8 reads.
type MediaRow struct {
	ID        string `gorm:"primaryKey"`
	RoomID    string
	CreatorID string
}

func (MediaRow) TableName() string { return "media" }

// Store implements rtmpingest.RoomStore, rtmpingest.UserStore, and
// rtmpingest.MediaStore over a single *gorm.DB.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (rtmpingest.Room, bool, error) {
	var row RoomRow
	err := s.db.WithContext(ctx).Where("id = ?", roomID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rtmpingest.Room{}, false, nil
	}
	if err != nil {
		return rtmpingest.Room{}, false, err
	}
	admins := make(map[string]bool, len(row.AdminIDs))
	for _, id := range row.AdminIDs {
		admins[id] = true
	}
	return rtmpingest.Room{
		ID:        row.ID,
		Status:    rtmpingest.RoomStatus(row.Status),
		CreatorID: row.CreatorID,
		Admins:    admins,
	}, true, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (rtmpingest.User, bool, error) {
	var row UserRow
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rtmpingest.User{}, false, nil
	}
	if err != nil {
		return rtmpingest.User{}, false, err
	}
	return rtmpingest.User{ID: row.ID, Status: rtmpingest.UserStatus(row.Status), IsAdmin: row.IsAdmin}, true, nil
}

func (s *Store) GetMedia(ctx context.Context, roomID, mediaID string) (rtmpingest.Media, bool, error) {
	var row MediaRow
	err := s.db.WithContext(ctx).Where("id = ? AND room_id = ?", mediaID, roomID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rtmpingest.Media{}, false, nil
	}
	if err != nil {
		return rtmpingest.Media{}, false, err
	}
	return rtmpingest.Media{ID: row.ID, RoomID: row.RoomID, CreatorID: row.CreatorID}, true, nil
}

// ChatMessageRow is the subset of the chat_messages table PruneChatBefore
// deletes against.
type ChatMessageRow struct {
	ID        string `gorm:"primaryKey"`
	RoomID    string
	CreatedAt time.Time
}

func (ChatMessageRow) TableName() string { return "chat_messages" }

// PruneChatBefore implements settings.ChatPruner.
func (s *Store) PruneChatBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&ChatMessageRow{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
