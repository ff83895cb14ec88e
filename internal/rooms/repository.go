// Package rooms stores meeting room metadata in the dual-write store.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/aura-webinar/recordings/internal/models"
	"github.com/aura-webinar/recordings/pkg/apperr"
	"github.com/aura-webinar/recordings/pkg/dualwrite"
)

const roomsPrefix = "rooms/"

var invalidRoomChars = regexp.MustCompile(`[^a-z0-9_]+`)

// Repository persists rooms.
type Repository struct {
	store *dualwrite.Store
}

// NewRepository creates a room repository on store.
func NewRepository(store *dualwrite.Store) *Repository {
	return &Repository{store: store}
}

func roomKey(roomID string) dualwrite.Key {
	return dualwrite.Key{Path: roomsPrefix + roomID + ".json", CacheKey: "room:" + roomID}
}

// Save creates or replaces a room.
func (r *Repository) Save(ctx context.Context, room *models.Room) error {
	return r.store.Save(ctx, roomKey(room.RoomID), room)
}

// Get returns the room or a NotFound error.
func (r *Repository) Get(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	err := r.store.Get(ctx, roomKey(roomID), &room)
	if errors.Is(err, dualwrite.ErrNotFound) {
		return nil, apperr.NotFound("room '%s' not found", roomID)
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// Delete removes the room. Deleting an unknown room is not an error.
func (r *Repository) Delete(ctx context.Context, roomID string) error {
	return r.store.Delete(ctx, roomKey(roomID))
}

// NewRoomID derives a room id from a display name: a sanitized prefix plus a random token.
func NewRoomID(roomName string) string {
	prefix := invalidRoomChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(roomName)), "_")
	prefix = strings.Trim(prefix, "_")
	if len(prefix) > 32 {
		prefix = prefix[:32]
	}
	if prefix == "" {
		prefix = "room"
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s", prefix, token)
}
