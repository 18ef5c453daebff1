package chat

import "context"

// ConversationStore persists one Conversation document per room.
// GetConversation returns an error wrapping ErrNotFound when none exists.
type ConversationStore interface {
	GetConversation(ctx context.Context, roomID string) (*Conversation, error)
	SaveConversation(ctx context.Context, c *Conversation) error
}

// RoomDirectory persists room metadata. GetRoom returns an error wrapping
// ErrNotFound for unknown rooms.
type RoomDirectory interface {
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	SaveRoom(ctx context.Context, r *Room) error
	ListActiveRooms(ctx context.Context, userID string) ([]*Room, error)
}

// Profile is the read-only view of a marketplace user the chat core needs.
type Profile struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Avatar               string `json:"avatar"`
	Phone                string `json:"phone"`
	PushToken            string `json:"pushToken"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
}

// UserDirectory resolves user profiles.
type UserDirectory interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// Store bundles the persistence collaborators of the chat core.
type Store interface {
	ConversationStore
	RoomDirectory
	UserDirectory
}
