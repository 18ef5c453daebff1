// Package memory provides an in-process implementation of the chat
// persistence collaborators. It backs local development (STORE_BACKEND=memory)
// and the core service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/listingchat/chat-app/internal/chat"
)

// Store keeps rooms, conversations and profiles in maps. Values are cloned on
// the way in and out so callers never share memory with the store.
type Store struct {
	mu            sync.RWMutex
	rooms         map[string]*chat.Room
	conversations map[string]*chat.Conversation
	profiles      map[string]*chat.Profile

	// FailSaves makes every Save* call fail; used to simulate store outages.
	FailSaves bool
}

var _ chat.Store = (*Store)(nil)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		rooms:         make(map[string]*chat.Room),
		conversations: make(map[string]*chat.Conversation),
		profiles:      make(map[string]*chat.Profile),
	}
}

// GetRoom returns a copy of the room.
func (s *Store) GetRoom(_ context.Context, roomID string) (*chat.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", chat.ErrNotFound, roomID)
	}
	return r.Clone(), nil
}

// SaveRoom upserts the room.
func (s *Store) SaveRoom(_ context.Context, r *chat.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves {
		return fmt.Errorf("%w: memory store: saves disabled", chat.ErrInternal)
	}
	s.rooms[r.ID] = r.Clone()
	return nil
}

// ListActiveRooms returns the active rooms userID participates in, newest
// activity first.
func (s *Store) ListActiveRooms(_ context.Context, userID string) ([]*chat.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*chat.Room
	for _, r := range s.rooms {
		if r.Status == chat.RoomActive && r.IsParticipant(userID) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// GetConversation returns a copy of the room's conversation.
func (s *Store) GetConversation(_ context.Context, roomID string) (*chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: conversation %s", chat.ErrNotFound, roomID)
	}
	return c.Clone(), nil
}

// SaveConversation upserts the conversation document.
func (s *Store) SaveConversation(_ context.Context, c *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves {
		return fmt.Errorf("%w: memory store: saves disabled", chat.ErrInternal)
	}
	s.conversations[c.RoomID] = c.Clone()
	return nil
}

// GetProfile returns the stored profile.
func (s *Store) GetProfile(_ context.Context, userID string) (*chat.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", chat.ErrNotFound, userID)
	}
	cp := *p
	return &cp, nil
}

// PutProfile stores a profile. Profiles are owned by the surrounding
// marketplace, so this only exists for seeding.
func (s *Store) PutProfile(p chat.Profile) {
	s.mu.Lock()
	s.profiles[p.ID] = &p
	s.mu.Unlock()
}
