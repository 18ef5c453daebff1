// Package presence tracks which users are online, which connection currently
// represents each user and which rooms each user occupies. State is kept in
// memory only and is owned by a single Registry built at process start.
package presence

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/listingchat/chat-app/internal/chat"
	"github.com/listingchat/chat-app/internal/metrics"
)

// Channels is the subscription side of the transport. Room and personal
// channels are named with RoomChannel and UserChannel.
type Channels interface {
	Subscribe(connID, channel string)
	Unsubscribe(connID, channel string)
}

// RoomChannel returns the broadcast channel of a room.
func RoomChannel(roomID string) string { return "room:" + roomID }

// UserChannel returns the personal channel of a user.
func UserChannel(userID string) string { return "user:" + userID }

// Snapshot is a point-in-time copy of the registry for diagnostics.
type Snapshot struct {
	Online      map[string]string   `json:"online"`      // user -> current connection
	Connections map[string]string   `json:"connections"` // connection -> user
	Rooms       map[string][]string `json:"rooms"`       // user -> joined rooms
}

// Registry is the in-memory presence state. All methods are safe for
// concurrent use.
type Registry struct {
	channels Channels
	rooms    chat.RoomDirectory

	mu        sync.RWMutex
	online    map[string]string
	connUser  map[string]string
	userRooms map[string]map[string]struct{}

	onChange func(roomID string)
}

// NewRegistry creates an empty registry.
func NewRegistry(channels Channels, rooms chat.RoomDirectory) *Registry {
	return &Registry{
		channels:  channels,
		rooms:     rooms,
		online:    make(map[string]string),
		connUser:  make(map[string]string),
		userRooms: make(map[string]map[string]struct{}),
		onChange:  func(string) {},
	}
}

// OnChange sets the hook invoked for every room whose presence changed. The
// status propagator installs its delayed broadcast here.
func (r *Registry) OnChange(fn func(roomID string)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// RegisterOnline records connID as the user's current connection. The latest
// registration wins. Rooms the user already occupies are notified.
func (r *Registry) RegisterOnline(userID, connID string) error {
	if userID == "" || connID == "" {
		return fmt.Errorf("%w: userId and connection are required", chat.ErrInvalidArgument)
	}
	r.mu.Lock()
	prev := r.online[userID]
	r.online[userID] = connID
	r.connUser[connID] = userID
	affected := r.roomsOfLocked(userID)
	hook := r.onChange
	metrics.OnlineUsers.Set(float64(len(r.online)))
	r.mu.Unlock()

	if prev != connID {
		log.Printf("[presence] user=%s online conn=%s", userID, connID)
	}
	for _, roomID := range affected {
		hook(roomID)
	}
	return nil
}

// JoinPersonalChannel subscribes connID to the user's personal channel and
// marks the user online.
func (r *Registry) JoinPersonalChannel(userID, connID string) error {
	if err := r.RegisterOnline(userID, connID); err != nil {
		return err
	}
	r.channels.Subscribe(connID, UserChannel(userID))
	return nil
}

// LeavePersonalChannel unsubscribes connID from the user's personal channel.
func (r *Registry) LeavePersonalChannel(userID, connID string) error {
	if userID == "" || connID == "" {
		return fmt.Errorf("%w: userId and connection are required", chat.ErrInvalidArgument)
	}
	r.channels.Unsubscribe(connID, UserChannel(userID))
	return nil
}

// JoinRoom subscribes connID to the room channel, adds the room to the user's
// membership set and marks the user online. The room must exist.
func (r *Registry) JoinRoom(ctx context.Context, roomID, userID, connID string) error {
	if roomID == "" || userID == "" || connID == "" {
		return fmt.Errorf("%w: roomId and userId are required", chat.ErrInvalidArgument)
	}
	if _, err := r.rooms.GetRoom(ctx, roomID); err != nil {
		return err
	}

	r.channels.Subscribe(connID, RoomChannel(roomID))

	r.mu.Lock()
	set, ok := r.userRooms[userID]
	if !ok {
		set = make(map[string]struct{})
		r.userRooms[userID] = set
	}
	set[roomID] = struct{}{}
	r.online[userID] = connID
	r.connUser[connID] = userID
	hook := r.onChange
	metrics.OnlineUsers.Set(float64(len(r.online)))
	r.mu.Unlock()

	log.Printf("[presence] user=%s joined room=%s conn=%s", userID, roomID, connID)
	hook(roomID)
	return nil
}

// LeaveRoom unsubscribes connID from the room channel and removes the room
// from the user's membership, pruning the entry once it is empty.
func (r *Registry) LeaveRoom(roomID, userID, connID string) error {
	if roomID == "" || userID == "" {
		return fmt.Errorf("%w: roomId and userId are required", chat.ErrInvalidArgument)
	}
	if connID != "" {
		r.channels.Unsubscribe(connID, RoomChannel(roomID))
	}

	r.mu.Lock()
	if set, ok := r.userRooms[userID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(r.userRooms, userID)
		}
	}
	hook := r.onChange
	r.mu.Unlock()

	hook(roomID)
	return nil
}

// IsOnline reports whether the user has a registered connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[userID]
	return ok
}

// UserOf returns the user bound to connID.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.connUser[connID]
	return u, ok
}

// InRoom reports whether the user currently occupies the room.
func (r *Registry) InRoom(userID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.userRooms[userID][roomID]
	return ok
}

// OnlineCount returns the number of online users.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.online)
}

// OnDisconnect drops connID. If it is still the user's current connection the
// user goes offline and every room they occupied is notified; a stale
// connection leaves the user's presence untouched.
func (r *Registry) OnDisconnect(connID string) {
	r.mu.Lock()
	userID, ok := r.connUser[connID]
	delete(r.connUser, connID)
	if !ok || r.online[userID] != connID {
		r.mu.Unlock()
		if ok {
			log.Printf("[presence] stale disconnect user=%s conn=%s ignored", userID, connID)
		}
		return
	}
	delete(r.online, userID)
	affected := r.roomsOfLocked(userID)
	delete(r.userRooms, userID)
	hook := r.onChange
	metrics.OnlineUsers.Set(float64(len(r.online)))
	r.mu.Unlock()

	log.Printf("[presence] user=%s offline conn=%s rooms=%d", userID, connID, len(affected))
	for _, roomID := range affected {
		hook(roomID)
	}
}

// Snapshot copies the current state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Snapshot{
		Online:      make(map[string]string, len(r.online)),
		Connections: make(map[string]string, len(r.connUser)),
		Rooms:       make(map[string][]string, len(r.userRooms)),
	}
	for u, c := range r.online {
		s.Online[u] = c
	}
	for c, u := range r.connUser {
		s.Connections[c] = u
	}
	for u := range r.userRooms {
		s.Rooms[u] = r.roomsOfLocked(u)
	}
	return s
}

// roomsOfLocked returns the user's rooms sorted. Caller holds mu.
func (r *Registry) roomsOfLocked(userID string) []string {
	set := r.userRooms[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
