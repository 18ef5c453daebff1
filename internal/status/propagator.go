// Package status computes and broadcasts the soft signals of a room: online
// flags, typing indicators, unread markers and cross-room activity. Nothing
// here is persisted and failures are logged, never returned to clients.
package status

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/listingchat/chat-app/internal/chat"
	"github.com/listingchat/chat-app/internal/presence"
	"github.com/listingchat/chat-app/internal/protocol"
)

// Publisher delivers an encoded event to every connection subscribed to a
// channel except exceptConn, returning the number of recipients.
type Publisher interface {
	Publish(channel string, data []byte, exceptConn string) int
}

// OnlineChecker answers presence queries.
type OnlineChecker interface {
	IsOnline(userID string) bool
}

// DefaultSettleDelay lets a socket leave settle before room membership is
// enumerated for a presence broadcast.
const DefaultSettleDelay = 100 * time.Millisecond

// Propagator emits status events through the transport.
type Propagator struct {
	pub    Publisher
	online OnlineChecker
	rooms  chat.RoomDirectory
	settle time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

// NewPropagator creates a Propagator. A zero settle uses DefaultSettleDelay.
func NewPropagator(pub Publisher, online OnlineChecker, rooms chat.RoomDirectory, settle time.Duration) *Propagator {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Propagator{
		pub:     pub,
		online:  online,
		rooms:   rooms,
		settle:  settle,
		pending: make(map[string]*time.Timer),
	}
}

// ScheduleBroadcast broadcasts the room's online statuses after the settle
// delay. Changes arriving while a broadcast is pending are coalesced into it.
func (p *Propagator) ScheduleBroadcast(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if _, ok := p.pending[roomID]; ok {
		return
	}
	p.pending[roomID] = time.AfterFunc(p.settle, func() {
		p.mu.Lock()
		delete(p.pending, roomID)
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return
		}
		p.BroadcastOnlineStatus(context.Background(), roomID, "")
	})
}

// Stop cancels pending broadcasts and ignores later schedules.
func (p *Propagator) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for id, t := range p.pending {
		t.Stop()
		delete(p.pending, id)
	}
}

// OnlineStatuses maps every participant of the room to their online flag.
func (p *Propagator) OnlineStatuses(ctx context.Context, roomID string) (map[string]bool, error) {
	if roomID == "" {
		return nil, fmt.Errorf("%w: roomId is required", chat.ErrInvalidArgument)
	}
	room, err := p.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return p.statusesOf(room), nil
}

// BroadcastOnlineStatus publishes the room's online statuses to the room
// channel, skipping excludeConn when set.
func (p *Propagator) BroadcastOnlineStatus(ctx context.Context, roomID, excludeConn string) {
	statuses, err := p.OnlineStatuses(ctx, roomID)
	if err != nil {
		log.Printf("[status] online status room=%s: %v", roomID, err)
		return
	}
	p.publish(presence.RoomChannel(roomID), protocol.TypeOnlineStatuses,
		protocol.OnlineStatusesMsg{RoomID: roomID, Statuses: statuses}, excludeConn)
}

// Typing relays a typing indicator to every other connection in the room.
func (p *Propagator) Typing(roomID, userID string, isTyping bool, fromConn string) error {
	if roomID == "" || userID == "" {
		return fmt.Errorf("%w: roomId and userId are required", chat.ErrInvalidArgument)
	}
	p.publish(presence.RoomChannel(roomID), protocol.TypeUserTyping,
		protocol.UserTypingMsg{RoomID: roomID, UserID: userID, IsTyping: isTyping}, fromConn)
	return nil
}

// PushRoomUnread tells each participant, on their personal channel, whether
// the room has unread messages for them.
func (p *Propagator) PushRoomUnread(room *chat.Room) {
	for _, userID := range room.Participants {
		p.publish(presence.UserChannel(userID), protocol.TypeUnreadStatusUpdate,
			protocol.UnreadStatusUpdateMsg{RoomID: room.ID, HasUnread: room.HasUnread(userID)}, "")
	}
}

// PushGlobalUnread counts the user's active rooms with unread messages and
// publishes the total on their personal channel.
func (p *Propagator) PushGlobalUnread(ctx context.Context, userID string) error {
	rooms, err := p.rooms.ListActiveRooms(ctx, userID)
	if err != nil {
		return fmt.Errorf("list active rooms for %s: %w", userID, err)
	}
	count := 0
	for _, r := range rooms {
		if r.HasUnread(userID) {
			count++
		}
	}
	p.publish(presence.UserChannel(userID), protocol.TypeGlobalUnreadUpdate,
		protocol.GlobalUnreadUpdateMsg{HasUnread: count > 0, UnreadCount: count}, "")
	return nil
}

// NotifyActivity tells every participant that the room has new activity.
func (p *Propagator) NotifyActivity(room *chat.Room, at time.Time) {
	for _, userID := range room.Participants {
		p.publish(presence.UserChannel(userID), protocol.TypeNewMessageInAnyRoom,
			protocol.NewMessageInAnyRoomMsg{RoomID: room.ID, Timestamp: at}, "")
	}
}

func (p *Propagator) statusesOf(room *chat.Room) map[string]bool {
	out := make(map[string]bool, len(room.Participants))
	for _, userID := range room.Participants {
		out[userID] = p.online.IsOnline(userID)
	}
	return out
}

func (p *Propagator) publish(channel, eventType string, payload interface{}, exceptConn string) {
	data, err := protocol.NewServerMessage(eventType, payload)
	if err != nil {
		log.Printf("[status] encode %s: %v", eventType, err)
		return
	}
	p.pub.Publish(channel, data, exceptConn)
}
