package router

import (
	"context"
	"fmt"

	"github.com/listingchat/chat-app/internal/chat"
	"github.com/listingchat/chat-app/internal/metrics"
	"github.com/listingchat/chat-app/internal/protocol"
)

// MarkSeen records that userID has read the room and flips every message
// from other participants that is still sent to seen. It returns the ids
// that changed; nothing is persisted or broadcast when none did.
func (r *Router) MarkSeen(ctx context.Context, roomID, userID string) ([]string, error) {
	if err := required("roomId", roomID, "userId", userID); err != nil {
		return nil, err
	}

	unlock := r.locks.lock(roomID)
	room, ids, readChanged, err := r.persistSeen(ctx, roomID, userID)
	unlock()
	if err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		metrics.MessagesTotal.WithLabelValues("seen").Add(float64(len(ids)))
		r.broadcast(roomID, protocol.TypeMessagesMarkedAsSeen, protocol.MessagesMarkedAsSeenMsg{
			RoomID:     roomID,
			MessageIDs: ids,
			SeenBy:     userID,
			Timestamp:  r.now(),
		})
	}
	if readChanged {
		r.submit("read-unread:"+roomID, func(ctx context.Context) error {
			r.status.PushRoomUnread(room)
			return r.status.PushGlobalUnread(ctx, userID)
		})
	}
	return ids, nil
}

func (r *Router) persistSeen(ctx context.Context, roomID, userID string) (*chat.Room, []string, bool, error) {
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, nil, false, err
	}
	if !room.IsParticipant(userID) {
		return nil, nil, false, fmt.Errorf("%w: %s is not a participant of room %s", chat.ErrUnauthorized, userID, roomID)
	}
	conv, err := r.loadConversation(ctx, roomID)
	if err != nil {
		return nil, nil, false, err
	}

	ids := conv.MarkSeenBy(userID)
	if len(ids) > 0 {
		if err := r.store.SaveConversation(ctx, conv); err != nil {
			return nil, nil, false, err
		}
	}
	readChanged := room.MarkRead(userID)
	if readChanged {
		if err := r.store.SaveRoom(ctx, room); err != nil {
			return nil, nil, false, err
		}
	}
	return room, ids, readChanged, nil
}

// SetStatus updates a single message's delivery status on behalf of a
// receiving participant. Only sent -> seen is accepted; a regression is
// rejected and a repeat is a silent no-op.
func (r *Router) SetStatus(ctx context.Context, roomID, messageID, statusValue, userID string) error {
	if err := required("roomId", roomID, "messageId", messageID, "status", statusValue, "userId", userID); err != nil {
		return err
	}
	want := chat.Status(statusValue)
	if want != chat.StatusSent && want != chat.StatusSeen {
		return fmt.Errorf("%w: unknown status %q", chat.ErrInvalidArgument, statusValue)
	}

	unlock := r.locks.lock(roomID)
	changed, err := r.persistStatus(ctx, roomID, messageID, want, userID)
	unlock()
	if err != nil || !changed {
		return err
	}

	r.broadcast(roomID, protocol.TypeMessageStatusUpdate, protocol.MessageStatusUpdateMsg{
		RoomID:    roomID,
		MessageID: messageID,
		Status:    want,
		UpdatedBy: userID,
	})
	return nil
}

func (r *Router) persistStatus(ctx context.Context, roomID, messageID string, want chat.Status, userID string) (bool, error) {
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	if !room.IsParticipant(userID) {
		return false, fmt.Errorf("%w: %s is not a participant of room %s", chat.ErrUnauthorized, userID, roomID)
	}
	conv, err := r.store.GetConversation(ctx, roomID)
	if err != nil {
		return false, err
	}
	i := conv.Index(messageID)
	if i < 0 {
		return false, fmt.Errorf("%w: message %s", chat.ErrNotFound, messageID)
	}
	m := &conv.Messages[i]
	if m.SenderID == userID {
		return false, fmt.Errorf("%w: only the receiver can change a message status", chat.ErrUnauthorized)
	}
	if m.Status == want {
		return false, nil
	}
	if m.Status == chat.StatusSeen && want == chat.StatusSent {
		return false, fmt.Errorf("%w: status cannot move from seen back to sent", chat.ErrInvalidArgument)
	}
	m.Status = want
	if err := r.store.SaveConversation(ctx, conv); err != nil {
		return false, err
	}
	return true, nil
}
