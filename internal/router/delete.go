package router

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/listingchat/chat-app/internal/chat"
	"github.com/listingchat/chat-app/internal/metrics"
	"github.com/listingchat/chat-app/internal/protocol"
)

// matchTolerance is how far a client timestamp may drift from the stored one
// and still identify the same message.
const matchTolerance = time.Second

// DeleteRequest is one deleteMessage call.
type DeleteRequest struct {
	RoomID      string
	RequesterID string
	Ref         protocol.MessageRef
}

// DeleteMessage hard-deletes one of the requester's own messages. When the
// deleted message was the newest, the room's last-message summary is rebuilt
// from the new tail.
func (r *Router) DeleteMessage(ctx context.Context, req DeleteRequest) (*chat.Message, error) {
	if err := required("roomId", req.RoomID, "userId", req.RequesterID); err != nil {
		return nil, err
	}
	if req.Ref.ID == "" && (req.Ref.Sender == "" || req.Ref.Timestamp.IsZero()) {
		return nil, fmt.Errorf("%w: messageIdentifier needs an id or sender and timestamp", chat.ErrInvalidArgument)
	}

	unlock := r.locks.lock(req.RoomID)
	removed, err := r.persistDelete(ctx, req)
	unlock()
	if err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues("deleted").Inc()

	now := r.now()
	r.broadcast(req.RoomID, protocol.TypeMessageDeleted, protocol.MessageDeletedMsg{
		MessageID: removed.ID,
		RoomID:    req.RoomID,
		DeletedBy: req.RequesterID,
		Timestamp: now,
	})
	r.submit("activity:"+req.RoomID, func(ctx context.Context) error {
		room, err := r.store.GetRoom(ctx, req.RoomID)
		if err != nil {
			return err
		}
		r.status.NotifyActivity(room, now)
		return nil
	})
	return &removed, nil
}

func (r *Router) persistDelete(ctx context.Context, req DeleteRequest) (chat.Message, error) {
	conv, err := r.store.GetConversation(ctx, req.RoomID)
	if err != nil {
		return chat.Message{}, err
	}
	i := findMessage(conv, req.Ref)
	if i < 0 {
		return chat.Message{}, fmt.Errorf("%w: message not found in room %s", chat.ErrNotFound, req.RoomID)
	}
	if conv.Messages[i].SenderID != req.RequesterID {
		return chat.Message{}, fmt.Errorf("%w: only the sender can delete a message", chat.ErrUnauthorized)
	}

	removed, wasTail := conv.Remove(i)
	conv.UpdatedAt = r.now()
	if err := r.store.SaveConversation(ctx, conv); err != nil {
		return chat.Message{}, err
	}

	if wasTail {
		room, err := r.store.GetRoom(ctx, req.RoomID)
		if err != nil {
			return chat.Message{}, err
		}
		room.RecomputeLast(conv, r.now())
		room.HasMessages = len(conv.Messages) > 0
		if err := r.store.SaveRoom(ctx, room); err != nil {
			return chat.Message{}, err
		}
	}
	log.Printf("[router] message %s deleted from room=%s by=%s", removed.ID, req.RoomID, req.RequesterID)
	return removed, nil
}

// findMessage resolves ref by persisted id first, then by content: same
// sender and kind, equal truncated body, timestamps within matchTolerance.
func findMessage(conv *chat.Conversation, ref protocol.MessageRef) int {
	if ref.ID != "" {
		if i := conv.Index(ref.ID); i >= 0 {
			return i
		}
	}
	if ref.Sender == "" || ref.Timestamp.IsZero() {
		return -1
	}
	body := ref.Text
	if chat.Kind(ref.MessageType) == chat.KindOption {
		body = ref.OptionText
	}
	want := chat.Truncate(body, chat.DeleteMatchChars)
	for i := range conv.Messages {
		m := &conv.Messages[i]
		if m.SenderID != ref.Sender || string(m.Kind) != ref.MessageType {
			continue
		}
		if chat.Truncate(m.Body(), chat.DeleteMatchChars) != want {
			continue
		}
		d := m.CreatedAt.Sub(ref.Timestamp)
		if d < 0 {
			d = -d
		}
		if d <= matchTolerance {
			return i
		}
	}
	return -1
}
