package router

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/listingchat/chat-app/internal/chat"
	"github.com/listingchat/chat-app/internal/metrics"
	"github.com/listingchat/chat-app/internal/notify"
	"github.com/listingchat/chat-app/internal/protocol"
)

// SendRequest is one sendMessage call.
type SendRequest struct {
	RoomID     string
	SenderID   string
	SenderRole string
	Kind       string
	OptionID   string
	OptionText string
	Text       string
	NextState  string
	TempID     string
}

// Send validates, persists and broadcasts a message. Validation runs in a
// fixed order: required fields, rate limit, then the kind-specific payload.
// A send either fails before any broadcast or is fully delivered to the room.
func (r *Router) Send(ctx context.Context, req SendRequest) (*chat.Message, error) {
	start := r.now()
	msg, err := r.send(ctx, req)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	metrics.SendLatency.Observe(r.now().Sub(start).Seconds())
	return msg, nil
}

func (r *Router) send(ctx context.Context, req SendRequest) (*chat.Message, error) {
	if err := required("roomId", req.RoomID, "sender", req.SenderID, "senderRole", req.SenderRole); err != nil {
		return nil, err
	}
	role := chat.Role(req.SenderRole)
	if role != chat.RoleInquirer && role != chat.RoleOwner {
		return nil, fmt.Errorf("%w: unknown senderRole %q", chat.ErrInvalidArgument, req.SenderRole)
	}

	// The sender lock spans the quota check through the record so concurrent
	// sends of one user cannot both pass Allow on the last free slot.
	release := r.senders.lock(req.SenderID)
	room, conv, msg, err := r.acceptSend(ctx, req)
	release()
	if err != nil {
		return nil, err
	}

	r.broadcast(room.ID, protocol.TypeNewMessage, protocol.NewMessageMsg{
		RoomID:    room.ID,
		Message:   msg,
		NextState: conv.CurrentState,
		TempID:    req.TempID,
	})

	r.cascade(room, msg)
	return &msg, nil
}

// acceptSend checks the sender's quota and payload, persists the message and
// records the send. Caller holds the sender lock.
func (r *Router) acceptSend(ctx context.Context, req SendRequest) (*chat.Room, *chat.Conversation, chat.Message, error) {
	allowed, err := r.limiter.Allow(ctx, req.SenderID)
	if err != nil {
		log.Printf("[router] rate limiter check user=%s: %v", req.SenderID, err)
	}
	if !allowed {
		return nil, nil, chat.Message{}, fmt.Errorf("%w: too many messages, slow down", chat.ErrRateLimited)
	}

	draft := chat.Message{SenderID: req.SenderID, Kind: chat.Kind(req.Kind)}
	switch draft.Kind {
	case chat.KindOption:
		if err := chat.ValidateOption(req.OptionID, req.OptionText); err != nil {
			return nil, nil, chat.Message{}, err
		}
		draft.OptionID = req.OptionID
		draft.OptionText = req.OptionText
		draft.NextState = req.NextState
	case chat.KindFreetext:
		text, err := chat.ValidateText(req.Text)
		if err != nil {
			return nil, nil, chat.Message{}, err
		}
		draft.Text = text
	default:
		return nil, nil, chat.Message{}, fmt.Errorf("%w: unknown messageType %q", chat.ErrInvalidArgument, req.Kind)
	}

	unlock := r.locks.lock(req.RoomID)
	room, conv, msg, err := r.persistSend(ctx, req.RoomID, draft)
	unlock()
	if err != nil {
		return nil, nil, chat.Message{}, err
	}

	if err := r.limiter.Record(ctx, req.SenderID); err != nil {
		log.Printf("[router] rate limiter record user=%s: %v", req.SenderID, err)
	}
	return room, conv, msg, nil
}

// persistSend runs the read-modify-append-persist sequence. Caller holds the
// room lock.
func (r *Router) persistSend(ctx context.Context, roomID string, draft chat.Message) (*chat.Room, *chat.Conversation, chat.Message, error) {
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, nil, chat.Message{}, err
	}
	if !room.IsParticipant(draft.SenderID) {
		return nil, nil, chat.Message{}, fmt.Errorf("%w: %s is not a participant of room %s",
			chat.ErrUnauthorized, draft.SenderID, roomID)
	}
	conv, err := r.loadConversation(ctx, roomID)
	if err != nil {
		return nil, nil, chat.Message{}, err
	}

	draft.SenderRole = room.RoleOf(draft.SenderID)
	draft.CreatedAt = r.now()
	if draft.Kind == chat.KindOption && draft.NextState == "" {
		draft.NextState = conv.CurrentState
	}
	msg := conv.Append(draft)
	room.ApplyNewMessage(&msg)

	if err := r.store.SaveConversation(ctx, conv); err != nil {
		return nil, nil, chat.Message{}, err
	}
	if err := r.store.SaveRoom(ctx, room); err != nil {
		return nil, nil, chat.Message{}, err
	}
	return room, conv, msg, nil
}

// cascade queues the soft side effects of a new message. Each concern runs as
// its own task so one failure never hides another.
func (r *Router) cascade(room *chat.Room, msg chat.Message) {
	r.submit("activity:"+room.ID, func(ctx context.Context) error {
		r.status.NotifyActivity(room, msg.CreatedAt)
		r.status.PushRoomUnread(room)
		return nil
	})
	for _, userID := range room.Participants {
		userID := userID
		r.submit("global-unread:"+userID, func(ctx context.Context) error {
			return r.status.PushGlobalUnread(ctx, userID)
		})
		if userID == msg.SenderID || r.presence.InRoom(userID, room.ID) {
			continue
		}
		r.submit("push:"+userID, func(ctx context.Context) error {
			return r.pushTo(ctx, room, msg, userID)
		})
	}
}

// pushTo dispatches a push notification to an absent participant, honouring
// their notification preference.
func (r *Router) pushTo(ctx context.Context, room *chat.Room, msg chat.Message, recipientID string) error {
	recipient, err := r.profiles.GetProfile(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("recipient profile %s: %w", recipientID, err)
	}
	if !recipient.NotificationsEnabled || recipient.PushToken == "" {
		metrics.PushTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	senderName := "New message"
	var avatar string
	if sender, err := r.profiles.GetProfile(ctx, msg.SenderID); err == nil {
		if sender.Name != "" {
			senderName = sender.Name
		}
		avatar = sender.Avatar
	}

	n := notify.Notification{
		SenderName:   senderName,
		Message:      chat.Truncate(msg.Body(), chat.MaxPushChars),
		SenderAvatar: avatar,
		RoomID:       room.ID,
		SenderID:     msg.SenderID,
		Metadata: map[string]string{
			"type":      "chat_message",
			"messageId": msg.ID,
			"listingId": room.ListingID,
			"sentAt":    msg.CreatedAt.Format(time.RFC3339),
		},
	}
	if err := r.push.Dispatch(ctx, recipient.PushToken, n); err != nil {
		return fmt.Errorf("dispatch push to %s: %w", recipientID, err)
	}
	return nil
}
