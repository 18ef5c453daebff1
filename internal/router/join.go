package router

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/listingchat/chat-app/internal/chat"
	"github.com/listingchat/chat-app/internal/protocol"
)

// Admit checks that userID may enter the room without reading the
// conversation.
func (r *Router) Admit(ctx context.Context, roomID, userID string) error {
	if err := required("roomId", roomID, "userId", userID); err != nil {
		return err
	}
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsParticipant(userID) {
		return fmt.Errorf("%w: %s is not a participant of room %s", chat.ErrUnauthorized, userID, roomID)
	}
	return nil
}

// Join builds the initialData snapshot for userID entering the room: every
// stored message flagged fromMe, the flow state, the user's role and the
// participants' online statuses. Callers subscribe the connection first so a
// message persisted during the read still reaches it by broadcast.
func (r *Router) Join(ctx context.Context, roomID, userID string) (*protocol.InitialDataMsg, error) {
	if err := r.Admit(ctx, roomID, userID); err != nil {
		return nil, err
	}
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	conv, err := r.loadConversation(ctx, roomID)
	if err != nil {
		return nil, err
	}

	views := make([]protocol.MessageView, len(conv.Messages))
	for i, m := range conv.Messages {
		views[i] = protocol.MessageView{Message: m, FromMe: m.SenderID == userID}
	}

	statuses, err := r.status.OnlineStatuses(ctx, roomID)
	if err != nil {
		return nil, err
	}
	statuses[userID] = true

	return &protocol.InitialDataMsg{
		Messages:         views,
		CurrentState:     conv.CurrentState,
		UserRole:         room.RoleOf(userID),
		ConversationMode: conv.Mode,
		RoomInfo:         room,
		OnlineStatuses:   statuses,
		OwnerPhone:       r.ownerPhone(ctx, room),
	}, nil
}

// AnnounceJoin tells the rest of the room that userID arrived. When the owner
// joins, the room also receives the owner's phone number.
func (r *Router) AnnounceJoin(roomID, userID, connID string, initial *protocol.InitialDataMsg) {
	r.broadcastExcept(roomID, protocol.TypeUserJoinedRoom, protocol.UserJoinedRoomMsg{
		RoomID:    roomID,
		UserID:    userID,
		Timestamp: r.now(),
	}, connID)
	if initial.UserRole == chat.RoleOwner && initial.OwnerPhone != "" {
		r.broadcast(roomID, protocol.TypeOwnerPhoneUpdate, protocol.OwnerPhoneUpdateMsg{
			RoomID:     roomID,
			OwnerPhone: initial.OwnerPhone,
		})
	}
}

func (r *Router) ownerPhone(ctx context.Context, room *chat.Room) string {
	ownerID := room.OwnerID()
	if ownerID == "" {
		return ""
	}
	p, err := r.profiles.GetProfile(ctx, ownerID)
	if err != nil {
		if !errors.Is(err, chat.ErrNotFound) {
			log.Printf("[router] owner profile room=%s: %v", room.ID, err)
		}
		return ""
	}
	return p.Phone
}
