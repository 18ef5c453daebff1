// Package protocol defines the WebSocket events exchanged between chat
// clients and the server. Every frame is a JSON envelope of the form
// {"type": "<event>", "data": <payload>}; this package owns the decoding of
// client payloads into typed requests and the encoding of server events.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/listingchat/chat-app/internal/chat"
)

// ---------------------------------------------------------------------------
// Event names
// ---------------------------------------------------------------------------

// Client -> Server events.
const (
	TypeUserOnline      = "userOnline"
	TypeJoinUserRoom    = "joinUserRoom"
	TypeLeaveUserRoom   = "leaveUserRoom"
	TypeJoinRoom        = "joinRoom"
	TypeLeaveRoom       = "leaveRoom"
	TypeSendMessage     = "sendMessage"
	TypeMarkAsRead      = "markAsRead"
	TypeGetOnlineStatus = "getOnlineStatus"
	TypeDeleteMessage   = "deleteMessage"
	TypeMessageStatus   = "messageStatus"
	TypeTyping          = "typing"
	TypePing            = "ping"
)

// Server -> Client events.
const (
	TypeConnected            = "connected"
	TypeInitialData          = "initialData"
	TypeOwnerPhoneUpdate     = "ownerPhoneUpdate"
	TypeUserJoinedRoom       = "userJoinedRoom"
	TypeOnlineStatuses       = "onlineStatuses"
	TypeNewMessage           = "newMessage"
	TypeUnreadStatusUpdate   = "unreadStatusUpdate"
	TypeGlobalUnreadUpdate   = "globalUnreadUpdate"
	TypeNewMessageInAnyRoom  = "newMessageInAnyRoom"
	TypeMessagesMarkedAsSeen = "messagesMarkedAsSeen"
	TypeMessageDeleted       = "messageDeleted"
	TypeMessageStatusUpdate  = "messageStatusUpdate"
	TypeUserTyping           = "userTyping"
	TypeError                = "error"
	TypePong                 = "pong"
)

// Envelope is the outer frame of every message in both directions. Data is
// kept raw on the way in so it can be decoded once the type is known.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ---------------------------------------------------------------------------
// Client -> Server payloads
// ---------------------------------------------------------------------------

// UserOnlineMsg marks the connection's user as online.
type UserOnlineMsg struct {
	UserID string `json:"userId"`
}

// JoinUserRoomMsg subscribes the connection to the user's personal channel.
type JoinUserRoomMsg struct {
	UserID string `json:"userId"`
}

// LeaveUserRoomMsg unsubscribes from the personal channel.
type LeaveUserRoomMsg struct {
	UserID string `json:"userId"`
}

// JoinRoomMsg enters a chat room and requests its initial data.
type JoinRoomMsg struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// LeaveRoomMsg leaves a chat room.
type LeaveRoomMsg struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// SendMessageMsg posts an option or freetext message to a room.
type SendMessageMsg struct {
	RoomID      string `json:"roomId"`
	Sender      string `json:"sender"`
	OptionID    string `json:"optionId,omitempty"`
	OptionText  string `json:"optionText,omitempty"`
	Text        string `json:"text,omitempty"`
	MessageType string `json:"messageType"`
	NextState   string `json:"nextState,omitempty"`
	SenderRole  string `json:"senderRole"`
	TempID      string `json:"tempId"`
}

// MarkAsReadMsg acknowledges every message in a room. Older clients send only
// the room id as a bare JSON string; Legacy is set in that case and UserID is
// left empty for the caller to resolve from the connection.
type MarkAsReadMsg struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Legacy bool   `json:"-"`
}

// UnmarshalJSON accepts either {"roomId":..,"userId":..} or "roomId".
func (m *MarkAsReadMsg) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var roomID string
		if err := json.Unmarshal(data, &roomID); err != nil {
			return err
		}
		*m = MarkAsReadMsg{RoomID: roomID, Legacy: true}
		return nil
	}
	type plain MarkAsReadMsg
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = MarkAsReadMsg(p)
	return nil
}

// GetOnlineStatusMsg asks for the online status of a room's participants.
type GetOnlineStatusMsg struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// MessageRef identifies a message for deletion. ID is the persisted id when
// the client has it; the remaining fields allow a content match otherwise.
type MessageRef struct {
	ID          string    `json:"id,omitempty"`
	Sender      string    `json:"sender"`
	MessageType string    `json:"messageType"`
	OptionText  string    `json:"optionText,omitempty"`
	Text        string    `json:"text,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// DeleteMessageMsg asks to hard-delete one of the user's own messages.
type DeleteMessageMsg struct {
	RoomID            string     `json:"roomId"`
	MessageIdentifier MessageRef `json:"messageIdentifier"`
	UserID            string     `json:"userId"`
}

// MessageStatusMsg sets a single message's delivery status.
type MessageStatusMsg struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// TypingMsg relays a typing indicator.
type TypingMsg struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// PingMsg is a client keepalive.
type PingMsg struct{}

// ---------------------------------------------------------------------------
// Server -> Client payloads
// ---------------------------------------------------------------------------

// ConnectedMsg is sent right after the upgrade.
type ConnectedMsg struct {
	ConnectionID string `json:"connectionId"`
}

// MessageView is a persisted message as seen by one user.
type MessageView struct {
	chat.Message
	FromMe bool `json:"fromMe"`
}

// InitialDataMsg is the full room snapshot returned on joinRoom.
type InitialDataMsg struct {
	Messages         []MessageView   `json:"messages"`
	CurrentState     string          `json:"currentState"`
	UserRole         chat.Role       `json:"userRole"`
	ConversationMode chat.Mode       `json:"conversationMode"`
	RoomInfo         *chat.Room      `json:"roomInfo"`
	OnlineStatuses   map[string]bool `json:"onlineStatuses"`
	OwnerPhone       string          `json:"ownerPhone,omitempty"`
}

// OwnerPhoneUpdateMsg tells the room the owner's contact number.
type OwnerPhoneUpdateMsg struct {
	RoomID     string `json:"roomId"`
	OwnerPhone string `json:"ownerPhone"`
}

// UserJoinedRoomMsg announces a participant entering the room.
type UserJoinedRoomMsg struct {
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// OnlineStatusesMsg maps each participant of a room to their online flag.
type OnlineStatusesMsg struct {
	RoomID   string          `json:"roomId"`
	Statuses map[string]bool `json:"statuses"`
}

// NewMessageMsg carries a freshly persisted message to the room.
type NewMessageMsg struct {
	RoomID    string       `json:"roomId"`
	Message   chat.Message `json:"message"`
	NextState string       `json:"nextState"`
	TempID    string       `json:"tempId,omitempty"`
}

// UnreadStatusUpdateMsg is delivered on a user's personal channel.
type UnreadStatusUpdateMsg struct {
	RoomID    string `json:"roomId"`
	HasUnread bool   `json:"hasUnread"`
}

// GlobalUnreadUpdateMsg summarises unread rooms across all active rooms.
type GlobalUnreadUpdateMsg struct {
	HasUnread   bool `json:"hasUnread"`
	UnreadCount int  `json:"unreadCount"`
}

// NewMessageInAnyRoomMsg signals activity in one of the user's rooms.
type NewMessageInAnyRoomMsg struct {
	RoomID    string    `json:"roomId"`
	Timestamp time.Time `json:"timestamp"`
}

// MessagesMarkedAsSeenMsg lists the ids that flipped to seen.
type MessagesMarkedAsSeenMsg struct {
	RoomID     string    `json:"roomId"`
	MessageIDs []string  `json:"messageIds"`
	SeenBy     string    `json:"seenBy"`
	Timestamp  time.Time `json:"timestamp"`
}

// MessageDeletedMsg announces a hard delete.
type MessageDeletedMsg struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	DeletedBy string    `json:"deletedBy"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageStatusUpdateMsg announces a single message status change.
type MessageStatusUpdateMsg struct {
	RoomID    string      `json:"roomId"`
	MessageID string      `json:"messageId"`
	Status    chat.Status `json:"status"`
	UpdatedBy string      `json:"updatedBy"`
}

// UserTypingMsg relays a typing indicator to the rest of the room.
type UserTypingMsg struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorMsg reports a failed request to the originating connection.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the event type, the decoded struct and any parsing error.
// Unknown or server-only events are an error.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("protocol: missing or empty \"type\" field")
	}

	var msg interface{}
	switch env.Type {
	case TypeUserOnline:
		msg = &UserOnlineMsg{}
	case TypeJoinUserRoom:
		msg = &JoinUserRoomMsg{}
	case TypeLeaveUserRoom:
		msg = &LeaveUserRoomMsg{}
	case TypeJoinRoom:
		msg = &JoinRoomMsg{}
	case TypeLeaveRoom:
		msg = &LeaveRoomMsg{}
	case TypeSendMessage:
		msg = &SendMessageMsg{}
	case TypeMarkAsRead:
		msg = &MarkAsReadMsg{}
	case TypeGetOnlineStatus:
		msg = &GetOnlineStatusMsg{}
	case TypeDeleteMessage:
		msg = &DeleteMessageMsg{}
	case TypeMessageStatus:
		msg = &MessageStatusMsg{}
	case TypeTyping:
		msg = &TypingMsg{}
	case TypePing:
		return env.Type, PingMsg{}, nil
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return env.Type, nil, fmt.Errorf("protocol: %q requires a data payload", env.Type)
	}
	if err := json.Unmarshal(env.Data, msg); err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, deref(msg), nil
}

// deref returns the value behind the decode target so handlers switch on
// value types.
func deref(msg interface{}) interface{} {
	switch m := msg.(type) {
	case *UserOnlineMsg:
		return *m
	case *JoinUserRoomMsg:
		return *m
	case *LeaveUserRoomMsg:
		return *m
	case *JoinRoomMsg:
		return *m
	case *LeaveRoomMsg:
		return *m
	case *SendMessageMsg:
		return *m
	case *MarkAsReadMsg:
		return *m
	case *GetOnlineStatusMsg:
		return *m
	case *DeleteMessageMsg:
		return *m
	case *MessageStatusMsg:
		return *m
	case *TypingMsg:
		return *m
	}
	return msg
}

// NewServerMessage encodes payload as the data of a msgType envelope.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	out, err := json.Marshal(struct {
		Type string      `json:"type"`
		Data interface{} `json:"data"`
	}{msgType, payload})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %q: %w", msgType, err)
	}
	return out, nil
}
