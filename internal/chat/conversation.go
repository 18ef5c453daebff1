package chat

import (
	"time"

	"github.com/google/uuid"
)

// StateStart is the flow state of a conversation that has not advanced yet.
const StateStart = "START"

// Mode describes which message kinds the client UI offers.
type Mode string

const (
	ModeStructured Mode = "structured"
	ModeFreeform   Mode = "freeform"
	ModeHybrid     Mode = "hybrid"
)

// Kind is the message type.
type Kind string

const (
	KindOption   Kind = "option"
	KindFreetext Kind = "freetext"
)

// Status is the delivery status of a message. It only moves sent -> seen.
type Status string

const (
	StatusSent Status = "sent"
	StatusSeen Status = "seen"
)

// Message is one entry of a conversation log.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender"`
	SenderRole Role      `json:"senderRole"`
	Kind       Kind      `json:"messageType"`
	OptionID   string    `json:"optionId,omitempty"`
	OptionText string    `json:"optionText,omitempty"`
	Text       string    `json:"text,omitempty"`
	NextState  string    `json:"nextState"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"timestamp"`
}

// Body returns the human-readable content of the message.
func (m *Message) Body() string {
	if m.Kind == KindOption {
		return m.OptionText
	}
	return m.Text
}

// Conversation is the persisted message log and flow state of one room.
type Conversation struct {
	RoomID       string    `json:"roomId"`
	Messages     []Message `json:"messages"`
	Mode         Mode      `json:"conversationMode"`
	CurrentState string    `json:"currentState"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewConversation returns an empty hybrid conversation at the start state.
func NewConversation(roomID string) *Conversation {
	return &Conversation{
		RoomID:       roomID,
		Messages:     []Message{},
		Mode:         ModeHybrid,
		CurrentState: StateStart,
	}
}

// Append assigns an id, stamps status sent and appends m. Option messages
// advance the flow state; freetext inherits the current state unchanged.
func (c *Conversation) Append(m Message) Message {
	m.ID = uuid.NewString()
	m.Status = StatusSent
	if m.Kind == KindOption {
		c.CurrentState = m.NextState
	} else {
		m.NextState = c.CurrentState
	}
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = m.CreatedAt
	return m
}

// Tail returns the newest message, or nil for an empty log.
func (c *Conversation) Tail() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// Index returns the position of the message with the given id, or -1.
func (c *Conversation) Index(id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Remove hard-deletes the message at position i and reports whether it was
// the tail of the log.
func (c *Conversation) Remove(i int) (Message, bool) {
	removed := c.Messages[i]
	wasTail := i == len(c.Messages)-1
	c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
	return removed, wasTail
}

// MarkSeenBy flips every sent message authored by someone other than userID
// to seen and returns the ids that changed.
func (c *Conversation) MarkSeenBy(userID string) []string {
	var ids []string
	for i := range c.Messages {
		m := &c.Messages[i]
		if m.SenderID != userID && m.Status == StatusSent {
			m.Status = StatusSeen
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Messages = append([]Message{}, c.Messages...)
	return &cp
}
