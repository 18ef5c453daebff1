package chat

import "time"

// RoomStatus is the lifecycle state of a chat room.
type RoomStatus string

const (
	RoomPending RoomStatus = "pending"
	RoomActive  RoomStatus = "active"
)

// Role is the participant role inside a room. The first participant is
// always the inquirer; everybody else acts as the owner.
type Role string

const (
	RoleInquirer Role = "inquirer"
	RoleOwner    Role = "owner"
)

// LastMessage is the denormalized summary of the newest message in a room.
type LastMessage struct {
	Text     string    `json:"text"`
	SenderID string    `json:"sender"`
	At       time.Time `json:"timestamp"`
}

// Room is the persisted metadata of one listing chat.
type Room struct {
	ID             string       `json:"id"`
	ListingID      string       `json:"listingId,omitempty"`
	Participants   []string     `json:"participants"`
	Status         RoomStatus   `json:"status"`
	LastMessage    *LastMessage `json:"lastMessage"`
	ReadBy         []string     `json:"readBy"`
	HasMessages    bool         `json:"hasMessages"`
	FirstMessageAt *time.Time   `json:"firstMessageAt,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// IsParticipant reports whether userID belongs to the room.
func (r *Room) IsParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// RoleOf returns the role userID plays in the room.
func (r *Room) RoleOf(userID string) Role {
	if len(r.Participants) > 0 && r.Participants[0] == userID {
		return RoleInquirer
	}
	return RoleOwner
}

// OwnerID returns the first participant holding the owner role, or "".
func (r *Room) OwnerID() string {
	if len(r.Participants) < 2 {
		return ""
	}
	return r.Participants[1]
}

// HasRead reports whether userID is in the read-by set.
func (r *Room) HasRead(userID string) bool {
	for _, id := range r.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// HasUnread reports whether userID has a message from someone else they have
// not acknowledged yet.
func (r *Room) HasUnread(userID string) bool {
	if !r.HasMessages || r.LastMessage == nil {
		return false
	}
	if r.LastMessage.SenderID == userID {
		return false
	}
	return !r.HasRead(userID)
}

// MarkRead adds userID to the read-by set and reports whether it changed.
func (r *Room) MarkRead(userID string) bool {
	if r.HasRead(userID) {
		return false
	}
	r.ReadBy = append(r.ReadBy, userID)
	return true
}

// ApplyNewMessage updates the denormalized fields after m was appended. The
// first message activates a pending room exactly once.
func (r *Room) ApplyNewMessage(m *Message) {
	r.LastMessage = &LastMessage{Text: m.Body(), SenderID: m.SenderID, At: m.CreatedAt}
	if r.Status == RoomPending && !r.HasMessages {
		r.Status = RoomActive
		at := m.CreatedAt
		r.FirstMessageAt = &at
	}
	r.HasMessages = true
	r.ReadBy = []string{m.SenderID}
	r.UpdatedAt = m.CreatedAt
}

// RecomputeLast rebuilds the last-message summary from the conversation tail,
// clearing it when the conversation is empty.
func (r *Room) RecomputeLast(c *Conversation, now time.Time) {
	tail := c.Tail()
	if tail == nil {
		r.LastMessage = nil
	} else {
		r.LastMessage = &LastMessage{Text: tail.Body(), SenderID: tail.SenderID, At: tail.CreatedAt}
	}
	r.UpdatedAt = now
}

// Clone returns a deep copy of the room.
func (r *Room) Clone() *Room {
	cp := *r
	cp.Participants = append([]string(nil), r.Participants...)
	cp.ReadBy = append([]string(nil), r.ReadBy...)
	if r.LastMessage != nil {
		lm := *r.LastMessage
		cp.LastMessage = &lm
	}
	if r.FirstMessageAt != nil {
		at := *r.FirstMessageAt
		cp.FirstMessageAt = &at
	}
	return &cp
}
