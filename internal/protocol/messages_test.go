package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/listingchat/chat-app/internal/chat"
)

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"sendMessage","data":{"roomId":"r1","sender":"u1","optionId":"o1",
		"optionText":"Is it available?","messageType":"option","nextState":"AVAIL_CHECK",
		"senderRole":"inquirer","tempId":"tmp-1"}}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}
	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.RoomID != "r1" || sm.Sender != "u1" || sm.OptionID != "o1" {
		t.Errorf("unexpected fields: %+v", sm)
	}
	if sm.NextState != "AVAIL_CHECK" || sm.TempID != "tmp-1" {
		t.Errorf("unexpected fields: %+v", sm)
	}
}

func TestParseClientMessage_MarkAsReadShapes(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		room   string
		user   string
		legacy bool
	}{
		{"object", `{"type":"markAsRead","data":{"roomId":"r1","userId":"u2"}}`, "r1", "u2", false},
		{"bare room id", `{"type":"markAsRead","data":"r1"}`, "r1", "", true},
		{"padded string", `{"type":"markAsRead","data":  "r9" }`, "r9", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, msg, err := ParseClientMessage([]byte(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			m, ok := msg.(MarkAsReadMsg)
			if !ok {
				t.Fatalf("expected MarkAsReadMsg, got %T", msg)
			}
			if m.RoomID != tt.room || m.UserID != tt.user || m.Legacy != tt.legacy {
				t.Errorf("got %+v, want room=%q user=%q legacy=%v", m, tt.room, tt.user, tt.legacy)
			}
		})
	}
}

func TestParseClientMessage_DeleteMessage(t *testing.T) {
	input := []byte(`{"type":"deleteMessage","data":{"roomId":"r1","userId":"u1",
		"messageIdentifier":{"sender":"u1","messageType":"freetext","text":"hi",
		"timestamp":"2026-03-01T12:00:00Z"}}}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dm := msg.(DeleteMessageMsg)
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !dm.MessageIdentifier.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", dm.MessageIdentifier.Timestamp, want)
	}
	if dm.MessageIdentifier.Text != "hi" || dm.MessageIdentifier.ID != "" {
		t.Errorf("unexpected ref: %+v", dm.MessageIdentifier)
	}
}

func TestParseClientMessage_Ping(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypePing {
		t.Fatalf("expected %q, got %q", TypePing, msgType)
	}
	if _, ok := msg.(PingMsg); !ok {
		t.Fatalf("expected PingMsg, got %T", msg)
	}
}

func TestParseClientMessage_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"invalid json", `{not json`},
		{"missing type", `{"data":{}}`},
		{"unknown type", `{"type":"teleport","data":{}}`},
		{"server-only type", `{"type":"newMessage","data":{}}`},
		{"missing data", `{"type":"joinRoom"}`},
		{"null data", `{"type":"joinRoom","data":null}`},
		{"wrong data type", `{"type":"joinRoom","data":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseClientMessage([]byte(tt.input)); err == nil {
				t.Fatalf("expected error for %s", tt.input)
			}
		})
	}
}

func TestNewServerMessage_Envelope(t *testing.T) {
	data, err := NewServerMessage(TypeMessagesMarkedAsSeen, MessagesMarkedAsSeenMsg{
		RoomID:     "r1",
		MessageIDs: []string{"m1"},
		SeenBy:     "u2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if out.Type != TypeMessagesMarkedAsSeen {
		t.Errorf("type = %q", out.Type)
	}
	if out.Data["seenBy"] != "u2" || out.Data["roomId"] != "r1" {
		t.Errorf("unexpected data: %v", out.Data)
	}
	ids, _ := out.Data["messageIds"].([]interface{})
	if len(ids) != 1 || ids[0] != "m1" {
		t.Errorf("messageIds = %v", out.Data["messageIds"])
	}
}

func TestNewServerMessage_MessageViewFlattens(t *testing.T) {
	view := MessageView{
		Message: chat.Message{ID: "m1", SenderID: "u1", Kind: chat.KindFreetext, Text: "hello"},
		FromMe:  true,
	}
	data, err := NewServerMessage(TypeInitialData, InitialDataMsg{Messages: []MessageView{view}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"fromMe":true`, `"id":"m1"`, `"messageType":"freetext"`, `"type":"initialData"`} {
		if !strings.Contains(s, want) {
			t.Errorf("encoded initialData missing %s: %s", want, s)
		}
	}
}
