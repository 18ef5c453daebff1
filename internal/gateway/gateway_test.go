package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/listingchat/chat-app/internal/chat"
	"github.com/listingchat/chat-app/internal/presence"
	"github.com/listingchat/chat-app/internal/protocol"
	"github.com/listingchat/chat-app/internal/ratelimit"
	"github.com/listingchat/chat-app/internal/router"
	"github.com/listingchat/chat-app/internal/status"
	"github.com/listingchat/chat-app/internal/store/memory"
	"github.com/listingchat/chat-app/internal/tasks"
	"github.com/listingchat/chat-app/internal/ws"
)

// hub stands in for the transport: it records subscriptions and publishes.
type hub struct {
	mu        sync.Mutex
	subs      map[string]map[string]bool
	published []published
}

type published struct {
	channel   string
	except    string
	delivered int
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

func newHub() *hub { return &hub{subs: make(map[string]map[string]bool)} }

func (h *hub) Subscribe(connID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[string]bool)
	}
	h.subs[channel][connID] = true
}

func (h *hub) Unsubscribe(connID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[channel], connID)
}

func (h *hub) Publish(channel string, data []byte, exceptConn string) int {
	var p published
	json.Unmarshal(data, &p)
	p.channel, p.except = channel, exceptConn
	h.mu.Lock()
	defer h.mu.Unlock()
	for connID := range h.subs[channel] {
		if connID != exceptConn {
			p.delivered++
		}
	}
	h.published = append(h.published, p)
	return p.delivered
}

func (h *hub) subscribed(connID, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs[channel][connID]
}

func (h *hub) ofType(t string) []published {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []published
	for _, p := range h.published {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

type sent struct {
	conn    string
	msgType string
	payload interface{}
}

type replies struct {
	mu   sync.Mutex
	sent []sent
}

func (r *replies) Reply(c *ws.Connection, msgType string, payload interface{}) {
	r.mu.Lock()
	r.sent = append(r.sent, sent{c.ID, msgType, payload})
	r.mu.Unlock()
}

func (r *replies) last() sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return sent{}
	}
	return r.sent[len(r.sent)-1]
}

type inline struct{}

func (inline) Submit(_ string, fn tasks.Func) error { return fn(context.Background()) }

// hookedStore lets a test act right after the next conversation read, or
// fail it.
type hookedStore struct {
	*memory.Store
	mu        sync.Mutex
	afterRead func()
	readErr   error
}

func (s *hookedStore) GetConversation(ctx context.Context, roomID string) (*chat.Conversation, error) {
	s.mu.Lock()
	hook, readErr := s.afterRead, s.readErr
	s.afterRead, s.readErr = nil, nil
	s.mu.Unlock()
	if readErr != nil {
		return nil, readErr
	}
	conv, err := s.Store.GetConversation(ctx, roomID)
	if hook != nil {
		hook()
	}
	return conv, err
}

type fixture struct {
	gw      *Gateway
	rt      *router.Router
	hub     *hub
	replies *replies
	reg     *presence.Registry
	store   *memory.Store
	hooked  *hookedStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{hub: newHub(), replies: &replies{}, store: memory.NewStore()}
	if err := f.store.SaveRoom(context.Background(), &chat.Room{
		ID:           "R",
		Participants: []string{"U1", "U2"},
		Status:       chat.RoomPending,
		CreatedAt:    time.Now(),
	}); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}
	f.store.PutProfile(chat.Profile{ID: "U2", Name: "Ben", Phone: "+15550100"})

	f.reg = presence.NewRegistry(f.hub, f.store)
	prop := status.NewPropagator(f.hub, f.reg, f.store, time.Millisecond)
	t.Cleanup(prop.Stop)
	f.reg.OnChange(prop.ScheduleBroadcast)

	f.hooked = &hookedStore{Store: f.store}
	rt := router.New(router.Options{
		Store:     f.hooked,
		Limiter:   ratelimit.NewWindow(ratelimit.DefaultConfig(), time.Now),
		Publisher: f.hub,
		Presence:  f.reg,
		Status:    prop,
		Tasks:     inline{},
	})
	f.rt = rt
	f.gw = New(f.reg, rt, prop, f.replies, 0)
	return f
}

func conn(id string) *ws.Connection { return &ws.Connection{ID: id} }

func TestJoinRoom_RepliesThenAnnounces(t *testing.T) {
	f := newFixture(t)
	c1 := conn("c1")

	if err := f.gw.joinRoom(c1, protocol.JoinRoomMsg{RoomID: "R", UserID: "U1"}); err != nil {
		t.Fatalf("joinRoom: %v", err)
	}
	if !f.hub.subscribed("c1", presence.RoomChannel("R")) {
		t.Fatal("connection not subscribed to room channel")
	}
	r := f.replies.last()
	if r.conn != "c1" || r.msgType != protocol.TypeInitialData {
		t.Fatalf("reply = %+v, want initialData to c1", r)
	}
	initial := r.payload.(*protocol.InitialDataMsg)
	if initial.UserRole != chat.RoleInquirer || !initial.OnlineStatuses["U1"] {
		t.Fatalf("unexpected initial data: %+v", initial)
	}

	joined := f.hub.ofType(protocol.TypeUserJoinedRoom)
	if len(joined) != 1 || joined[0].except != "c1" {
		t.Fatalf("userJoinedRoom = %+v, want one excluding c1", joined)
	}
	if !f.reg.IsOnline("U1") {
		t.Fatal("joining a room should mark the user online")
	}
}

func TestJoinRoom_Rejections(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		msg  protocol.JoinRoomMsg
		want error
	}{
		{"unknown room", protocol.JoinRoomMsg{RoomID: "nope", UserID: "U1"}, chat.ErrNotFound},
		{"outsider", protocol.JoinRoomMsg{RoomID: "R", UserID: "U9"}, chat.ErrUnauthorized},
		{"missing user", protocol.JoinRoomMsg{RoomID: "R"}, chat.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.gw.joinRoom(conn("cx"), tt.msg)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if f.hub.subscribed("cx", presence.RoomChannel(tt.msg.RoomID)) {
				t.Fatal("rejected join subscribed the connection")
			}
		})
	}
}

func TestJoinRoom_MessageDuringSnapshotReachesJoiner(t *testing.T) {
	f := newFixture(t)
	f.hooked.mu.Lock()
	f.hooked.afterRead = func() {
		_, err := f.rt.Send(context.Background(), router.SendRequest{
			RoomID: "R", SenderID: "U1", SenderRole: "inquirer", Kind: "freetext", Text: "hello",
		})
		if err != nil {
			t.Errorf("Send during join: %v", err)
		}
	}
	f.hooked.mu.Unlock()

	if err := f.gw.joinRoom(conn("c2"), protocol.JoinRoomMsg{RoomID: "R", UserID: "U2"}); err != nil {
		t.Fatalf("joinRoom: %v", err)
	}
	initial := f.replies.last().payload.(*protocol.InitialDataMsg)
	news := f.hub.ofType(protocol.TypeNewMessage)
	if len(news) != 1 {
		t.Fatalf("newMessage broadcasts = %d, want 1", len(news))
	}
	if len(initial.Messages) == 0 && news[0].delivered == 0 {
		t.Fatal("message persisted during join is neither in initialData nor delivered to the joiner")
	}
}

func TestJoinRoom_SnapshotFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.hooked.mu.Lock()
	f.hooked.readErr = errors.New("connection reset")
	f.hooked.mu.Unlock()

	if err := f.gw.joinRoom(conn("c1"), protocol.JoinRoomMsg{RoomID: "R", UserID: "U1"}); err == nil {
		t.Fatal("joinRoom succeeded with a failing snapshot read")
	}
	if f.hub.subscribed("c1", presence.RoomChannel("R")) {
		t.Fatal("failed join left the connection subscribed")
	}
	if f.reg.InRoom("U1", "R") {
		t.Fatal("failed join left the room membership")
	}
	if len(f.hub.ofType(protocol.TypeUserJoinedRoom)) != 0 {
		t.Fatal("failed join announced the arrival")
	}
}

func TestSendAndLegacyMarkAsRead(t *testing.T) {
	f := newFixture(t)
	c1, c2 := conn("c1"), conn("c2")
	for _, j := range []struct {
		c    *ws.Connection
		user string
	}{{c1, "U1"}, {c2, "U2"}} {
		if err := f.gw.joinRoom(j.c, protocol.JoinRoomMsg{RoomID: "R", UserID: j.user}); err != nil {
			t.Fatalf("joinRoom %s: %v", j.user, err)
		}
	}

	err := f.gw.sendMessage(c1, protocol.SendMessageMsg{
		RoomID: "R", Sender: "U1", SenderRole: "inquirer", MessageType: "option",
		OptionID: "o1", OptionText: "Is it available?", NextState: "AVAIL_CHECK",
	})
	if err != nil {
		t.Fatalf("sendMessage: %v", err)
	}
	if got := f.hub.ofType(protocol.TypeNewMessage); len(got) != 1 {
		t.Fatalf("newMessage broadcasts = %d, want 1", len(got))
	}

	// The legacy shape carries only the room id.
	if err := f.gw.markAsRead(c2, protocol.MarkAsReadMsg{RoomID: "R", Legacy: true}); err != nil {
		t.Fatalf("markAsRead: %v", err)
	}
	seen := f.hub.ofType(protocol.TypeMessagesMarkedAsSeen)
	if len(seen) != 1 {
		t.Fatalf("messagesMarkedAsSeen = %d, want 1", len(seen))
	}
	var body protocol.MessagesMarkedAsSeenMsg
	json.Unmarshal(seen[0].Data, &body)
	if body.SeenBy != "U2" || len(body.MessageIDs) != 1 {
		t.Fatalf("unexpected seen payload: %+v", body)
	}
}

func TestMarkAsRead_LegacyWithoutUser(t *testing.T) {
	f := newFixture(t)
	err := f.gw.markAsRead(conn("ghost"), protocol.MarkAsReadMsg{RoomID: "R", Legacy: true})
	if !errors.Is(err, chat.ErrInvalidArgument) {
		t.Fatalf("err = %v, want invalid argument", err)
	}
}

func TestGetOnlineStatus_RepliesToRequester(t *testing.T) {
	f := newFixture(t)
	if err := f.gw.userOnline(conn("c2"), protocol.UserOnlineMsg{UserID: "U2"}); err != nil {
		t.Fatalf("userOnline: %v", err)
	}
	if err := f.gw.getOnlineStatus(conn("c1"), protocol.GetOnlineStatusMsg{RoomID: "R", UserID: "U1"}); err != nil {
		t.Fatalf("getOnlineStatus: %v", err)
	}
	r := f.replies.last()
	if r.conn != "c1" || r.msgType != protocol.TypeOnlineStatuses {
		t.Fatalf("reply = %+v", r)
	}
	got := r.payload.(protocol.OnlineStatusesMsg).Statuses
	if got["U1"] || !got["U2"] {
		t.Fatalf("statuses = %v, want U2 online only", got)
	}
}

func TestTypingExcludesSender(t *testing.T) {
	f := newFixture(t)
	if err := f.gw.typing(conn("c1"), protocol.TypingMsg{RoomID: "R", UserID: "U1", IsTyping: true}); err != nil {
		t.Fatalf("typing: %v", err)
	}
	got := f.hub.ofType(protocol.TypeUserTyping)
	if len(got) != 1 || got[0].except != "c1" || got[0].channel != "room:R" {
		t.Fatalf("userTyping = %+v", got)
	}
	if err := f.gw.typing(conn("c1"), protocol.TypingMsg{RoomID: "R"}); !errors.Is(err, chat.ErrInvalidArgument) {
		t.Fatalf("err = %v, want invalid argument", err)
	}
}

func TestDisconnectClearsPresence(t *testing.T) {
	f := newFixture(t)
	if err := f.gw.joinUserRoom(conn("c1"), protocol.JoinUserRoomMsg{UserID: "U1"}); err != nil {
		t.Fatalf("joinUserRoom: %v", err)
	}
	if !f.hub.subscribed("c1", presence.UserChannel("U1")) {
		t.Fatal("personal channel not joined")
	}
	if got := f.hub.ofType(protocol.TypeGlobalUnreadUpdate); len(got) != 1 {
		t.Fatalf("globalUnreadUpdate = %d, want 1", len(got))
	}

	f.gw.OnDisconnect("c1")
	if f.reg.IsOnline("U1") {
		t.Fatal("user still online after disconnect")
	}
}
