package presence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/listingchat/chat-app/internal/chat"
	"github.com/listingchat/chat-app/internal/store/memory"
)

type fakeChannels struct {
	mu   sync.Mutex
	subs map[string]map[string]bool // channel -> conn set
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{subs: make(map[string]map[string]bool)}
}

func (f *fakeChannels) Subscribe(connID, channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[channel] == nil {
		f.subs[channel] = make(map[string]bool)
	}
	f.subs[channel][connID] = true
}

func (f *fakeChannels) Unsubscribe(connID, channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[channel], connID)
}

func (f *fakeChannels) has(channel, connID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[channel][connID]
}

type changeLog struct {
	mu    sync.Mutex
	rooms []string
}

func (c *changeLog) record(roomID string) {
	c.mu.Lock()
	c.rooms = append(c.rooms, roomID)
	c.mu.Unlock()
}

func (c *changeLog) count(roomID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.rooms {
		if r == roomID {
			n++
		}
	}
	return n
}

func newTestRegistry(t *testing.T) (*Registry, *fakeChannels, *changeLog) {
	t.Helper()
	st := memory.NewStore()
	for _, id := range []string{"r1", "r2"} {
		if err := st.SaveRoom(context.Background(), &chat.Room{
			ID:           id,
			Participants: []string{"u1", "u2"},
			Status:       chat.RoomPending,
		}); err != nil {
			t.Fatalf("SaveRoom: %v", err)
		}
	}
	ch := newFakeChannels()
	reg := NewRegistry(ch, st)
	log := &changeLog{}
	reg.OnChange(log.record)
	return reg, ch, log
}

func TestRegisterOnline_LatestWins(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	reg.RegisterOnline("u1", "c1")
	reg.RegisterOnline("u1", "c2")

	snap := reg.Snapshot()
	if snap.Online["u1"] != "c2" {
		t.Fatalf("current connection = %q, want c2", snap.Online["u1"])
	}
	if !reg.IsOnline("u1") {
		t.Fatal("expected u1 online")
	}
	if err := reg.RegisterOnline("", "c3"); !errors.Is(err, chat.ErrInvalidArgument) {
		t.Fatalf("RegisterOnline without user = %v, want ErrInvalidArgument", err)
	}
}

func TestJoinRoom(t *testing.T) {
	reg, ch, changes := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.JoinRoom(ctx, "r1", "u1", "c1"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if !ch.has(RoomChannel("r1"), "c1") {
		t.Error("connection not subscribed to room channel")
	}
	if !reg.InRoom("u1", "r1") || !reg.IsOnline("u1") {
		t.Error("expected u1 online and in r1")
	}
	if changes.count("r1") != 1 {
		t.Errorf("presence changes for r1 = %d, want 1", changes.count("r1"))
	}

	tests := []struct {
		name           string
		room, user, cn string
		want           error
	}{
		{"unknown room", "nope", "u1", "c1", chat.ErrNotFound},
		{"missing room", "", "u1", "c1", chat.ErrInvalidArgument},
		{"missing user", "r1", "", "c1", chat.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := reg.JoinRoom(ctx, tt.room, tt.user, tt.cn); !errors.Is(err, tt.want) {
				t.Fatalf("JoinRoom = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLeaveRoom_PrunesMembership(t *testing.T) {
	reg, ch, _ := newTestRegistry(t)
	ctx := context.Background()

	reg.JoinRoom(ctx, "r1", "u1", "c1")
	reg.JoinRoom(ctx, "r2", "u1", "c1")

	reg.LeaveRoom("r1", "u1", "c1")
	if reg.InRoom("u1", "r1") {
		t.Fatal("u1 still in r1")
	}
	if ch.has(RoomChannel("r1"), "c1") {
		t.Fatal("connection still subscribed to r1")
	}
	if got := reg.Snapshot().Rooms["u1"]; len(got) != 1 || got[0] != "r2" {
		t.Fatalf("rooms = %v, want [r2]", got)
	}

	reg.LeaveRoom("r2", "u1", "c1")
	if _, ok := reg.Snapshot().Rooms["u1"]; ok {
		t.Fatal("empty membership entry was not pruned")
	}
}

func TestOnDisconnect_CurrentConnection(t *testing.T) {
	reg, _, changes := newTestRegistry(t)
	ctx := context.Background()

	reg.JoinRoom(ctx, "r1", "u1", "c1")
	reg.JoinRoom(ctx, "r2", "u1", "c1")

	reg.OnDisconnect("c1")

	if reg.IsOnline("u1") {
		t.Fatal("u1 still online after disconnect")
	}
	if reg.InRoom("u1", "r1") || reg.InRoom("u1", "r2") {
		t.Fatal("membership not cleared")
	}
	if changes.count("r1") != 2 || changes.count("r2") != 2 {
		t.Fatalf("expected a presence change per room on join and disconnect, got r1=%d r2=%d",
			changes.count("r1"), changes.count("r2"))
	}
	if reg.OnlineCount() != 0 {
		t.Fatalf("OnlineCount = %d, want 0", reg.OnlineCount())
	}
}

func TestOnDisconnect_StaleConnectionIsNoop(t *testing.T) {
	reg, _, changes := newTestRegistry(t)
	ctx := context.Background()

	reg.JoinRoom(ctx, "r1", "u1", "old")
	reg.RegisterOnline("u1", "new")
	before := changes.count("r1")

	reg.OnDisconnect("old")

	if !reg.IsOnline("u1") {
		t.Fatal("stale disconnect cleared presence")
	}
	if reg.Snapshot().Online["u1"] != "new" {
		t.Fatal("stale disconnect replaced current connection")
	}
	if !reg.InRoom("u1", "r1") {
		t.Fatal("stale disconnect cleared membership")
	}
	if changes.count("r1") != before {
		t.Fatal("stale disconnect triggered a presence broadcast")
	}
	if _, ok := reg.UserOf("old"); ok {
		t.Fatal("stale connection still bound to a user")
	}
}

func TestPersonalChannel(t *testing.T) {
	reg, ch, _ := newTestRegistry(t)

	if err := reg.JoinPersonalChannel("u2", "c9"); err != nil {
		t.Fatalf("JoinPersonalChannel: %v", err)
	}
	if !ch.has(UserChannel("u2"), "c9") || !reg.IsOnline("u2") {
		t.Fatal("expected personal subscription and online user")
	}
	if u, _ := reg.UserOf("c9"); u != "u2" {
		t.Fatalf("UserOf = %q, want u2", u)
	}

	reg.LeavePersonalChannel("u2", "c9")
	if ch.has(UserChannel("u2"), "c9") {
		t.Fatal("personal subscription not removed")
	}
}
