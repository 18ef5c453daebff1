package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/listingchat/chat-app/internal/chat"
)

// newTestStore opens the database named by TEST_DATABASE_URL. Tests that call
// this helper are skipped when no database is configured or reachable.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoomUpsertAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	t.Cleanup(func() { s.db.Exec(`DELETE FROM chat_rooms WHERE id = $1`, id) })

	now := time.Now().UTC().Truncate(time.Millisecond)
	room := &chat.Room{ID: id, Participants: []string{"u1", "u2"}, Status: chat.RoomPending, CreatedAt: now}
	if err := s.SaveRoom(ctx, room); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}

	room.ApplyNewMessage(&chat.Message{SenderID: "u1", Kind: chat.KindFreetext, Text: "hello", CreatedAt: now})
	if err := s.SaveRoom(ctx, room); err != nil {
		t.Fatalf("SaveRoom (update): %v", err)
	}

	got, err := s.GetRoom(ctx, id)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got.Status != chat.RoomActive || got.LastMessage == nil || got.LastMessage.Text != "hello" {
		t.Fatalf("unexpected room: %+v", got)
	}
	if len(got.ReadBy) != 1 || got.ReadBy[0] != "u1" {
		t.Errorf("readBy = %v", got.ReadBy)
	}

	got.RecomputeLast(chat.NewConversation(id), now)
	if err := s.SaveRoom(ctx, got); err != nil {
		t.Fatalf("SaveRoom (clear): %v", err)
	}
	cleared, _ := s.GetRoom(ctx, id)
	if cleared.LastMessage != nil {
		t.Errorf("expected cleared last message, got %+v", cleared.LastMessage)
	}

	active, err := s.ListActiveRooms(ctx, "u2")
	if err != nil {
		t.Fatalf("ListActiveRooms: %v", err)
	}
	found := false
	for _, r := range active {
		found = found || r.ID == id
	}
	if !found {
		t.Error("active room not listed for participant")
	}
}

func TestConversationDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	t.Cleanup(func() { s.db.Exec(`DELETE FROM chat_rooms WHERE id = $1`, id) })

	if err := s.SaveRoom(ctx, &chat.Room{ID: id, Participants: []string{"u1", "u2"}, Status: chat.RoomPending}); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}
	if _, err := s.GetConversation(ctx, id); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	c := chat.NewConversation(id)
	c.Append(chat.Message{SenderID: "u1", Kind: chat.KindOption, OptionID: "o1", OptionText: "Is it available?", NextState: "AVAIL_CHECK", CreatedAt: time.Now()})
	if err := s.SaveConversation(ctx, c); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	got, err := s.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.CurrentState != "AVAIL_CHECK" || len(got.Messages) != 1 {
		t.Fatalf("unexpected conversation: %+v", got)
	}
	if got.Messages[0].OptionID != "o1" || got.Messages[0].Status != chat.StatusSent {
		t.Errorf("message not round-tripped: %+v", got.Messages[0])
	}
}

func TestProfileUpsertAndMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	t.Cleanup(func() { s.db.Exec(`DELETE FROM chat_users WHERE id = $1`, id) })

	if err := s.PutProfile(ctx, chat.Profile{ID: id, Name: "Ben", Phone: "+15550100"}); err != nil {
		t.Fatalf("PutProfile: %v", err)
	}
	if err := s.PutProfile(ctx, chat.Profile{ID: id, Name: "Ben", Phone: "+15550100",
		PushToken: "ExponentPushToken[x]", NotificationsEnabled: true}); err != nil {
		t.Fatalf("PutProfile (update): %v", err)
	}

	got, err := s.GetProfile(ctx, id)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got.Phone != "+15550100" || got.PushToken != "ExponentPushToken[x]" || !got.NotificationsEnabled {
		t.Fatalf("unexpected profile: %+v", got)
	}

	if _, err := s.GetProfile(ctx, "missing-"+uuid.NewString()); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("missing profile = %v, want ErrNotFound", err)
	}
}

func TestSeedUpsertsRoomsAndProfiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	roomID, owner := "test-"+uuid.NewString(), "test-"+uuid.NewString()
	t.Cleanup(func() {
		s.db.Exec(`DELETE FROM chat_rooms WHERE id = $1`, roomID)
		s.db.Exec(`DELETE FROM chat_users WHERE id = $1`, owner)
	})

	doc := `{"rooms": [{"id": "` + roomID + `", "participants": ["u1", "` + owner + `"]}],
		"profiles": [{"id": "` + owner + `", "name": "Ben", "phone": "+15550100"}]}`
	for i := 0; i < 2; i++ {
		if err := s.Seed(ctx, strings.NewReader(doc)); err != nil {
			t.Fatalf("Seed run %d: %v", i+1, err)
		}
	}

	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if room.Status != chat.RoomPending || room.OwnerID() != owner {
		t.Fatalf("unexpected room: %+v", room)
	}
	if p, err := s.GetProfile(ctx, owner); err != nil || p.Phone != "+15550100" {
		t.Fatalf("profile = %+v, err = %v", p, err)
	}
}
