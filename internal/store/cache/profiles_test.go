package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/listingchat/chat-app/internal/chat"
	"github.com/listingchat/chat-app/internal/store/memory"
)

type countingDirectory struct {
	next  chat.UserDirectory
	calls int
}

func (c *countingDirectory) GetProfile(ctx context.Context, userID string) (*chat.Profile, error) {
	c.calls++
	return c.next.GetProfile(ctx, userID)
}

// newTestClient connects to a local Redis instance. Tests that call this
// helper require a running Redis on localhost:6379.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		client.Del(context.Background(), ProfilePrefix+"test_user")
		client.Close()
	})
	return client
}

func TestProfiles_ReadThrough(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	store := memory.NewStore()
	store.PutProfile(chat.Profile{ID: "test_user", Name: "Ada", PushToken: "tok"})
	dir := &countingDirectory{next: store}

	cached := NewProfiles(client, dir, time.Minute)
	_ = cached.Invalidate(ctx, "test_user")

	for i := 0; i < 3; i++ {
		p, err := cached.GetProfile(ctx, "test_user")
		if err != nil {
			t.Fatalf("GetProfile: %v", err)
		}
		if p.Name != "Ada" || p.PushToken != "tok" {
			t.Fatalf("unexpected profile: %+v", p)
		}
	}
	if dir.calls != 1 {
		t.Errorf("expected 1 directory call, got %d", dir.calls)
	}
}

func TestProfiles_RedisDownFallsThrough(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()

	store := memory.NewStore()
	store.PutProfile(chat.Profile{ID: "u1", Name: "Bo"})

	p, err := NewProfiles(client, store, time.Minute).GetProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.Name != "Bo" {
		t.Errorf("unexpected profile %+v", p)
	}
}
