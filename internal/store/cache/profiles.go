// Package cache provides a Redis read-through cache in front of the user
// directory. Push fan-out resolves the sender and every offline recipient on
// each message, so profile lookups are hot.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/listingchat/chat-app/internal/chat"
)

// ProfilePrefix is the Redis key prefix for cached profiles.
const ProfilePrefix = "profile:"

// Profiles caches chat.UserDirectory lookups in Redis.
type Profiles struct {
	client *redis.Client
	next   chat.UserDirectory
	ttl    time.Duration
}

var _ chat.UserDirectory = (*Profiles)(nil)

// NewProfiles wraps next with a Redis cache whose entries live for ttl.
func NewProfiles(client *redis.Client, next chat.UserDirectory, ttl time.Duration) *Profiles {
	return &Profiles{client: client, next: next, ttl: ttl}
}

// GetProfile returns the cached profile or loads it from the wrapped
// directory. Redis failures fall through to the directory.
func (p *Profiles) GetProfile(ctx context.Context, userID string) (*chat.Profile, error) {
	key := ProfilePrefix + userID

	raw, err := p.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var prof chat.Profile
		if jerr := json.Unmarshal(raw, &prof); jerr == nil {
			return &prof, nil
		}
		log.Printf("[cache] corrupt profile entry key=%s, reloading", key)
	case !errors.Is(err, redis.Nil):
		log.Printf("[cache] redis GET error key=%s: %v (falling through)", key, err)
	}

	prof, err := p.next.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, jerr := json.Marshal(prof); jerr == nil {
		if serr := p.client.Set(ctx, key, data, p.ttl).Err(); serr != nil {
			log.Printf("[cache] redis SET error key=%s: %v", key, serr)
		}
	}
	return prof, nil
}

// Invalidate drops a cached profile.
func (p *Profiles) Invalidate(ctx context.Context, userID string) error {
	return p.client.Del(ctx, ProfilePrefix+userID).Err()
}
