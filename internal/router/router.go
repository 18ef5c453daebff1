// Package router is the message path of the chat core. It validates sends,
// serializes the read-modify-persist sequence per room, broadcasts the
// persisted result and defers the unread and push cascade to a background
// queue.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/listingchat/chat-app/internal/chat"
	"github.com/listingchat/chat-app/internal/notify"
	"github.com/listingchat/chat-app/internal/presence"
	"github.com/listingchat/chat-app/internal/protocol"
	"github.com/listingchat/chat-app/internal/ratelimit"
	"github.com/listingchat/chat-app/internal/status"
	"github.com/listingchat/chat-app/internal/tasks"
)

// Presence is the subset of the presence registry the router reads.
type Presence interface {
	InRoom(userID, roomID string) bool
	IsOnline(userID string) bool
}

// Submitter runs deferred work.
type Submitter interface {
	Submit(name string, fn tasks.Func) error
}

// Options wires a Router.
type Options struct {
	Store      chat.Store
	Profiles   chat.UserDirectory // defaults to Store
	Limiter    ratelimit.Limiter
	Publisher  status.Publisher
	Presence   Presence
	Status     *status.Propagator
	Tasks      Submitter
	Dispatcher notify.Dispatcher // defaults to notify.Nop
	Now        func() time.Time
}

// Router implements the message operations of a chat room.
type Router struct {
	store    chat.Store
	profiles chat.UserDirectory
	limiter  ratelimit.Limiter
	pub      status.Publisher
	presence Presence
	status   *status.Propagator
	tasks    Submitter
	push     notify.Dispatcher
	now      func() time.Time
	locks    *keyedLocks
	senders  *keyedLocks
}

// New creates a Router.
func New(o Options) *Router {
	if o.Profiles == nil {
		o.Profiles = o.Store
	}
	if o.Dispatcher == nil {
		o.Dispatcher = notify.Nop{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Router{
		store:    o.Store,
		profiles: o.Profiles,
		limiter:  o.Limiter,
		pub:      o.Publisher,
		presence: o.Presence,
		status:   o.Status,
		tasks:    o.Tasks,
		push:     o.Dispatcher,
		now:      o.Now,
		locks:    newKeyedLocks(),
		senders:  newKeyedLocks(),
	}
}

// loadConversation returns the room's conversation, creating an empty one
// when none is stored yet.
func (r *Router) loadConversation(ctx context.Context, roomID string) (*chat.Conversation, error) {
	conv, err := r.store.GetConversation(ctx, roomID)
	if errors.Is(err, chat.ErrNotFound) {
		return chat.NewConversation(roomID), nil
	}
	return conv, err
}

func (r *Router) broadcast(roomID, eventType string, payload interface{}) {
	data, err := protocol.NewServerMessage(eventType, payload)
	if err != nil {
		log.Printf("[router] encode %s: %v", eventType, err)
		return
	}
	r.pub.Publish(presence.RoomChannel(roomID), data, "")
}

func (r *Router) broadcastExcept(roomID, eventType string, payload interface{}, exceptConn string) {
	data, err := protocol.NewServerMessage(eventType, payload)
	if err != nil {
		log.Printf("[router] encode %s: %v", eventType, err)
		return
	}
	r.pub.Publish(presence.RoomChannel(roomID), data, exceptConn)
}

func (r *Router) submit(name string, fn tasks.Func) {
	if err := r.tasks.Submit(name, fn); err != nil {
		log.Printf("[router] submit %s: %v", name, err)
	}
}

func required(fields ...string) error {
	for i := 0; i < len(fields); i += 2 {
		if fields[i+1] == "" {
			return fmt.Errorf("%w: %s is required", chat.ErrInvalidArgument, fields[i])
		}
	}
	return nil
}
