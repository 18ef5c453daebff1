// Package gateway binds client events arriving on the WebSocket transport to
// the presence registry, the message router and the status propagator.
package gateway

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/listingchat/chat-app/internal/chat"
	"github.com/listingchat/chat-app/internal/presence"
	"github.com/listingchat/chat-app/internal/protocol"
	"github.com/listingchat/chat-app/internal/router"
	"github.com/listingchat/chat-app/internal/status"
	"github.com/listingchat/chat-app/internal/ws"
)

// DefaultTimeout bounds the store work done for one client event.
const DefaultTimeout = 5 * time.Second

// Replier sends an event to a single connection.
type Replier interface {
	Reply(c *ws.Connection, msgType string, payload interface{})
}

// Gateway holds the collaborators every handler needs.
type Gateway struct {
	presence *presence.Registry
	router   *router.Router
	status   *status.Propagator
	replies  Replier
	timeout  time.Duration
}

// New creates a Gateway. A zero timeout selects DefaultTimeout.
func New(reg *presence.Registry, rt *router.Router, st *status.Propagator, replies Replier, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{presence: reg, router: rt, status: st, replies: replies, timeout: timeout}
}

// Register installs a handler for every client event on d.
func (g *Gateway) Register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeUserOnline, g.userOnline)
	d.Register(protocol.TypeJoinUserRoom, g.joinUserRoom)
	d.Register(protocol.TypeLeaveUserRoom, g.leaveUserRoom)
	d.Register(protocol.TypeJoinRoom, g.joinRoom)
	d.Register(protocol.TypeLeaveRoom, g.leaveRoom)
	d.Register(protocol.TypeSendMessage, g.sendMessage)
	d.Register(protocol.TypeMarkAsRead, g.markAsRead)
	d.Register(protocol.TypeGetOnlineStatus, g.getOnlineStatus)
	d.Register(protocol.TypeDeleteMessage, g.deleteMessage)
	d.Register(protocol.TypeMessageStatus, g.messageStatus)
	d.Register(protocol.TypeTyping, g.typing)
}

// OnDisconnect is the transport's disconnect callback.
func (g *Gateway) OnDisconnect(connID string) {
	g.presence.OnDisconnect(connID)
}

func (g *Gateway) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.timeout)
}

// ---------------------------------------------------------------------------
// Presence
// ---------------------------------------------------------------------------

func (g *Gateway) userOnline(c *ws.Connection, msg interface{}) error {
	m := msg.(protocol.UserOnlineMsg)
	return g.presence.RegisterOnline(m.UserID, c.ID)
}

func (g *Gateway) joinUserRoom(c *ws.Connection, msg interface{}) error {
	m := msg.(protocol.JoinUserRoomMsg)
	if err := g.presence.JoinPersonalChannel(m.UserID, c.ID); err != nil {
		return err
	}

	// Bring the badge up to date for a client that was offline.
	ctx, cancel := g.ctx()
	defer cancel()
	if err := g.status.PushGlobalUnread(ctx, m.UserID); err != nil {
		log.Printf("[gateway] global unread user=%s: %v", m.UserID, err)
	}
	return nil
}

func (g *Gateway) leaveUserRoom(c *ws.Connection, msg interface{}) error {
	m := msg.(protocol.LeaveUserRoomMsg)
	return g.presence.LeavePersonalChannel(m.UserID, c.ID)
}

// joinRoom validates membership and subscribes the connection before reading
// the snapshot, so every message is either in initialData or broadcast to the
// joiner (clients dedupe by id). The arrival is announced after the reply.
func (g *Gateway) joinRoom(c *ws.Connection, msg interface{}) error {
	m := msg.(protocol.JoinRoomMsg)
	ctx, cancel := g.ctx()
	defer cancel()

	if err := g.router.Admit(ctx, m.RoomID, m.UserID); err != nil {
		return err
	}
	wasMember := g.presence.InRoom(m.UserID, m.RoomID)
	if err := g.presence.JoinRoom(ctx, m.RoomID, m.UserID, c.ID); err != nil {
		return err
	}
	initial, err := g.router.Join(ctx, m.RoomID, m.UserID)
	if err != nil {
		if !wasMember {
			_ = g.presence.LeaveRoom(m.RoomID, m.UserID, c.ID)
		}
		return err
	}
	g.replies.Reply(c, protocol.TypeInitialData, initial)
	g.router.AnnounceJoin(m.RoomID, m.UserID, c.ID, initial)

	log.Printf("[gateway] user=%s joined room=%s conn=%s messages=%d",
		m.UserID, m.RoomID, c.ID, len(initial.Messages))
	return nil
}

func (g *Gateway) leaveRoom(c *ws.Connection, msg interface{}) error {
	m := msg.(protocol.LeaveRoomMsg)
	return g.presence.LeaveRoom(m.RoomID, m.UserID, c.ID)
}

func (g *Gateway) getOnlineStatus(c *ws.Connection, msg interface{}) error {
	m := msg.(protocol.GetOnlineStatusMsg)
	ctx, cancel := g.ctx()
	defer cancel()

	statuses, err := g.status.OnlineStatuses(ctx, m.RoomID)
	if err != nil {
		return err
	}
	g.replies.Reply(c, protocol.TypeOnlineStatuses, protocol.OnlineStatusesMsg{RoomID: m.RoomID, Statuses: statuses})
	return nil
}

func (g *Gateway) typing(c *ws.Connection, msg interface{}) error {
	m := msg.(protocol.TypingMsg)
	return g.status.Typing(m.RoomID, m.UserID, m.IsTyping, c.ID)
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func (g *Gateway) sendMessage(c *ws.Connection, msg interface{}) error {
	m := msg.(protocol.SendMessageMsg)
	ctx, cancel := g.ctx()
	defer cancel()

	_, err := g.router.Send(ctx, router.SendRequest{
		RoomID:     m.RoomID,
		SenderID:   m.Sender,
		SenderRole: m.SenderRole,
		Kind:       m.MessageType,
		OptionID:   m.OptionID,
		OptionText: m.OptionText,
		Text:       m.Text,
		NextState:  m.NextState,
		TempID:     m.TempID,
	})
	return err
}

func (g *Gateway) markAsRead(c *ws.Connection, msg interface{}) error {
	m := msg.(protocol.MarkAsReadMsg)
	userID := m.UserID
	if m.Legacy || userID == "" {
		var err error
		if userID, err = g.connUser(c); err != nil {
			return err
		}
	}
	ctx, cancel := g.ctx()
	defer cancel()

	_, err := g.router.MarkSeen(ctx, m.RoomID, userID)
	return err
}

func (g *Gateway) deleteMessage(c *ws.Connection, msg interface{}) error {
	m := msg.(protocol.DeleteMessageMsg)
	ctx, cancel := g.ctx()
	defer cancel()

	_, err := g.router.DeleteMessage(ctx, router.DeleteRequest{
		RoomID:      m.RoomID,
		RequesterID: m.UserID,
		Ref:         m.MessageIdentifier,
	})
	return err
}

// messageStatus carries no user id on the wire; the caller is the user
// registered on the connection.
func (g *Gateway) messageStatus(c *ws.Connection, msg interface{}) error {
	m := msg.(protocol.MessageStatusMsg)
	userID, err := g.connUser(c)
	if err != nil {
		return err
	}
	ctx, cancel := g.ctx()
	defer cancel()

	return g.router.SetStatus(ctx, m.RoomID, m.MessageID, m.Status, userID)
}

func (g *Gateway) connUser(c *ws.Connection) (string, error) {
	userID, ok := g.presence.UserOf(c.ID)
	if !ok {
		return "", fmt.Errorf("%w: connection has no registered user", chat.ErrInvalidArgument)
	}
	return userID, nil
}
