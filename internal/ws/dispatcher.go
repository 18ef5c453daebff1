package ws

import (
	"log"
	"time"

	"github.com/listingchat/chat-app/internal/chat"
	"github.com/listingchat/chat-app/internal/protocol"
)

// MessageHandler handles one decoded client event. msg is the value returned
// by protocol.ParseClientMessage. A returned error is reported to the
// originating connection as an error event; the connection stays open.
type MessageHandler func(c *Connection, msg interface{}) error

// MessageDispatcher routes decoded frames to the handler registered for
// their event type. Ping is answered internally.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	server   *Server
}

// NewMessageDispatcher creates a dispatcher. The server may be set later with
// SetServer because the server itself takes Dispatch as its callback.
func NewMessageDispatcher(server *Server) *MessageDispatcher {
	return &MessageDispatcher{handlers: make(map[string]MessageHandler), server: server}
}

// SetServer assigns the server used for replies.
func (d *MessageDispatcher) SetServer(server *Server) {
	d.server = server
}

// Register associates a handler with an event type, replacing any previous one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the server's onMessage callback.
func (d *MessageDispatcher) Dispatch(c *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: dispatch parse error conn=%s: %v", c.ID, err)
		d.SendError(c, "invalid_argument", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		c.Touch(time.Now())
		d.Reply(c, protocol.TypePong, struct{}{})
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: unsupported message type=%q conn=%s", msgType, c.ID)
		d.SendError(c, "invalid_argument", "unsupported message type")
		return
	}

	if err := handler(c, msg); err != nil {
		code := chat.ErrorCode(err)
		if code == "internal" {
			log.Printf("ws: %s failed conn=%s: %v", msgType, c.ID, err)
		}
		d.SendError(c, code, chat.PublicMessage(err))
	}
}

// SendError sends an error event to a single connection.
func (d *MessageDispatcher) SendError(c *Connection, code, message string) {
	d.Reply(c, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

// Reply encodes and sends an event to a single connection.
func (d *MessageDispatcher) Reply(c *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("ws: failed to build %s conn=%s: %v", msgType, c.ID, err)
		return
	}
	if d.server != nil {
		err = d.server.write(c, data)
	} else {
		err = c.WriteMessage(data)
	}
	if err != nil {
		log.Printf("ws: failed to send %s conn=%s: %v", msgType, c.ID, err)
	}
}
