// Package httpapi is the HTTP surface of the chat server: the WebSocket
// upgrade route plus operator endpoints for health, diagnostics and metrics.
package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/listingchat/chat-app/internal/metrics"
	"github.com/listingchat/chat-app/internal/presence"
	"github.com/listingchat/chat-app/internal/ws"
)

// Transport is the part of the WebSocket server exposed over HTTP.
type Transport interface {
	HandleUpgrade(w http.ResponseWriter, r *http.Request)
	ConnectionInfos() []ws.ConnectionInfo
	Channels() map[string][]string
	Uptime() time.Duration
}

// Presence is the read side of the presence registry.
type Presence interface {
	OnlineCount() int
	Snapshot() presence.Snapshot
}

// LimitCounter reports how many users are currently rate limited.
type LimitCounter interface {
	LimitedCount(ctx context.Context) (int, error)
}

// Deps wires the router.
type Deps struct {
	Transport Transport
	Presence  Presence
	Limiter   LimitCounter
	DiagToken string // guards /metrics and /debug; empty leaves them open
}

// Health is the body of GET /health.
type Health struct {
	Status           string `json:"status"`
	Connections      int    `json:"connections"`
	OnlineUsers      int    `json:"onlineUsers"`
	RateLimitedUsers int    `json:"rateLimitedUsers"`
	Uptime           string `json:"uptime"`
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// GET /ws -> WebSocket upgrade
	r.GET("/ws", gin.WrapF(d.Transport.HandleUpgrade))

	// Probes stay open; the rest can leak user ids and needs the token.
	r.GET("/health", health(d))

	ops := r.Group("/")
	if d.DiagToken != "" {
		ops.Use(requireToken(d.DiagToken))
	}
	ops.GET("/metrics", gin.WrapH(metrics.Handler()))

	debug := ops.Group("/debug")
	debug.GET("/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connections": d.Transport.ConnectionInfos()})
	})
	debug.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"channels": d.Transport.Channels()})
	})
	debug.GET("/presence", func(c *gin.Context) {
		c.JSON(http.StatusOK, d.Presence.Snapshot())
	})
	return r
}

func health(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := Health{
			Status:      "ok",
			Connections: len(d.Transport.ConnectionInfos()),
			OnlineUsers: d.Presence.OnlineCount(),
			Uptime:      d.Transport.Uptime().Round(time.Second).String(),
		}
		if d.Limiter != nil {
			// A limiter outage degrades the report, not the endpoint.
			n, err := d.Limiter.LimitedCount(c.Request.Context())
			if err != nil {
				h.Status = "degraded"
			}
			h.RateLimitedUsers = n
		}
		c.JSON(http.StatusOK, h)
	}
}

func requireToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
