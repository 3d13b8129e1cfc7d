// Package ws serves the push channel over WebSocket. Frames are the same JSON
// bodies the SSE stream carries, one per text message.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/internal/middleware"
	"rendezvous-backend/internal/realtime"
	"rendezvous-backend/internal/service/conversation"
	"rendezvous-backend/internal/service/notification"
	"rendezvous-backend/pkg/constants"
	appErrors "rendezvous-backend/pkg/errors"
	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/metrics"
	"rendezvous-backend/pkg/response"
)

const (
	writeWait      = constants.WebSocketWriteWait
	maxMessageSize = 4096
)

// TypingNotifier relays typing frames sent upstream by the client
type TypingNotifier interface {
	NotifyTyping(ctx context.Context, userID uuid.UUID, in conversation.RefInput, started bool) error
}

// Config holds WebSocket transport settings
type Config struct {
	AllowedOrigins []string
	// PingInterval must be shorter than PongWait
	PingInterval time.Duration
	PongWait     time.Duration
	BufferSize   int
}

// Handler upgrades authenticated requests and pumps frames both ways
type Handler struct {
	resolver  middleware.IdentityResolver
	lifecycle *realtime.Lifecycle
	typing    TypingNotifier
	upgrader  websocket.Upgrader
	cfg       Config
	now       func() time.Time
}

// NewHandler creates the WebSocket handler
func NewHandler(resolver middleware.IdentityResolver, lifecycle *realtime.Lifecycle, typing TypingNotifier, cfg Config) *Handler {
	if cfg.PongWait <= 0 {
		cfg.PongWait = constants.WebSocketPongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	h := &Handler{
		resolver:  resolver,
		lifecycle: lifecycle,
		typing:    typing,
		cfg:       cfg,
		now:       time.Now,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Non-browser clients send no Origin
	if origin == "" {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, origin)
}

// upstreamFrame is what clients may send
type upstreamFrame struct {
	Type domain.EventKind      `json:"type"`
	Data conversation.RefInput `json:"data"`
}

// ServeWS handles WebSocket requests
// GET /v1/notifications/ws?token=
func (h *Handler) ServeWS(c *gin.Context) {
	ctx := c.Request.Context()

	token := middleware.RequestToken(c, true)
	if token == "" {
		metrics.ChatPushConnectionUnauthorizedTotal.Inc()
		response.FromError(c, appErrors.UnauthorizedError("Session token required"))
		return
	}
	identity, err := h.resolver.Resolve(ctx, token)
	if err != nil {
		metrics.ChatPushConnectionUnauthorizedTotal.Inc()
		response.FromError(c, err)
		return
	}

	hello, err := notification.Encode(&domain.Event{
		Type: domain.EventConnectionEstablished,
		Data: &domain.ConnectionEstablishedData{UserID: identity.UserID, ConnectedAt: h.now().UTC()},
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	// The connection outlives the handler goroutine, so it gets its own context
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn := realtime.NewConn(h.cfg.BufferSize)
	_ = conn.Send(hello)
	release := h.lifecycle.Open(connCtx, identity.UserID, conn, "ws")

	client := &client{
		handler: h,
		ws:      ws,
		conn:    conn,
		userID:  identity.UserID,
		release: func() {
			release()
			cancel()
		},
	}
	go client.writePump()
	go client.readPump(connCtx)
}

type client struct {
	handler *Handler
	ws      *websocket.Conn
	conn    *realtime.Conn
	userID  uuid.UUID
	release func()
}

// readPump reads upstream frames until the socket fails, then releases the connection
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.release()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.handler.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.handler.cfg.PongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket read failed", zap.String("user_id", c.userID.String()), zap.Error(err))
			}
			return
		}
		c.handle(ctx, raw)
	}
}

func (c *client) handle(ctx context.Context, raw []byte) {
	var frame upstreamFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		logger.Debug("Invalid upstream frame", zap.String("user_id", c.userID.String()), zap.Error(err))
		return
	}

	switch frame.Type {
	case domain.EventTypingStart, domain.EventTypingStop:
		if c.handler.typing == nil {
			return
		}
		started := frame.Type == domain.EventTypingStart
		if err := c.handler.typing.NotifyTyping(ctx, c.userID, frame.Data, started); err != nil {
			logger.Debug("Typing frame rejected",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
		}
	default:
		logger.Debug("Ignoring upstream frame", zap.String("type", string(frame.Type)))
	}
}

// writePump writes frames and pings until the connection is closed
func (c *client) writePump() {
	ticker := time.NewTicker(c.handler.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.conn.Done():
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-c.conn.Frames():
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.release()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.release()
				return
			}
		}
	}
}
