// Package sse serves the server-to-client push channel as text/event-stream
package sse

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rendezvous-backend/internal/domain"
	"rendezvous-backend/internal/middleware"
	"rendezvous-backend/internal/realtime"
	"rendezvous-backend/internal/service/notification"
	"rendezvous-backend/pkg/constants"
	appErrors "rendezvous-backend/pkg/errors"
	"rendezvous-backend/pkg/logger"
	"rendezvous-backend/pkg/metrics"
	"rendezvous-backend/pkg/response"
)

var (
	pingFrame  = []byte(": ping\n\n")
	dataPrefix = []byte("data: ")
	frameEnd   = []byte("\n\n")
)

// Handler streams dispatcher frames to one client connection
type Handler struct {
	resolver   middleware.IdentityResolver
	lifecycle  *realtime.Lifecycle
	keepAlive  time.Duration
	bufferSize int
	now        func() time.Time
}

// NewHandler creates the push stream handler
func NewHandler(resolver middleware.IdentityResolver, lifecycle *realtime.Lifecycle, keepAlive time.Duration, bufferSize int) *Handler {
	if keepAlive <= 0 {
		keepAlive = constants.KeepAliveInterval
	}
	return &Handler{
		resolver:   resolver,
		lifecycle:  lifecycle,
		keepAlive:  keepAlive,
		bufferSize: bufferSize,
		now:        time.Now,
	}
}

// Stream holds the connection open and writes frames until the client leaves
// GET /v1/notifications/stream?token=
func (h *Handler) Stream(c *gin.Context) {
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

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	conn := realtime.NewConn(h.bufferSize)
	_ = conn.Send(hello)
	release := h.lifecycle.Open(ctx, identity.UserID, conn, "sse")
	defer release()

	log := logger.FromContext(ctx).With(zap.String("user_id", identity.UserID.String()))
	log.Debug("Push stream opened")

	if err := h.pump(ctx, c.Writer, conn); err != nil {
		log.Debug("Push stream write failed", zap.Error(err))
	}
	log.Debug("Push stream closed")
}

// pump writes frames and keep-alives until ctx ends, the connection is closed
// by the registry, or a write fails
func (h *Handler) pump(ctx context.Context, w gin.ResponseWriter, conn *realtime.Conn) error {
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			return nil
		case frame := <-conn.Frames():
			if err := writeFrame(w, frame); err != nil {
				return err
			}
		case <-ticker.C:
			if _, err := w.Write(pingFrame); err != nil {
				return err
			}
			w.Flush()
		}
	}
}

func writeFrame(w gin.ResponseWriter, frame []byte) error {
	for _, part := range [][]byte{dataPrefix, frame, frameEnd} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	w.Flush()
	return nil
}
