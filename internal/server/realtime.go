package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	realtimeSourceBackend    = "codementor-backend"
	notificationHeartbeat    = 25 * time.Second
	websocketBufferSizeBytes = 4096
)

func newUpgrader(origins []string) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(origins))
	allowAll := len(origins) == 0
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "*" {
			allowAll = true
		}
		if trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  websocketBufferSizeBytes,
		WriteBufferSize: websocketBufferSizeBytes,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// handleRoomSocket upgrades to a websocket and hands the connection to the relay.
func (h *httpHandler) handleRoomSocket(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	identity := relay.Identity{UserID: userID, Username: userID}
	if user, err := h.users.Get(c.Request.Context(), userID); err == nil {
		identity.Username = user.Username
	} else {
		h.logger.Warn("socket identity lookup failed", zap.String("user_id", userID), zap.Error(err))
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	h.relay.Serve(c.Request.Context(), conn, identity)
}

// handleNotificationStream streams the caller's notifications as server-sent events.
func (h *httpHandler) handleNotificationStream(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	stream, cleanup := h.notifications.Subscribe(ctx, userID)
	defer cleanup()

	heartbeat := time.NewTicker(notificationHeartbeat)
	defer heartbeat.Stop()

	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, open := <-stream:
			if !open {
				return false
			}
			payload := gin.H{"source": realtimeSourceBackend, "timestamp": message.Timestamp.UTC().Unix()}
			for key, value := range message.Payload {
				payload[key] = value
			}
			c.SSEvent(message.EventType, payload)
			return true
		case <-heartbeat.C:
			c.SSEvent(notify.EventHeartbeat, gin.H{"source": realtimeSourceBackend, "timestamp": time.Now().UTC().Unix()})
			return true
		}
	})
}
