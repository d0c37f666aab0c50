package relay

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Serve runs the read and write pumps for conn until either side closes. It blocks
// until the connection is gone and the client has been disconnected from its room.
func (r *Relay) Serve(ctx context.Context, conn *websocket.Conn, identity Identity) {
	client := r.NewClient(identity)
	r.logger.Debug("relay connection opened",
		zap.Uint64("client_id", client.ID()),
		zap.String("user_id", identity.UserID))

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.writePump(ctx, conn, client)
	}()

	r.readPump(ctx, conn, client)
	cancel()
	r.Disconnect(ctx, client)
	<-done
	_ = conn.Close()

	r.logger.Debug("relay connection closed",
		zap.Uint64("client_id", client.ID()),
		zap.String("user_id", identity.UserID))
}

func (r *Relay) readPump(ctx context.Context, conn *websocket.Conn, client *Client) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				r.logger.Info("relay read failed", zap.Uint64("client_id", client.ID()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		r.Handle(ctx, client, frame)
	}
}

func (r *Relay) writePump(ctx context.Context, conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
			return
		case frame, ok := <-client.Outbound():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				_ = conn.Close()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				r.logWriteError(client, err)
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				r.logWriteError(client, err)
				_ = conn.Close()
				return
			}
		}
	}
}

func (r *Relay) logWriteError(client *Client, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	r.logger.Info("relay write failed", zap.Uint64("client_id", client.ID()), zap.Error(err))
}
