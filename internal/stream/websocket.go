package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/star/passwatch/internal/metrics"
)

// HandleTrack serves the ground track over a WebSocket.
// GET /api/v1/stream/track
//
// The server only writes. Client frames are read and discarded so that
// pongs and the close handshake are processed.
func (h *Handler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	if h.snaps.Current() == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "pass catalog not ready")
		return
	}

	ip, ok := h.admit(w, r, "track")
	if !ok {
		return
	}
	defer h.leave(ip, "track", time.Now())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		metrics.IncStreamErrors("upgrade")
		h.logger.Warn("websocket upgrade failed", "remote_ip", ip, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.drain(conn, cancel)

	catalogID := ""
	write := func(v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
		metrics.IncStreamMessages()
		metrics.AddStreamBytes(int64(len(data)))
		return nil
	}
	push := func() bool {
		snap := h.snaps.Current()
		now := h.now()
		if snap.Catalog.ID != catalogID {
			if err := write(NewMetadata(snap, now)); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
				return false
			}
			catalogID = snap.Catalog.ID
		}
		msg, err := NewTrackMessage(snap, h.snaps.Stations(), h.snaps.Threshold(), now)
		if err != nil {
			// Keep the connection; the next tick may succeed.
			metrics.IncStreamErrors("track_error")
			h.logger.Warn("track computation failed", "remote_ip", ip, "error", err)
			return true
		}
		if err := write(msg); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
			return false
		}
		return true
	}
	if !push() {
		return
	}

	ticker := time.NewTicker(h.config.TrackInterval)
	defer ticker.Stop()
	ping := time.NewTicker(h.config.KeepaliveInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
			if !push() {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Debug("websocket ping failed", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// drain reads until the connection fails, then cancels the writer. A client
// that stops answering pings times out after two keepalive intervals.
func (h *Handler) drain(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	wait := 2 * h.config.KeepaliveInterval
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed unexpectedly", "error", err)
			}
			return
		}
	}
}
