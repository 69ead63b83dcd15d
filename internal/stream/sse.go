package stream

import (
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/star/passwatch/internal/metrics"
)

// HandleLive serves the SSE live table.
// GET /api/v1/stream/live?station=KIRUNA
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	snap := h.snaps.Current()
	if snap == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "pass catalog not ready")
		return
	}
	station := r.URL.Query().Get("station")
	if !h.knownStation(station) {
		writeJSONError(w, http.StatusBadRequest, "unknown station")
		return
	}

	ip, ok := h.admit(w, r, "live")
	if !ok {
		return
	}
	defer h.leave(ip, "live", time.Now())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// The controller sees through middleware wrappers that implement Unwrap.
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		metrics.IncStreamErrors("no_flush")
		h.logger.Error("streaming not supported by response writer", "error", err)
		return
	}
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}
	c := &sseClient{w: w, rc: rc, logger: h.logger}
	defer func() {
		h.logger.Debug("live stream totals", "remote_ip", ip, "messages", c.messages, "bytes", c.bytes)
	}()

	// Jittered reconnect delay so a restart does not bring every browser
	// back in the same second.
	if err := c.retry(time.Duration(3000+rand.IntN(4000)) * time.Millisecond); err != nil {
		return
	}

	catalogID := ""
	push := func() bool {
		snap := h.snaps.Current()
		now := h.now()
		if snap.Catalog.ID != catalogID {
			if err := c.send(NewMetadata(snap, now)); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
				return false
			}
			catalogID = snap.Catalog.ID
		}
		if err := c.send(NewLiveMessage(snap, station, now)); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
			return false
		}
		return true
	}
	if !push() {
		return
	}

	ticker := time.NewTicker(h.config.LiveInterval)
	defer ticker.Stop()
	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if !push() {
				return
			}
			keepalive.Reset(h.config.KeepaliveInterval)
		case <-keepalive.C:
			if err := c.keepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}
