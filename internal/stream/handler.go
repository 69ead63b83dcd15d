// Package stream pushes the live pass table and the ground track to browsers.
//
// GET /api/v1/stream/live is a Server-Sent Events stream. The first event is
// the spacecraft metadata, followed by one live table per tick:
//
//	data: {"type":"metadata","spacecraft":"CRYOSAT 2","catalog_id":"...",...}\n\n
//	data: {"type":"live","clock":"2026-10-16 12:00:00 UTC (DoY 289)","passes":[...]}\n\n
//
// GET /api/v1/stream/track is a WebSocket carrying the same metadata message
// followed by one track message per (slower) tick.
//
// Metadata is re-sent whenever the horizon is rebuilt, so clients always know
// which catalog the following messages come from.
package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/star/passwatch/internal/httputil"
	"github.com/star/passwatch/internal/metrics"
)

// Config holds streaming configuration.
type Config struct {
	LiveInterval       time.Duration // live table cadence (default 1s)
	TrackInterval      time.Duration // ground track cadence (default 10s)
	KeepaliveInterval  time.Duration // SSE comment / WebSocket ping interval
	MaxConcurrentPerIP int
	MaxTotal           int // 0 means 1000
	TrustProxy         bool
}

// Handler serves both stream endpoints.
type Handler struct {
	snaps    Snapshots
	config   Config
	limiter  *connLimiter
	upgrader websocket.Upgrader
	logger   *slog.Logger
	now      func() time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// NewHandler creates a stream handler reading from snaps.
func NewHandler(snaps Snapshots, config Config, logger *slog.Logger) *Handler {
	return &Handler{
		snaps:   snaps,
		config:  config,
		limiter: newConnLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
		logger: logger.With("component", "stream"),
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Close ends every open stream. http.Server.Shutdown does not track
// hijacked WebSocket connections, so it must be called before shutdown.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// admit enforces the concurrent-stream limits. On success the caller must
// call h.leave(ip) when the stream ends.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, kind string) (string, bool) {
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"kind", kind,
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		writeJSONError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return "", false
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()
	h.logger.Info("stream connected",
		"kind", kind,
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
	)
	return ip, true
}

func (h *Handler) leave(ip, kind string, started time.Time) {
	h.limiter.release(ip)
	metrics.IncStreamConnections("disconnect")
	metrics.DecStreamsActive()
	h.logger.Info("stream disconnected",
		"kind", kind,
		"remote_ip", ip,
		"duration_seconds", int(time.Since(started).Seconds()),
	)
}

// knownStation validates the optional ?station= filter.
func (h *Handler) knownStation(name string) bool {
	if name == "" {
		return true
	}
	for _, s := range h.snaps.Stations() {
		if s.Name == name {
			return true
		}
	}
	return false
}
