// Package api wires the HTTP surface: probes, metrics, the JSON API, the
// push streams and the embedded dashboard.
package api

import (
	"bufio"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/star/passwatch/internal/auth"
	"github.com/star/passwatch/internal/health"
	"github.com/star/passwatch/internal/metrics"
	"github.com/star/passwatch/internal/stream"
)

// Horizon is what the API needs from the horizon tracker.
type Horizon interface {
	stream.Snapshots
	Ready() error
	RequestRefresh() bool
}

// Options configures NewServer.
type Options struct {
	Addr   string
	Auth   auth.Config
	Stream *stream.Handler // nil disables the stream routes
	Static fs.FS           // dashboard assets; nil disables "/"
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(opts Options, hz Horizon, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	h := &handlers{hz: hz, logger: logger, now: time.Now}

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(hz.Ready))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/spacecraft", h.spacecraft)
	mux.HandleFunc("GET /api/v1/stations", h.stations)
	mux.HandleFunc("GET /api/v1/passes", h.passes)
	mux.HandleFunc("GET /api/v1/live", h.live)
	mux.HandleFunc("GET /api/v1/track", h.track)
	mux.HandleFunc("GET /api/v1/horizon", h.horizon)
	mux.HandleFunc("POST /api/v1/horizon/refresh", h.refresh)

	if opts.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/live", opts.Stream.HandleLive)
		mux.HandleFunc("GET /api/v1/stream/track", opts.Stream.HandleTrack)
	}
	if opts.Static != nil {
		mux.Handle("GET /", http.FileServerFS(opts.Static))
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(opts.Auth)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second, // streams clear or extend their own deadlines
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for probe and scrape paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if sr.statusCode == http.StatusOK {
		sr.statusCode = http.StatusSwitchingProtocols
	}
	return http.NewResponseController(sr.ResponseWriter).Hijack()
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
