package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/passwatch/internal/metrics"
)

const writeTimeout = 30 * time.Second

// sseClient writes Server-Sent Events to one connection.
type sseClient struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	logger *slog.Logger

	messages int64
	bytes    int64
}

// extendDeadline pushes the write deadline out before each write; the server
// WriteTimeout would otherwise cut long-lived streams.
func (c *sseClient) extendDeadline() {
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}
}

func (c *sseClient) flush() {
	if err := c.rc.Flush(); err != nil {
		c.logger.Debug("flush failed", "error", err)
	}
}

// send writes v as one "data: {json}\n\n" event.
func (c *sseClient) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}

	c.extendDeadline()
	n, err := fmt.Fprintf(c.w, "data: %s\n\n", data)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.flush()

	c.messages++
	c.bytes += int64(n)
	metrics.IncStreamMessages()
	metrics.AddStreamBytes(int64(n))
	return nil
}

// retry tells the browser how long to wait before reconnecting.
func (c *sseClient) retry(d time.Duration) error {
	c.extendDeadline()
	n, err := fmt.Fprintf(c.w, "retry: %d\n\n", d.Milliseconds())
	if err != nil {
		return fmt.Errorf("retry write: %w", err)
	}
	c.flush()
	c.bytes += int64(n)
	return nil
}

// keepalive writes an SSE comment so idle proxies keep the connection open.
func (c *sseClient) keepalive() error {
	c.extendDeadline()
	n, err := fmt.Fprint(c.w, ":\n\n")
	if err != nil {
		return fmt.Errorf("keepalive write: %w", err)
	}
	c.flush()
	c.bytes += int64(n)
	metrics.AddStreamBytes(int64(n))
	return nil
}
