package tle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/star/passwatch/internal/metrics"
)

// DefaultBaseURL is the Celestrak GP query endpoint.
const DefaultBaseURL = "https://celestrak.org/NORAD/elements/gp.php"

// maxBodyBytes caps a single response; a name query returns a few hundred
// bytes, so anything near this is not TLE data.
const maxBodyBytes = 50 << 20

// Fetcher retrieves element sets over HTTP.
type Fetcher struct {
	baseURL    string
	extraURLs  []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher that queries baseURL by name. Extra URLs are
// fetched verbatim and appended to the result; their failures are logged
// and ignored.
func NewFetcher(baseURL string, logger *slog.Logger, extraURLs ...string) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Fetcher{
		baseURL:   baseURL,
		extraURLs: extraURLs,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// QueryURL returns the URL used to look up name.
func (f *Fetcher) QueryURL(name string) string {
	q := url.Values{}
	q.Set("NAME", name)
	q.Set("FORMAT", "tle")
	return f.baseURL + "?" + q.Encode()
}

// FetchByName downloads the element sets matching name.
func (f *Fetcher) FetchByName(ctx context.Context, name string) ([]byte, error) {
	body, err := f.get(ctx, f.QueryURL(name))
	if err != nil {
		metrics.IncTLEFetches("error")
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(body)
	for _, u := range f.extraURLs {
		extra, err := f.get(ctx, u)
		if err != nil {
			f.logger.Warn("extra TLE source failed", "url", u, "error", err)
			continue
		}
		if buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
			buf.WriteByte('\n')
		}
		buf.Write(extra)
	}

	metrics.IncTLEFetches("ok")
	return buf.Bytes(), nil
}

func (f *Fetcher) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, u)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response from %s exceeds %d byte limit", u, maxBodyBytes)
	}
	return body, nil
}
