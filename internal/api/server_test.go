package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"

	"github.com/star/passwatch/internal/auth"
	"github.com/star/passwatch/internal/horizon"
	"github.com/star/passwatch/internal/passes"
	"github.com/star/passwatch/internal/propagation"
	"github.com/star/passwatch/internal/stream"
	"github.com/star/passwatch/internal/tle"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var (
	horizonStart = time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	testStations = []passes.Station{
		{Name: "KIRUNA", Location: passes.Location{Lat: 67.857, Lon: 20.964, Alt: 0.402}},
		{Name: "SVALBARD", Location: passes.Location{Lat: 78.231, Lon: 15.389, Alt: 0.5}},
		{Name: "TROLL", Location: passes.Location{Lat: -72.012, Lon: 2.535, Alt: 1.27}},
	}

	trackerOnce sync.Once
	sharedTr    *horizon.Tracker
	trackerErr  error
)

func builtTracker(t *testing.T) *horizon.Tracker {
	t.Helper()
	trackerOnce.Do(func() {
		sharedTr = horizon.NewTracker(horizon.Config{
			Resolution: 30 * time.Second,
			Horizon:    12 * time.Hour,
			Threshold:  5,
			Workers:    2,
		}, testStations, nil, tle.NewStore(), propagation.NewWorkerPool(2, testLogger()), testLogger())
		_, trackerErr = sharedTr.Rebuild(context.Background(), &tle.Dataset{
			Source:    "file",
			FetchedAt: horizonStart,
			Entry: tle.Entry{
				Name:          "CRYOSAT 2",
				CatalogNumber: 36508,
				MeanMotion:    14.523,
				Line1:         "1 36508U 10013A   26288.50000000  .00000120  00000-0  31000-4 0  9999",
				Line2:         "2 36508  92.0200 210.4500 0013000  95.0000 265.1000 14.52300000 85009",
			},
		}, horizonStart, "test")
	})
	if trackerErr != nil {
		t.Fatalf("building horizon: %v", trackerErr)
	}
	return sharedTr
}

// notReady is a tracker that has not built anything yet.
type notReady struct{ refreshes int }

func (n *notReady) Current() *horizon.Snapshot  { return nil }
func (n *notReady) Stations() []passes.Station { return testStations }
func (n *notReady) Threshold() float64         { return 5 }
func (n *notReady) Ready() error               { return horizon.ErrNotReady }
func (n *notReady) RequestRefresh() bool       { n.refreshes++; return true }

// frozen wraps a built tracker but does not queue refreshes.
type frozen struct {
	*horizon.Tracker
	refreshes int
}

func (f *frozen) RequestRefresh() bool { f.refreshes++; return f.refreshes == 1 }

func newTestServer(t *testing.T, hz Horizon, authCfg auth.Config) *Server {
	t.Helper()
	s := NewServer(Options{
		Addr: ":0",
		Auth: authCfg,
		Static: fstest.MapFS{
			"index.html": {Data: []byte("<html>passwatch</html>")},
		},
	}, hz, testLogger())
	return s
}

func do(t *testing.T, h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestProbes(t *testing.T) {
	s := newTestServer(t, &notReady{}, auth.Config{})
	if w := do(t, s.Handler(), "GET", "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("/healthz = %d", w.Code)
	}
	if w := do(t, s.Handler(), "GET", "/readyz", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before first build = %d, want 503", w.Code)
	}

	s = newTestServer(t, &frozen{Tracker: builtTracker(t)}, auth.Config{})
	if w := do(t, s.Handler(), "GET", "/readyz", nil); w.Code != http.StatusOK {
		t.Errorf("/readyz after build = %d, want 200", w.Code)
	}
	w := do(t, s.Handler(), "GET", "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "passwatch_http_requests_total") {
		t.Errorf("/metrics = %d, missing request counter", w.Code)
	}
}

func TestNotReadyRoutes(t *testing.T) {
	s := newTestServer(t, &notReady{}, auth.Config{})
	for _, path := range []string{"/api/v1/spacecraft", "/api/v1/passes", "/api/v1/live", "/api/v1/track", "/api/v1/horizon"} {
		w := do(t, s.Handler(), "GET", path, nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s = %d, want 503", path, w.Code)
		}
		var body map[string]string
		decode(t, w, &body)
		if body["error"] == "" {
			t.Errorf("%s: missing error field", path)
		}
	}
	// The inventory is known before any build.
	if w := do(t, s.Handler(), "GET", "/api/v1/stations", nil); w.Code != http.StatusOK {
		t.Errorf("/api/v1/stations = %d", w.Code)
	}
}

func TestSpacecraft(t *testing.T) {
	s := newTestServer(t, &frozen{Tracker: builtTracker(t)}, auth.Config{})
	w := do(t, s.Handler(), "GET", "/api/v1/spacecraft", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var meta stream.Metadata
	decode(t, w, &meta)
	if meta.Spacecraft != "CRYOSAT 2" || meta.CatalogNumber != 36508 {
		t.Errorf("metadata = %+v", meta)
	}
	if !strings.HasPrefix(meta.Line1, "1 36508") || !strings.HasPrefix(meta.Line2, "2 36508") {
		t.Errorf("TLE lines = %q / %q", meta.Line1, meta.Line2)
	}
	if len(meta.Stations) != 3 {
		t.Errorf("stations = %v", meta.Stations)
	}
}

func TestPasses(t *testing.T) {
	tr := builtTracker(t)
	s := newTestServer(t, &frozen{Tracker: tr}, auth.Config{})

	w := do(t, s.Handler(), "GET", "/api/v1/passes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var all catalogResponse
	decode(t, w, &all)
	if all.ID != tr.Current().Catalog.ID {
		t.Errorf("catalog id = %q", all.ID)
	}
	if len(all.Passes) != len(tr.Current().Catalog.Passes) || len(all.Passes) == 0 {
		t.Fatalf("got %d passes, want %d", len(all.Passes), len(tr.Current().Catalog.Passes))
	}
	if all.ResolutionSeconds != 30 || all.Threshold != 5 {
		t.Errorf("parameters = %v s / %v deg", all.ResolutionSeconds, all.Threshold)
	}
	for i := 1; i < len(all.Passes); i++ {
		prev, cur := all.Passes[i-1], all.Passes[i]
		if cur.AOS.Before(prev.AOS) || (cur.AOS.Equal(prev.AOS) && cur.Station < prev.Station) {
			t.Errorf("passes %d and %d out of order", i-1, i)
		}
	}

	w = do(t, s.Handler(), "GET", "/api/v1/passes?station=SVALBARD", nil)
	var one catalogResponse
	decode(t, w, &one)
	for _, p := range one.Passes {
		if p.Station != "SVALBARD" {
			t.Errorf("filter leaked station %q", p.Station)
		}
	}
	if len(one.Passes) == 0 || len(one.Passes) >= len(all.Passes) {
		t.Errorf("filtered %d of %d passes", len(one.Passes), len(all.Passes))
	}

	if w := do(t, s.Handler(), "GET", "/api/v1/passes?station=ATLANTIS", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown station = %d, want 404", w.Code)
	}
}

func TestLive(t *testing.T) {
	tr := builtTracker(t)
	s := newTestServer(t, &frozen{Tracker: tr}, auth.Config{})
	first := tr.Current().Catalog.Passes[0]

	// Halfway through the first pass of the horizon.
	at := first.AOS.Add(first.Duration() / 2).Truncate(time.Second)
	w := do(t, s.Handler(), "GET", "/api/v1/live?at="+at.Format(time.RFC3339), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var msg struct {
		Type   string `json:"type"`
		Clock  string `json:"clock"`
		Passes []struct {
			Station   string `json:"station"`
			AOS       string `json:"aos"`
			Countdown string `json:"countdown"`
			Active    bool   `json:"active"`
		} `json:"passes"`
	}
	decode(t, w, &msg)
	if msg.Type != "live" {
		t.Errorf("type = %q", msg.Type)
	}
	if want := passes.FormatClock(at); msg.Clock != want {
		t.Errorf("clock = %q, want %q", msg.Clock, want)
	}
	if len(msg.Passes) == 0 {
		t.Fatal("empty live table")
	}
	row := msg.Passes[0]
	if row.Station != first.Station || !row.Active {
		t.Errorf("first row = %+v, want active %s", row, first.Station)
	}
	if row.AOS != first.AOS.Format(passes.TimestampLayout) {
		t.Errorf("aos = %q", row.AOS)
	}
	if want := passes.FormatHMS(first.LOS.Sub(at)); row.Countdown != want {
		t.Errorf("countdown = %q, want %q", row.Countdown, want)
	}

	if w := do(t, s.Handler(), "GET", "/api/v1/live?at=yesterday", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad at = %d, want 400", w.Code)
	}
}

func TestTrack(t *testing.T) {
	tr := builtTracker(t)
	s := newTestServer(t, &frozen{Tracker: tr}, auth.Config{})
	at := horizonStart.Add(time.Hour)

	w := do(t, s.Handler(), "GET", "/api/v1/track?at="+at.Format(time.RFC3339), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var msg stream.TrackMessage
	decode(t, w, &msg)
	if msg.Marker == nil || !msg.Marker.Time.Equal(at.Add(30*time.Second)) {
		t.Errorf("marker = %+v", msg.Marker)
	}
	// ~99 minutes at 30 s.
	if n := len(msg.Track); n < 195 || n > 200 {
		t.Errorf("track points = %d", n)
	}
}

func TestHorizon(t *testing.T) {
	tr := builtTracker(t)
	s := newTestServer(t, &frozen{Tracker: tr}, auth.Config{})
	w := do(t, s.Handler(), "GET", "/api/v1/horizon", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	decode(t, w, &body)
	if body["catalog_id"] != tr.Current().Catalog.ID {
		t.Errorf("catalog_id = %v", body["catalog_id"])
	}
	if body["samples"].(float64) != 1440 {
		t.Errorf("samples = %v, want 1440", body["samples"])
	}
}

func TestRefreshAuth(t *testing.T) {
	hz := &frozen{Tracker: builtTracker(t)}
	s := newTestServer(t, hz, auth.Config{Enabled: true, Token: "tok"})

	if w := do(t, s.Handler(), "POST", "/api/v1/horizon/refresh", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("without token = %d, want 401", w.Code)
	}
	if hz.refreshes != 0 {
		t.Fatal("unauthenticated request reached the tracker")
	}

	hdr := http.Header{"Authorization": {"Bearer tok"}}
	w := do(t, s.Handler(), "POST", "/api/v1/horizon/refresh", hdr)
	if w.Code != http.StatusAccepted {
		t.Fatalf("with token = %d, want 202", w.Code)
	}
	var body map[string]bool
	decode(t, w, &body)
	if !body["queued"] {
		t.Error("first refresh not queued")
	}

	w = do(t, s.Handler(), "POST", "/api/v1/horizon/refresh", hdr)
	decode(t, w, &body)
	if body["queued"] {
		t.Error("second refresh should report coalesced")
	}

	// Reads stay public with auth enabled.
	if w := do(t, s.Handler(), "GET", "/api/v1/passes", nil); w.Code != http.StatusOK {
		t.Errorf("GET with auth enabled = %d", w.Code)
	}
}

func TestStaticDashboard(t *testing.T) {
	s := newTestServer(t, &notReady{}, auth.Config{})
	w := do(t, s.Handler(), "GET", "/", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "passwatch") {
		t.Errorf("/ = %d %q", w.Code, w.Body.String())
	}
	if w := do(t, s.Handler(), "GET", "/missing.js", nil); w.Code != http.StatusNotFound {
		t.Errorf("/missing.js = %d, want 404", w.Code)
	}
}

// TestStreamsThroughMiddleware runs both push streams behind the full
// middleware chain, which must pass flushing and hijacking through.
func TestStreamsThroughMiddleware(t *testing.T) {
	tr := builtTracker(t)
	sh := stream.NewHandler(tr, stream.Config{
		LiveInterval:       50 * time.Millisecond,
		TrackInterval:      50 * time.Millisecond,
		KeepaliveInterval:  time.Second,
		MaxConcurrentPerIP: 4,
	}, testLogger())
	defer sh.Close()

	s := NewServer(Options{Stream: sh}, &frozen{Tracker: tr}, testLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	t.Run("sse", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/v1/stream/live", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer resp.Body.Close()
		if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
			t.Fatalf("Content-Type = %q", ct)
		}

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 1<<20), 1<<20)
		var types []string
		for len(types) < 2 && sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var m map[string]any
			if err := json.Unmarshal([]byte(line[len("data: "):]), &m); err != nil {
				t.Fatalf("bad event: %v", err)
			}
			types = append(types, m["type"].(string))
		}
		if len(types) != 2 || types[0] != "metadata" || types[1] != "live" {
			t.Errorf("event types = %v, want [metadata live]", types)
		}
	})

	t.Run("websocket", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream/track"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))

		var meta stream.Metadata
		if err := conn.ReadJSON(&meta); err != nil || meta.Type != "metadata" {
			t.Fatalf("metadata = %+v, %v", meta, err)
		}
		var msg stream.TrackMessage
		if err := conn.ReadJSON(&msg); err != nil || msg.Type != "track" {
			t.Fatalf("track = %q, %v", msg.Type, err)
		}
	})
}
