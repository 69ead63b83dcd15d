package horizon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/star/passwatch/internal/passes"
	"github.com/star/passwatch/internal/propagation"
	"github.com/star/passwatch/internal/tle"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var (
	cryosat = tle.Entry{
		Name:          "CRYOSAT 2",
		CatalogNumber: 36508,
		MeanMotion:    14.523,
		Line1:         "1 36508U 10013A   26288.50000000  .00000120  00000-0  31000-4 0  9999",
		Line2:         "2 36508  92.0200 210.4500 0013000  95.0000 265.1000 14.52300000 85009",
	}
	// Same spacecraft, newer elements: mean anomaly advanced by 10 degrees.
	cryosatUpdated = tle.Entry{
		Name:          "CRYOSAT 2",
		CatalogNumber: 36508,
		MeanMotion:    14.523,
		Line1:         cryosat.Line1,
		Line2:         "2 36508  92.0200 210.4500 0013000  95.0000 275.1000 14.52300000 85000",
	}
	now = time.Date(2026, 10, 16, 0, 0, 0, 500_000_000, time.UTC)
)

// fakeSource hands out a configurable dataset.
type fakeSource struct {
	mu    sync.Mutex
	entry tle.Entry
	err   error
	calls int
}

func (f *fakeSource) Load(ctx context.Context) (*tle.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &tle.Dataset{Source: "file", FetchedAt: now, Entry: f.entry}, nil
}

func (f *fakeSource) set(e tle.Entry) {
	f.mu.Lock()
	f.entry = e
	f.mu.Unlock()
}

var testStations = []passes.Station{
	{Name: "KIRUNA", Location: passes.Location{Lat: 67.857, Lon: 20.964, Alt: 0.402}},
	{Name: "SVALBARD", Location: passes.Location{Lat: 78.231, Lon: 15.389, Alt: 0.5}},
}

func newTracker(t *testing.T, src *fakeSource) *Tracker {
	t.Helper()
	cfg := Config{Resolution: 30 * time.Second, Horizon: 6 * time.Hour, Threshold: 5, Workers: 2}
	tr := NewTracker(cfg, testStations, src, tle.NewStore(), propagation.NewWorkerPool(2, testLogger()), testLogger())
	tr.now = func() time.Time { return now }
	return tr
}

func TestTrackerInit(t *testing.T) {
	tr := newTracker(t, &fakeSource{entry: cryosat})

	if err := tr.Ready(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Ready before Init = %v, want ErrNotReady", err)
	}
	if tr.Current() != nil {
		t.Fatal("snapshot published before Init")
	}

	snap, err := tr.Init(context.Background())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := tr.Ready(); err != nil {
		t.Errorf("Ready after Init = %v", err)
	}
	if tr.Current() != snap {
		t.Error("Current does not return the published snapshot")
	}

	// Grid starts on a whole second at or before now.
	if want := now.Truncate(time.Second); !snap.Grid.Start.Equal(want) {
		t.Errorf("grid start = %v, want %v", snap.Grid.Start, want)
	}
	if got, want := len(snap.Grid.Instants), 720; got != want {
		t.Errorf("grid size = %d, want %d", got, want)
	}
	if len(snap.Catalog.Passes) == 0 {
		t.Error("polar stations saw no passes over six hours")
	}
	if p := snap.Period(); p < 99*time.Minute || p > 100*time.Minute {
		t.Errorf("period = %v, want ~99m", p)
	}
}

func TestTrackerInitSourceError(t *testing.T) {
	tr := newTracker(t, &fakeSource{err: tle.ErrNotFound})
	if _, err := tr.Init(context.Background()); !errors.Is(err, tle.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if tr.Ready() == nil {
		t.Error("tracker ready after failed Init")
	}
}

func TestTrackerRebuildKeepsOldSnapshotOnFailure(t *testing.T) {
	tr := newTracker(t, &fakeSource{entry: cryosat})
	first, err := tr.Init(context.Background())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	bad := &tle.Dataset{Source: "file", Entry: tle.Entry{Name: "BROKEN", Line1: "1", Line2: "2"}}
	if _, err := tr.Rebuild(context.Background(), bad, now, "test"); err == nil {
		t.Fatal("expected error for malformed element set")
	}
	if tr.Current() != first {
		t.Error("failed rebuild replaced the published snapshot")
	}

	if _, err := tr.Rebuild(context.Background(), nil, now, "test"); err == nil {
		t.Error("expected error for nil dataset")
	}
}

func TestTrackerCheckElements(t *testing.T) {
	src := &fakeSource{entry: cryosat}
	tr := newTracker(t, src)
	first, err := tr.Init(context.Background())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	tr.checkElements(context.Background())
	if tr.Current() != first {
		t.Error("unchanged element set triggered a rebuild")
	}

	src.set(cryosatUpdated)
	tr.checkElements(context.Background())
	got := tr.Current()
	if got == first {
		t.Fatal("changed element set did not trigger a rebuild")
	}
	if got.Dataset.Entry.Line2 != cryosatUpdated.Line2 {
		t.Errorf("snapshot elements = %q, want updated set", got.Dataset.Entry.Line2)
	}
	if got.Catalog.ID == first.Catalog.ID {
		t.Error("new catalog reused the old ID")
	}

	src.err = errors.New("offline")
	tr.checkElements(context.Background())
	if tr.Current() != got {
		t.Error("failed check replaced the snapshot")
	}
}

func TestTrackerCheckExpiry(t *testing.T) {
	tr := newTracker(t, &fakeSource{entry: cryosat})
	first, err := tr.Init(context.Background())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Plenty of horizon left.
	tr.now = func() time.Time { return now.Add(time.Hour) }
	tr.checkExpiry(context.Background())
	if tr.Current() != first {
		t.Error("rebuilt with most of the horizon remaining")
	}

	// Less than a quarter of the horizon left.
	later := now.Add(5 * time.Hour)
	tr.now = func() time.Time { return later }
	tr.checkExpiry(context.Background())
	got := tr.Current()
	if got == first {
		t.Fatal("expected rebuild near horizon end")
	}
	if !got.Grid.Start.Equal(later.Truncate(time.Second)) {
		t.Errorf("new grid start = %v, want %v", got.Grid.Start, later)
	}
}

func TestTrackerRequestRefresh(t *testing.T) {
	tr := newTracker(t, &fakeSource{entry: cryosat})
	if !tr.RequestRefresh() {
		t.Error("first request not queued")
	}
	if tr.RequestRefresh() {
		t.Error("second request should coalesce with the pending one")
	}
}

func TestTrackerStartServesRequests(t *testing.T) {
	tr := newTracker(t, &fakeSource{entry: cryosat})
	first, err := tr.Init(context.Background())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Start(ctx)
		close(done)
	}()

	tr.RequestRefresh()
	deadline := time.After(30 * time.Second)
	for tr.Current() == first {
		select {
		case <-deadline:
			t.Fatal("refresh request not served")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
