package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/passwatch/internal/horizon"
	"github.com/star/passwatch/internal/passes"
	"github.com/star/passwatch/internal/stream"
)

type handlers struct {
	hz     Horizon
	logger *slog.Logger
	now    func() time.Time
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// snapshot returns the current horizon or replies 503.
func (h *handlers) snapshot(w http.ResponseWriter) (*horizon.Snapshot, bool) {
	snap := h.hz.Current()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "pass catalog not ready")
		return nil, false
	}
	return snap, true
}

// at parses the optional ?at= override, defaulting to the server clock.
func (h *handlers) at(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	v := r.URL.Query().Get("at")
	if v == "" {
		return h.now().UTC(), true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid at parameter, want RFC 3339")
		return time.Time{}, false
	}
	return t.UTC(), true
}

// station validates the optional ?station= filter.
func (h *handlers) station(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.URL.Query().Get("station")
	if name == "" {
		return "", true
	}
	for _, s := range h.hz.Stations() {
		if s.Name == name {
			return name, true
		}
	}
	writeError(w, http.StatusNotFound, "unknown station")
	return "", false
}

// GET /api/v1/spacecraft
func (h *handlers) spacecraft(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, stream.NewMetadata(snap, h.now()))
}

// GET /api/v1/stations
func (h *handlers) stations(w http.ResponseWriter, r *http.Request) {
	st := h.hz.Stations()
	if st == nil {
		st = []passes.Station{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stations": st})
}

type catalogResponse struct {
	ID                string          `json:"id"`
	GeneratedAt       time.Time       `json:"generated_at"`
	Start             time.Time       `json:"start"`
	End               time.Time       `json:"end"`
	ResolutionSeconds float64         `json:"resolution_seconds"`
	Threshold         float64         `json:"elevation_threshold"`
	Stations          []string        `json:"stations"`
	Passes            []passes.Pass   `json:"passes"`
	Failures          []stationFailed `json:"failures"`
}

type stationFailed struct {
	Station string `json:"station"`
	Error   string `json:"error"`
}

// GET /api/v1/passes?station=KIRUNA
func (h *handlers) passes(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	station, ok := h.station(w, r)
	if !ok {
		return
	}

	cat := snap.Catalog
	resp := catalogResponse{
		ID:                cat.ID,
		GeneratedAt:       cat.GeneratedAt,
		Start:             cat.Start,
		End:               cat.End,
		ResolutionSeconds: cat.Resolution.Seconds(),
		Threshold:         cat.Threshold,
		Stations:          make([]string, 0, len(cat.Stations)),
		Passes:            cat.Passes,
		Failures:          make([]stationFailed, 0, len(cat.Failures)),
	}
	for _, s := range cat.Stations {
		resp.Stations = append(resp.Stations, s.Name)
	}
	for _, f := range cat.Failures {
		resp.Failures = append(resp.Failures, stationFailed{Station: f.Station, Error: f.Err.Error()})
	}
	if station != "" {
		resp.Passes = cat.ForStation(station)
	}
	if resp.Passes == nil {
		resp.Passes = []passes.Pass{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/v1/live?at=2026-10-16T12:00:00Z&station=KIRUNA
func (h *handlers) live(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	now, ok := h.at(w, r)
	if !ok {
		return
	}
	station, ok := h.station(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, stream.NewLiveMessage(snap, station, now))
}

// GET /api/v1/track?at=2026-10-16T12:00:00Z
func (h *handlers) track(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	now, ok := h.at(w, r)
	if !ok {
		return
	}
	msg, err := stream.NewTrackMessage(snap, h.hz.Stations(), h.hz.Threshold(), now)
	if err != nil {
		h.logger.Error("track computation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "track computation failed")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// GET /api/v1/horizon
func (h *handlers) horizon(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	now := h.now()
	writeJSON(w, http.StatusOK, map[string]any{
		"catalog_id":        snap.Catalog.ID,
		"built_at":          snap.BuiltAt,
		"start":             snap.Grid.Start,
		"end":               snap.Grid.End(),
		"samples":           len(snap.Grid.Instants),
		"remaining_seconds": max(0, snap.Grid.End().Sub(now).Seconds()),
		"tle_source":        snap.Dataset.Source,
		"tle_fetched_at":    snap.Dataset.FetchedAt,
		"passes":            len(snap.Catalog.Passes),
		"station_failures":  len(snap.Catalog.Failures),
	})
}

// POST /api/v1/horizon/refresh
func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	queued := h.hz.RequestRefresh()
	h.logger.Info("horizon refresh requested", "queued", queued, "remote_ip", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}
