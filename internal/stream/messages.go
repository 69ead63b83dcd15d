package stream

import (
	"time"

	"github.com/star/passwatch/internal/horizon"
	"github.com/star/passwatch/internal/metrics"
	"github.com/star/passwatch/internal/passes"
	"github.com/star/passwatch/internal/track"
)

// Snapshots is the read side of the horizon tracker.
type Snapshots interface {
	Current() *horizon.Snapshot
	Stations() []passes.Station
	Threshold() float64
}

// Metadata describes the spacecraft and the catalog in use. It is the first
// message on every stream and is re-sent whenever the catalog is replaced.
type Metadata struct {
	Type          string    `json:"type"`
	Spacecraft    string    `json:"spacecraft"`
	CatalogNumber int       `json:"catalog_number"`
	Line1         string    `json:"line1"`
	Line2         string    `json:"line2"`
	Epoch         time.Time `json:"epoch"`
	PeriodSeconds float64   `json:"period_seconds"`
	TLESource     string    `json:"tle_source"`
	TLEAgeSeconds int       `json:"tle_age_seconds"`
	CatalogID     string    `json:"catalog_id"`
	HorizonStart  time.Time `json:"horizon_start"`
	HorizonEnd    time.Time `json:"horizon_end"`
	Threshold     float64   `json:"elevation_threshold"`
	Stations      []string  `json:"stations"`
}

// NewMetadata describes snap as seen at now.
func NewMetadata(snap *horizon.Snapshot, now time.Time) Metadata {
	ds := snap.Dataset
	names := make([]string, len(snap.Catalog.Stations))
	for i, s := range snap.Catalog.Stations {
		names[i] = s.Name
	}
	return Metadata{
		Type:          "metadata",
		Spacecraft:    ds.Entry.Name,
		CatalogNumber: ds.Entry.CatalogNumber,
		Line1:         ds.Entry.Line1,
		Line2:         ds.Entry.Line2,
		Epoch:         ds.Entry.Epoch,
		PeriodSeconds: snap.Period().Seconds(),
		TLESource:     ds.Source,
		TLEAgeSeconds: int(now.Sub(ds.FetchedAt).Seconds()),
		CatalogID:     snap.Catalog.ID,
		HorizonStart:  snap.Catalog.Start,
		HorizonEnd:    snap.Catalog.End,
		Threshold:     snap.Catalog.Threshold,
		Stations:      names,
	}
}

// LiveMessage is the pass table at one instant.
type LiveMessage struct {
	Type      string            `json:"type"`
	Now       time.Time         `json:"now"`
	Clock     string            `json:"clock"`
	CatalogID string            `json:"catalog_id"`
	Passes    []passes.LiveView `json:"passes"`
}

// NewLiveMessage projects the catalog in snap against now. A non-empty
// station restricts the table to that station.
func NewLiveMessage(snap *horizon.Snapshot, station string, now time.Time) LiveMessage {
	src := snap.Catalog.Passes
	if station != "" {
		src = snap.Catalog.ForStation(station)
	}
	metrics.IncLiveProjections()
	return LiveMessage{
		Type:      "live",
		Now:       now.UTC(),
		Clock:     passes.FormatClock(now),
		CatalogID: snap.Catalog.ID,
		Passes:    passes.Project(src, now),
	}
}

// TrackMessage is the current-revolution ground track with visibility lines.
type TrackMessage struct {
	Type      string `json:"type"`
	CatalogID string `json:"catalog_id"`
	track.View
}

// NewTrackMessage computes the track view of snap at now.
func NewTrackMessage(snap *horizon.Snapshot, stations []passes.Station, threshold float64, now time.Time) (TrackMessage, error) {
	view, err := track.Compute(track.Input{
		Provider:  snap.Ephemeris,
		Grid:      snap.Grid,
		Period:    snap.Period(),
		Stations:  stations,
		Threshold: threshold,
	}, now)
	if err != nil {
		return TrackMessage{}, err
	}
	return TrackMessage{Type: "track", CatalogID: snap.Catalog.ID, View: *view}, nil
}
