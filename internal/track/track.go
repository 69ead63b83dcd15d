// Package track derives the map view of the spacecraft: the ground track of
// the current revolution and the stations that can see it right now.
package track

import (
	"fmt"
	"math"
	"time"

	"github.com/star/passwatch/internal/passes"
)

// Line joins the spacecraft to a station that currently sees it.
type Line struct {
	Station   string          `json:"station"`
	From      passes.GeoPoint `json:"from"` // sub-satellite point
	To        passes.Location `json:"to"`   // station
	Elevation float64         `json:"elevation"`
	Azimuth   float64         `json:"azimuth"`
}

// View is one track update.
type View struct {
	Now           time.Time         `json:"now"`
	PeriodSeconds float64           `json:"period_seconds"`
	Marker        *passes.GeoPoint  `json:"marker,omitempty"` // nil once the horizon is exhausted
	Track         []passes.GeoPoint `json:"track"`
	Visibility    []Line            `json:"visibility"`
}

// Input bundles what a track computation reads. Everything is owned by the
// current horizon and treated as read-only.
type Input struct {
	Provider  passes.LookAngleProvider
	Grid      passes.Grid
	Period    time.Duration
	Stations  []passes.Station
	Threshold float64
}

// Window returns the grid instants t with now < t < now+period, i.e. at most
// one revolution ahead of now.
func Window(g passes.Grid, period time.Duration, now time.Time) []time.Time {
	if period <= 0 {
		return nil
	}
	end := now.Add(period)
	lo := g.IndexAfter(now)
	hi := lo
	for hi < len(g.Instants) && g.Instants[hi].Before(end) {
		hi++
	}
	return g.Instants[lo:hi]
}

// Compute builds the view for now. The marker is the first point of the
// window; visibility is evaluated at that same instant so the lines start
// at the marker.
func Compute(in Input, now time.Time) (*View, error) {
	view := &View{
		Now:           now.UTC(),
		PeriodSeconds: in.Period.Seconds(),
		Track:         []passes.GeoPoint{},
		Visibility:    []Line{},
	}

	window := Window(in.Grid, in.Period, now)
	if len(window) == 0 {
		return view, nil
	}

	points, err := in.Provider.GroundTrack(window)
	if err != nil {
		return nil, fmt.Errorf("ground track: %w", err)
	}
	if len(points) != len(window) {
		return nil, fmt.Errorf("%w: ground track has %d points for %d instants",
			passes.ErrInconsistentProviderOutput, len(points), len(window))
	}
	for _, p := range points {
		if finite(p) {
			view.Track = append(view.Track, p)
		}
	}

	first := points[0]
	if !finite(first) {
		return view, nil
	}
	view.Marker = &first

	at := window[:1]
	for _, st := range in.Stations {
		angles, err := in.Provider.LookAngles(st.Location, at)
		if err != nil || len(angles) != 1 {
			continue
		}
		if la := angles[0]; la.Elevation > in.Threshold {
			view.Visibility = append(view.Visibility, Line{
				Station:   st.Name,
				From:      first,
				To:        st.Location,
				Elevation: la.Elevation,
				Azimuth:   la.Azimuth,
			})
		}
	}
	return view, nil
}

func finite(p passes.GeoPoint) bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) && !math.IsNaN(p.Alt)
}
