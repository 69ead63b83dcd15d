// Package tle acquires and parses the two-line element set of the tracked
// spacecraft: from a local file, or from Celestrak by name with an on-disk
// cache as fallback.
package tle

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no entry matches the requested name.
	ErrNotFound = errors.New("spacecraft not found in TLE data")

	// ErrMalformed is returned for element sets that cannot be used.
	ErrMalformed = errors.New("malformed TLE")
)

// Entry is one parsed element set.
type Entry struct {
	Name          string    `json:"name"`
	CatalogNumber int       `json:"catalog_number"`
	Epoch         time.Time `json:"epoch"`
	MeanMotion    float64   `json:"mean_motion"` // revolutions per day
	Line1         string    `json:"line1"`
	Line2         string    `json:"line2"`
}

// Period returns the orbital period implied by the mean motion, or zero when
// the mean motion is not positive.
func (e Entry) Period() time.Duration {
	if e.MeanMotion <= 0 {
		return 0
	}
	return time.Duration(float64(24*time.Hour) / e.MeanMotion)
}

// SameElements reports whether two entries carry identical element lines.
func (e Entry) SameElements(o Entry) bool {
	return e.Line1 == o.Line1 && e.Line2 == o.Line2
}

// Dataset is the element set in use together with its provenance.
type Dataset struct {
	Source    string    `json:"source"` // "file", "celestrak" or "cache"
	FetchedAt time.Time `json:"fetched_at"`
	Entry     Entry     `json:"entry"`
}
