// Package stations loads the ground station inventory.
//
// The inventory maps station names to locations:
//
//	{"KIRUNA": {"Lat": 67.857, "Lon": 20.964, "Alt": 0.402}}
//
// Altitude is in kilometres. YAML is accepted as well since it is a superset
// of JSON.
package stations

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/star/passwatch/internal/passes"
)

// Load reads and validates the inventory at path.
func Load(path string) ([]passes.Station, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading station inventory: %w", err)
	}
	st, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("station inventory %s: %w", path, err)
	}
	return st, nil
}

// Parse decodes an inventory document. Stations are returned sorted by name
// so that every run sees them in the same order. An empty document is an
// empty inventory.
func Parse(data []byte) ([]passes.Station, error) {
	raw := map[string]passes.Location{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decoding stations: %v", passes.ErrInvalidConfiguration, err)
	}

	out := make([]passes.Station, 0, len(raw))
	for name, loc := range raw {
		out = append(out, passes.Station{Name: name, Location: loc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	if err := passes.ValidateStations(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Names returns the station names in inventory order.
func Names(st []passes.Station) []string {
	names := make([]string, len(st))
	for i, s := range st {
		names[i] = s.Name
	}
	return names
}
