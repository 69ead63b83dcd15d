package passes

import "time"

// Segment groups a station's time-ordered samples into passes.
//
// Only samples with elevation strictly above threshold take part. A kept
// sample extends the current group when it lies exactly one resolution step
// after the previous kept sample; any other gap starts a new group. The first
// kept sample has no predecessor and always starts a group.
func Segment(station string, samples []Sample, resolution time.Duration, threshold float64) []Pass {
	var (
		out     []Pass
		current *Pass
		prev    time.Time
	)

	for _, s := range samples {
		// NaN compares false, so failed propagation steps never join a pass.
		if !(s.Elevation > threshold) {
			continue
		}

		if current != nil && s.Instant.Sub(prev) == resolution {
			current.LOS = s.Instant
			if s.Elevation > current.MaxElevation {
				current.MaxElevation = s.Elevation
			}
		} else {
			if current != nil {
				out = append(out, *current)
			}
			current = &Pass{
				Station:      station,
				AOS:          s.Instant,
				LOS:          s.Instant,
				MaxElevation: s.Elevation,
			}
		}
		prev = s.Instant
	}

	if current != nil {
		out = append(out, *current)
	}
	return out
}

// samplesFromLookAngles zips instants with provider output.
func samplesFromLookAngles(instants []time.Time, angles []LookAngle) []Sample {
	samples := make([]Sample, len(instants))
	for i, t := range instants {
		samples[i] = Sample{
			Instant:   t,
			Azimuth:   angles[i].Azimuth,
			Elevation: angles[i].Elevation,
		}
	}
	return samples
}
