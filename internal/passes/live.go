package passes

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the display format for AOS/LOS values.
const TimestampLayout = "2006-01-02 15:04:05"

// LiveView is a pass as seen from a particular "now". It is recomputed on
// every tick and never stored.
type LiveView struct {
	Station      string
	MaxElevation float64
	AOS          time.Time
	LOS          time.Time
	Duration     string // HH:MM:SS; remaining time while active, nominal length otherwise
	Countdown    string // HH:MM:SS; to AOS when upcoming, to LOS when active
	Active       bool
}

// MarshalJSON renders timestamps in the table display format (UTC).
func (v LiveView) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Station      string  `json:"station"`
		MaxElevation float64 `json:"max_elevation"`
		AOS          string  `json:"aos"`
		LOS          string  `json:"los"`
		Duration     string  `json:"duration"`
		Countdown    string  `json:"countdown"`
		Active       bool    `json:"active"`
	}{
		Station:      v.Station,
		MaxElevation: v.MaxElevation,
		AOS:          v.AOS.UTC().Format(TimestampLayout),
		LOS:          v.LOS.UTC().Format(TimestampLayout),
		Duration:     v.Duration,
		Countdown:    v.Countdown,
		Active:       v.Active,
	})
}

// Project derives the live table for now. Passes whose LOS is before now
// are dropped; the rest keep their catalog order. The input is not modified.
func Project(passes []Pass, now time.Time) []LiveView {
	out := make([]LiveView, 0, len(passes))
	for _, p := range passes {
		if p.LOS.Before(now) {
			continue
		}

		v := LiveView{
			Station:      p.Station,
			MaxElevation: p.MaxElevation,
			AOS:          p.AOS,
			LOS:          p.LOS,
			Active:       !p.AOS.After(now),
		}
		if v.Active {
			remaining := p.LOS.Sub(now)
			v.Countdown = FormatHMS(remaining)
			v.Duration = FormatHMS(remaining)
		} else {
			v.Countdown = FormatHMS(p.AOS.Sub(now))
			v.Duration = FormatHMS(p.LOS.Sub(p.AOS))
		}
		out = append(out, v)
	}
	return out
}

// FormatHMS renders d as HH:MM:SS with whole seconds. Hours are not wrapped
// at 24, so one day two hours renders as 26:MM:SS.
func FormatHMS(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := total / 60 % 60
	s := total % 60
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, s)
}

// FormatClock renders the dashboard clock line, e.g.
// "2026-10-16 12:00:00 UTC (DoY 289)".
func FormatClock(now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s UTC (DoY %03d)", now.Format(TimestampLayout), now.YearDay())
}
