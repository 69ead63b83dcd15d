package tle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const lineLength = 69

// Parse reads three-line (name + two element lines) TLE data from r.
// A leading "0 " on name lines (3LE format) is stripped. Malformed entries
// are skipped with a warning log.
func Parse(r io.Reader, logger *slog.Logger) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var entries []Entry
	for i := 0; i+2 < len(lines); {
		name, line1, line2 := lines[i], lines[i+1], lines[i+2]

		if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
			logger.Warn("skipping malformed TLE entry", "line_index", i, "name", name)
			i++
			continue
		}

		entry, err := parseEntry(name, line1, line2)
		if err != nil {
			logger.Warn("skipping TLE entry", "name", name, "error", err)
			i += 3
			continue
		}
		entries = append(entries, entry)
		i += 3
	}

	return entries, nil
}

func parseEntry(name, line1, line2 string) (Entry, error) {
	if err := ValidateLines(line1, line2); err != nil {
		return Entry{}, err
	}

	catStr := strings.TrimSpace(line1[2:7])
	catnum, err := strconv.Atoi(catStr)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: catalog number %q", ErrMalformed, catStr)
	}

	epochStr := strings.TrimSpace(line1[18:32])
	epoch, err := parseEpoch(epochStr)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	mmStr := strings.TrimSpace(line2[52:63])
	mm, err := strconv.ParseFloat(mmStr, 64)
	if err != nil || mm <= 0 {
		return Entry{}, fmt.Errorf("%w: mean motion %q", ErrMalformed, mmStr)
	}

	name = strings.TrimSpace(name)
	name = strings.TrimSpace(strings.TrimPrefix(name, "0 "))

	return Entry{
		Name:          name,
		CatalogNumber: catnum,
		Epoch:         epoch,
		MeanMotion:    mm,
		Line1:         line1,
		Line2:         line2,
	}, nil
}

// ValidateLines performs the fixed-width checks the SGP4 library relies on;
// the library aborts the process on malformed input instead of returning an
// error.
func ValidateLines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != lineLength {
		return fmt.Errorf("%w: line 1 length %d, expected %d", ErrMalformed, len(line1), lineLength)
	}
	if len(line2) != lineLength {
		return fmt.Errorf("%w: line 2 length %d, expected %d", ErrMalformed, len(line2), lineLength)
	}
	if line1[0] != '1' {
		return fmt.Errorf("%w: line 1 must start with '1', got '%c'", ErrMalformed, line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("%w: line 2 must start with '2', got '%c'", ErrMalformed, line2[0])
	}
	if line1[2:7] != line2[2:7] {
		return fmt.Errorf("%w: catalog numbers differ (%q vs %q)", ErrMalformed, line1[2:7], line2[2:7])
	}
	return nil
}

// parseEpoch converts a YYDDD.DDDDDDDD epoch to UTC.
// Years 57-99 map to the 1900s, 00-56 to the 2000s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch %q too short", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	day, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch day %q: %w", s[2:], err)
	}

	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration((day - 1) * float64(24*time.Hour))), nil
}

// FindByName returns the entry whose name matches name, ignoring case and
// surrounding whitespace. The first match wins.
func FindByName(entries []Entry, name string) (Entry, error) {
	want := strings.TrimSpace(name)
	for _, e := range entries {
		if strings.EqualFold(e.Name, want) {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}
