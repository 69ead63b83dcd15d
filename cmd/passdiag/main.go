// Command passdiag builds one pass catalog and prints it, for checking
// predictions against another tool without running the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/star/passwatch/internal/horizon"
	"github.com/star/passwatch/internal/passes"
	"github.com/star/passwatch/internal/propagation"
	"github.com/star/passwatch/internal/stations"
	"github.com/star/passwatch/internal/tle"
)

func main() {
	var (
		sat        = flag.String("sat", "CRYOSAT 2", "spacecraft name as it appears in the TLE data")
		tleFile    = flag.String("tle", "", "local TLE file; fetched from Celestrak when empty")
		cacheDir   = flag.String("cache", "/tmp/passwatch/tle", "TLE cache directory")
		stFile     = flag.String("stations", "inputs/ground_stations.json", "ground station inventory")
		resolution = flag.Duration("resolution", 10*time.Second, "sample spacing")
		span       = flag.Duration("horizon", 24*time.Hour, "prediction horizon")
		threshold  = flag.Float64("threshold", 5, "elevation threshold in degrees")
		at         = flag.String("at", "", "start instant (RFC 3339); defaults to now")
		station    = flag.String("station", "", "only print passes for this station")
		verbose    = flag.Bool("v", false, "log progress to stderr")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	now := time.Now().UTC()
	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ERROR parsing -at:", err)
			os.Exit(2)
		}
		now = t.UTC()
	}

	st, err := stations.Load(*stFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR loading stations:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	loader := tle.NewLoader(tle.LoaderConfig{
		Name:        *sat,
		File:        *tleFile,
		EnableFetch: *tleFile == "",
		CacheDir:    *cacheDir,
		MaxFiles:    5,
	}, logger)
	ds, err := loader.Load(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR loading TLE:", err)
		os.Exit(1)
	}

	tracker := horizon.NewTracker(horizon.Config{
		Resolution: *resolution,
		Horizon:    *span,
		Threshold:  *threshold,
		Workers:    runtime.NumCPU(),
	}, st, loader, nil, propagation.NewWorkerPool(runtime.NumCPU(), logger), logger)

	started := time.Now()
	snap, err := tracker.Rebuild(ctx, ds, now, "diag")
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR building catalog:", err)
		os.Exit(1)
	}

	e := ds.Entry
	fmt.Printf("%s (catalog %d) epoch %s, period %.2f min, source %s\n",
		e.Name, e.CatalogNumber, e.Epoch.Format(time.RFC3339), e.Period().Minutes(), ds.Source)
	fmt.Println(e.Line1)
	fmt.Println(e.Line2)
	fmt.Printf("Horizon %s .. %s, %d samples, built in %s\n\n",
		snap.Grid.Start.Format(time.RFC3339), snap.Grid.End().Format(time.RFC3339),
		len(snap.Grid.Instants), time.Since(started).Round(time.Millisecond))

	for _, f := range snap.Catalog.Failures {
		fmt.Printf("  station %s: ERROR %v\n", f.Station, f.Err)
	}

	list := snap.Catalog.Passes
	if *station != "" {
		list = snap.Catalog.ForStation(*station)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tStation\tMax.El\tAOS\tLOS\tDuration\tCountdown")
	for _, v := range passes.Project(list, now) {
		marker := ""
		if v.Active {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%5.2f\t%s\t%s\t%s\t%s\n",
			marker, v.Station, v.MaxElevation,
			v.AOS.Format(passes.TimestampLayout), v.LOS.Format(passes.TimestampLayout),
			v.Duration, v.Countdown)
	}
	tw.Flush()

	fmt.Printf("\nTotal passes found: %d (%s)\n", len(list), passes.FormatClock(now))
}
