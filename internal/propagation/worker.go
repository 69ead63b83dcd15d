package propagation

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/star/passwatch/internal/transform"
)

// chunkSize is the number of consecutive instants one job covers. A 7-day
// grid at 10 s is ~60k instants, so jobs stay coarse enough to keep channel
// overhead negligible.
const chunkSize = 512

// Stats summarises one batch.
type Stats struct {
	OK     int
	Failed int
}

type chunk struct {
	lo, hi int
}

// WorkerPool propagates batches of instants on a fixed number of goroutines.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a pool; workers < 1 means runtime.NumCPU().
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &WorkerPool{workers: workers, logger: logger}
}

// Workers returns the pool size.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Positions returns Earth-fixed positions index-aligned with instants.
// Instants that fail to propagate hold NaN vectors. If ctx is cancelled the
// unfinished tail is also NaN and ctx.Err() is returned.
func (wp *WorkerPool) Positions(ctx context.Context, model *Model, instants []time.Time) ([]transform.Vector, Stats, error) {
	out := make([]transform.Vector, len(instants))
	if len(instants) == 0 {
		return out, Stats{}, nil
	}
	for i := range out {
		out[i] = transform.NaNVector()
	}

	jobs := make(chan chunk, wp.workers*2)
	stats := make([]Stats, wp.workers)

	var wg sync.WaitGroup
	for w := 0; w < wp.workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for c := range jobs {
				for i := c.lo; i < c.hi; i++ {
					pos, err := model.EarthFixedAt(instants[i])
					if err != nil {
						stats[w].Failed++
						if stats[w].Failed == 1 {
							wp.logger.Debug("propagation failed", "instant", instants[i], "error", err)
						}
						continue
					}
					out[i] = pos
					stats[w].OK++
				}
			}
		}(w)
	}

	var cancelled error
feed:
	for lo := 0; lo < len(instants); lo += chunkSize {
		hi := min(lo+chunkSize, len(instants))
		select {
		case jobs <- chunk{lo: lo, hi: hi}:
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	var total Stats
	for _, s := range stats {
		total.OK += s.OK
		total.Failed += s.Failed
	}
	if total.Failed > 0 {
		wp.logger.Warn("instants failed to propagate",
			"failed", total.Failed,
			"ok", total.OK,
		)
	}
	return out, total, cancelled
}
