package cmd

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"safelink/pkg/config"
)

// Extractor produces a feature report for one URL.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) *config.Report
}

// Job is one seed queued for extraction, keyed by its dataset row index.
type Job struct {
	Index int
	Seed  Seed
}

// Result pairs a job with its report.
type Result struct {
	Job    Job
	Report *config.Report
}

// Crawler extracts many seeds with a fixed pool of workers.
type Crawler struct {
	ext     Extractor
	workers int
	log     zerolog.Logger
}

func NewCrawler(ext Extractor, workers int, log zerolog.Logger) *Crawler {
	if workers < 1 {
		workers = 1
	}
	return &Crawler{ext: ext, workers: workers, log: log}
}

// worker processes jobs until the jobs channel is closed.
func (c *Crawler) worker(ctx context.Context, id int, jobs <-chan Job, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range jobs {
		report := c.ext.Extract(ctx, job.Seed.URL)
		c.log.Debug().
			Int("worker", id).
			Str("url", job.Seed.URL).
			Int("fallbacks", report.FallbackCount()).
			Dur("took", report.Duration).
			Msg("extracted")
		results <- Result{Job: job, Report: report}
	}
}

// Run extracts every seed and hands results to sink from a single goroutine,
// in completion order. It stops queueing when ctx is cancelled or sink fails,
// and returns the number of results delivered.
func (c *Crawler) Run(ctx context.Context, seeds []Seed, sink func(Result) error) (int, error) {
	jobs := make(chan Job)
	results := make(chan Result)
	var wg sync.WaitGroup

	wg.Add(c.workers)
	for w := 1; w <= c.workers; w++ {
		go c.worker(ctx, w, jobs, results, &wg)
	}

	stop := make(chan struct{})
	go func() {
		defer close(jobs)
		for i, seed := range seeds {
			select {
			case jobs <- Job{Index: i, Seed: seed}:
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		delivered int
		sinkErr   error
	)
	for res := range results {
		if sinkErr != nil {
			continue
		}
		if err := sink(res); err != nil {
			sinkErr = err
			close(stop)
			continue
		}
		delivered++
	}
	if sinkErr != nil {
		return delivered, sinkErr
	}
	return delivered, ctx.Err()
}
