package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"safelink/pkg/common"
	"safelink/pkg/config"
	"safelink/pkg/fetch"
	"safelink/pkg/probe"
)

// DefaultGrace is how long the collector waits past the call deadline for
// in-flight probes to report their fallbacks.
const DefaultGrace = 50 * time.Millisecond

var ErrDeadline = errors.New("call deadline reached before probe finished")

// Extractor turns URLs into feature vectors. It is safe for concurrent use;
// every call gets its own fetch cache.
type Extractor struct {
	reg   *probe.Registry
	src   fetch.Sources
	cfg   config.ExtractionConfig
	log   zerolog.Logger
	grace time.Duration
	now   func() time.Time
}

type Option func(*Extractor)

// WithClock overrides the time source probes see as "now".
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// WithGrace overrides DefaultGrace.
func WithGrace(d time.Duration) Option {
	return func(e *Extractor) { e.grace = d }
}

// New creates an Extractor over a sealed registry.
func New(reg *probe.Registry, src fetch.Sources, cfg config.ExtractionConfig, log zerolog.Logger, opts ...Option) *Extractor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	e := &Extractor{
		reg:   reg,
		src:   src,
		cfg:   cfg,
		log:   log,
		grace: DefaultGrace,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Names returns the feature names in vector order.
func (e *Extractor) Names() []string {
	return e.reg.Names()
}

type slotResult struct {
	index int
	value float64
	err   error
}

// Extract never fails: it always returns a report whose vector has one
// value per registered probe, using fallbacks where a probe could not run.
func (e *Extractor) Extract(ctx context.Context, rawURL string) *config.Report {
	start := time.Now()
	defs := e.reg.Ordered()
	report := &config.Report{
		ID:     uuid.NewString(),
		URL:    rawURL,
		Vector: make(config.Vector, len(defs)),
		Names:  e.reg.Names(),
		Slots:  make(map[string]config.Slot, len(defs)),
	}
	logger := e.log.With().Str("id", report.ID).Str("url", rawURL).Logger()

	target, err := common.ParseTarget(rawURL)
	if err != nil {
		logger.Debug().Err(err).Msg("malformed url, scoring all slots as phishing")
		e.fillInvalid(report, err)
		report.Duration = time.Since(start)
		return report
	}
	report.URL = target.Raw

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallDeadline)
	defer cancel()

	cache := fetch.NewCache(e.src, target, fetch.Timeouts{
		Domain:   e.cfg.DomainTimeout,
		Page:     e.cfg.PageTimeout,
		External: e.cfg.ExternalTimeout,
	})
	e.prefetch(callCtx, cache, e.reg.Needs())

	now := e.now()
	results := make(chan slotResult, len(defs))

	var deferred []*probe.Definition
	for _, d := range defs {
		if d.Needs == probe.NeedsNothing {
			results <- e.runProbe(callCtx, d, &probe.Input{Target: target, Now: now})
			continue
		}
		deferred = append(deferred, d)
	}

	// Waiting for a resource does not hold a worker; only evaluation does.
	var pool errgroup.Group
	pool.SetLimit(e.cfg.Workers)
	for _, d := range deferred {
		go func(d *probe.Definition) {
			in, failed := e.gather(callCtx, cache, d, target, now)
			if failed != nil {
				results <- *failed
				return
			}
			pool.Go(func() error {
				results <- e.runProbe(callCtx, d, in)
				return nil
			})
		}(d)
	}

	e.collect(callCtx, report, defs, results, logger)
	report.Duration = time.Since(start)
	return report
}

// prefetch starts every needed resource fetch so none waits for a free worker.
func (e *Extractor) prefetch(ctx context.Context, cache *fetch.Cache, need probe.Resource) {
	if need.Has(probe.NeedsDomain) {
		go cache.Domain(ctx)
	}
	if need.Has(probe.NeedsPage) {
		go cache.Page(ctx)
	}
	if need.Has(probe.NeedsRank) {
		go cache.Rank(ctx)
	}
	if need.Has(probe.NeedsIndex) {
		go cache.Index(ctx)
	}
}

// gather loads the resources d declares. On failure it returns the slot
// result to record instead.
func (e *Extractor) gather(ctx context.Context, cache *fetch.Cache, d *probe.Definition, target *common.Target, now time.Time) (*probe.Input, *slotResult) {
	in := &probe.Input{Target: target, Now: now}
	fail := func(err error) (*probe.Input, *slotResult) {
		return nil, &slotResult{index: d.Index, value: d.Fallback, err: err}
	}
	var err error
	if d.Needs.Has(probe.NeedsDomain) {
		if in.Domain, err = cache.Domain(ctx); err != nil {
			return fail(err)
		}
	}
	if d.Needs.Has(probe.NeedsPage) {
		if in.Page, err = cache.Page(ctx); err != nil {
			return fail(err)
		}
	}
	if d.Needs.Has(probe.NeedsRank) {
		if in.Rank, err = cache.Rank(ctx); err != nil {
			return fail(err)
		}
	}
	if d.Needs.Has(probe.NeedsIndex) {
		if in.Index, err = cache.Index(ctx); err != nil {
			return fail(err)
		}
	}
	return in, nil
}

func (e *Extractor) runProbe(ctx context.Context, d *probe.Definition, in *probe.Input) slotResult {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	defer cancel()
	v, err := d.Run(pctx, in)
	return slotResult{index: d.Index, value: v, err: err}
}

// collect writes results at their registered index until every slot is
// filled or the deadline plus grace passes.
func (e *Extractor) collect(ctx context.Context, report *config.Report, defs []*probe.Definition, results <-chan slotResult, logger zerolog.Logger) {
	filled := make([]bool, len(defs))
	remaining := len(defs)

	timer := time.NewTimer(e.grace)
	timer.Stop()
	var expired <-chan time.Time
	done := ctx.Done()

	for remaining > 0 {
		select {
		case r := <-results:
			if filled[r.index] {
				continue
			}
			filled[r.index] = true
			remaining--
			e.record(report, defs[r.index], r, logger)
		case <-done:
			done = nil
			timer.Reset(e.grace)
			expired = timer.C
		case <-expired:
			for i, d := range defs {
				if !filled[i] {
					e.record(report, d, slotResult{index: i, value: d.Fallback, err: ErrDeadline}, logger)
				}
			}
			return
		}
	}
	timer.Stop()
}

func (e *Extractor) record(report *config.Report, d *probe.Definition, r slotResult, logger zerolog.Logger) {
	slot := config.Slot{Index: d.Index, Value: r.value}
	if r.err != nil {
		slot.Value = d.Fallback
		slot.FallbackUsed = true
		slot.Error = r.err.Error()
		report.ExtractionErrors = append(report.ExtractionErrors, fmt.Sprintf("%s: %v", d.ID, r.err))

		var fault *probe.FaultError
		if errors.As(r.err, &fault) {
			logger.Warn().Err(r.err).Str("probe", d.ID).Int("index", d.Index).Msg("probe fault")
		} else {
			logger.Debug().Err(r.err).Str("probe", d.ID).Int("index", d.Index).Msg("probe fell back")
		}
	}
	report.Vector[d.Index] = slot.Value
	report.Slots[d.ID] = slot
}

func (e *Extractor) fillInvalid(report *config.Report, err error) {
	report.Invalid = true
	report.ExtractionErrors = append(report.ExtractionErrors, "invalid_url: "+err.Error())
	for _, d := range e.reg.Ordered() {
		report.Vector[d.Index] = config.Phishing
		report.Slots[d.ID] = config.Slot{
			Index:        d.Index,
			Value:        config.Phishing,
			FallbackUsed: true,
			Error:        err.Error(),
		}
	}
}
