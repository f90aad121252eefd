package reduce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docreduce/internal/chunker"
	"github.com/dgallion1/docreduce/internal/metrics"
	"github.com/dgallion1/docreduce/internal/retry"
	"github.com/dgallion1/docreduce/internal/tokenizer"
)

// DefaultMaxDepth bounds map-reduce passes when a job does not set one.
const DefaultMaxDepth = 3

// Options tune an Engine.
type Options struct {
	Concurrency int          // Units transformed in parallel within a pass.
	Retry       retry.Policy // Applied to every transform call.
	Separator   string       // Joins unit outputs; "\n\n" when empty.
	Metrics     *metrics.Metrics
}

// Engine runs reduction jobs.
type Engine struct {
	tok  tokenizer.Tokenizer
	log  *slog.Logger
	opts Options
}

func NewEngine(tok tokenizer.Tokenizer, log *slog.Logger, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Separator == "" {
		opts.Separator = "\n\n"
	}
	if opts.Retry.MaxRetries <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	return &Engine{tok: tok, log: log, opts: opts}
}

// Run dispatches job by its mode.
func (e *Engine) Run(ctx context.Context, job Job) (Outcome, error) {
	if job.Transform == nil {
		return Outcome{}, errors.New("reduce: job has no transform")
	}
	switch job.Mode {
	case ModeMapOnly:
		if job.Strategy == "" {
			job.Strategy = StrategyTranslate
		}
		return e.mapOnly(ctx, job)
	case ModeMapReduce, "":
		if job.Strategy == "" {
			job.Strategy = StrategyCompress
		}
		return e.mapReduce(ctx, job)
	default:
		return Outcome{}, fmt.Errorf("reduce: unknown mode %q", job.Mode)
	}
}

// MapOnly transforms every unit once and concatenates the outputs in input
// order. A failed unit contributes its marker instead of aborting the batch.
func (e *Engine) MapOnly(ctx context.Context, units []string, transform Transform) (Outcome, error) {
	return e.Run(ctx, Job{Units: units, Transform: transform, Mode: ModeMapOnly})
}

// MapReduce transforms units, then keeps combining and re-chunking until the
// combined output fits maxTokens, when one closing transform is applied.
// At maxDepth the combined text is transformed once regardless of size.
func (e *Engine) MapReduce(ctx context.Context, units []string, transform Transform, maxTokens, maxDepth int) (Outcome, error) {
	return e.Run(ctx, Job{
		Units:         units,
		Transform:     transform,
		Mode:          ModeMapReduce,
		MaxUnitTokens: maxTokens,
		MaxDepth:      maxDepth,
	})
}

func (e *Engine) mapOnly(ctx context.Context, job Job) (Outcome, error) {
	results, err := e.mapUnits(ctx, job, 1, job.Units)
	out := Outcome{
		Text:     join(results, e.opts.Separator),
		Results:  results,
		Passes:   1,
		Depth:    1,
		Failures: countFailures(results),
	}
	e.observe(job, out)
	return out, err
}

func (e *Engine) mapReduce(ctx context.Context, job Job) (Outcome, error) {
	if job.MaxUnitTokens <= 0 {
		return Outcome{}, fmt.Errorf("reduce: max unit tokens must be positive, got %d", job.MaxUnitTokens)
	}
	if job.MaxDepth <= 0 {
		job.MaxDepth = DefaultMaxDepth
	}
	depth := max(job.Depth, 1)
	if len(job.Units) == 0 {
		return Outcome{Depth: depth}, nil
	}
	// Re-chunking never overlaps so each pass can only shrink the input.
	rechunker, err := chunker.New(e.tok, chunker.Config{MaxTokens: job.MaxUnitTokens})
	if err != nil {
		return Outcome{}, err
	}

	log := e.log.With("strategy", job.Strategy, "max_tokens", job.MaxUnitTokens, "max_depth", job.MaxDepth)
	units := job.Units
	out := Outcome{}
	prevTokens := -1

	for ; ; depth++ {
		out.Depth = depth
		if err := ctx.Err(); err != nil {
			e.observe(job, out)
			return out, err
		}

		results, err := e.mapUnits(ctx, job, depth, units)
		out.Results = results
		out.Passes++
		out.Failures += countFailures(results)
		combined := join(results, e.opts.Separator)
		out.Text = combined
		if err != nil {
			e.observe(job, out)
			return out, err
		}

		tokens := e.tok.Count(combined)
		log.Debug("reduce pass", "depth", depth, "units", len(units), "tokens", tokens)

		switch {
		case tokens <= job.MaxUnitTokens:
			e.finish(ctx, job, &out, combined, nil)
			return out, ctx.Err()
		case depth >= job.MaxDepth:
			log.Warn("forcing reduction at max depth", "depth", depth, "tokens", tokens)
			e.finish(ctx, job, &out, combined, ErrMaxDepth)
			return out, ctx.Err()
		case prevTokens >= 0 && tokens >= prevTokens:
			log.Warn("reduction stopped shrinking", "depth", depth, "tokens", tokens, "previous", prevTokens)
			out.Degraded = true
			out.Reason = ErrConvergence
			e.observe(job, out)
			return out, nil
		}

		prevTokens = tokens
		units = units[:0:0]
		for _, c := range rechunker.Chunk("", combined) {
			units = append(units, c.Text)
		}
	}
}

// finish applies the closing transform over combined. reason is non-nil
// when termination was forced. A failed closing call leaves the combined
// text in place and marks the outcome degraded.
func (e *Engine) finish(ctx context.Context, job Job, out *Outcome, combined string, reason error) {
	res := e.transform(ctx, job, out.Depth, combined)
	if res.Failed() {
		out.Failures++
		out.Degraded = true
		out.Reason = res.Err
		if reason != nil {
			out.Reason = errors.Join(reason, res.Err)
		}
		out.Text = combined
	} else {
		out.Text = res.Text
		if reason != nil {
			out.Degraded = true
			out.Reason = reason
		}
	}
	e.observe(job, *out)
}

// mapUnits transforms units with bounded parallelism. Results are stored by
// index so output order always matches input order. Units not started
// before ctx is done carry ctx's error.
func (e *Engine) mapUnits(ctx context.Context, job Job, depth int, units []string) ([]Result, error) {
	results := make([]Result, len(units))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(units); j++ {
				results[j] = Result{Err: err}
			}
			break
		}
		g.Go(func() error {
			results[i] = e.transform(ctx, job, depth, unit)
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

func (e *Engine) transform(ctx context.Context, job Job, depth int, text string) Result {
	policy := e.opts.Retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		e.log.Warn("retryable transform error", "depth", depth, "attempt", attempt, "wait", wait, "error", err)
	}
	start := time.Now()
	got, err := retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		return job.Transform(ctx, text)
	})
	if err != nil {
		e.log.Error("transform failed", "depth", depth, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		e.countUnit(job, "failed")
		return Result{Err: fmt.Errorf("%w: %w", ErrTransform, err)}
	}
	e.countUnit(job, "ok")
	return Result{Text: got}
}

func (e *Engine) countUnit(job Job, outcome string) {
	if m := e.opts.Metrics; m != nil {
		m.ReduceUnitsTotal.WithLabelValues(string(job.Strategy), outcome).Inc()
	}
}

func (e *Engine) observe(job Job, out Outcome) {
	m := e.opts.Metrics
	if m == nil {
		return
	}
	m.ReducePasses.WithLabelValues(string(job.Strategy)).Observe(float64(out.Passes))
	if out.Degraded {
		reason := "transform"
		switch {
		case errors.Is(out.Reason, ErrMaxDepth):
			reason = "max_depth"
		case errors.Is(out.Reason, ErrConvergence):
			reason = "convergence"
		}
		m.ReduceDegradedTotal.WithLabelValues(string(job.Strategy), reason).Inc()
	}
}
