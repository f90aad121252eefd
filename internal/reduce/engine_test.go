package reduce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docreduce/internal/llm"
	"github.com/dgallion1/docreduce/internal/metrics"
	"github.com/dgallion1/docreduce/internal/retry"
	"github.com/dgallion1/docreduce/internal/tokenizer"
)

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Retry.MaxRetries == 0 {
		opts.Retry = retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	}
	return NewEngine(tokenizer.Runes{}, slog.New(slog.NewTextHandler(io.Discard, nil)), opts)
}

func prefix(p string) Transform {
	return func(_ context.Context, s string) (string, error) { return p + s, nil }
}

func halve(_ context.Context, s string) (string, error) {
	r := []rune(s)
	return string(r[:len(r)/2]), nil
}

func TestMapOnly_PreservesOrderUnderConcurrency(t *testing.T) {
	e := newEngine(t, Options{Concurrency: 8})
	units := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	slowFirst := func(_ context.Context, s string) (string, error) {
		// Earlier units finish last.
		idx := int(s[1] - '0')
		time.Sleep(time.Duration(8-idx) * 2 * time.Millisecond)
		return strings.ToUpper(s), nil
	}

	out, err := e.MapOnly(context.Background(), units, slowFirst)
	require.NoError(t, err)
	assert.Equal(t, "U0\n\nU1\n\nU2\n\nU3\n\nU4\n\nU5\n\nU6\n\nU7", out.Text)
	assert.Equal(t, 1, out.Passes)
	assert.Zero(t, out.Failures)
	assert.False(t, out.Degraded)
}

func TestMapOnly_IsolatesFailingUnit(t *testing.T) {
	e := newEngine(t, Options{})
	transform := func(_ context.Context, s string) (string, error) {
		if s == "bad" {
			return "", errors.New("model refused")
		}
		return "ok:" + s, nil
	}

	out, err := e.MapOnly(context.Background(), []string{"a", "bad", "c"}, transform)
	require.NoError(t, err)
	assert.Equal(t, "ok:a\n\n[transform failed: model refused]\n\nok:c", out.Text)
	assert.Equal(t, 1, out.Failures)
	require.Len(t, out.Results, 3)
	assert.True(t, out.Results[1].Failed())
	assert.ErrorIs(t, out.Results[1].Err, ErrTransform)
}

func TestMapReduce_ClosingPassWhenCombinedFits(t *testing.T) {
	e := newEngine(t, Options{})
	var calls atomic.Int32
	transform := func(ctx context.Context, s string) (string, error) {
		calls.Add(1)
		return "s:" + s, nil
	}

	out, err := e.MapReduce(context.Background(), []string{"alpha", "beta"}, transform, 100, 3)
	require.NoError(t, err)
	assert.Equal(t, "s:s:alpha\n\ns:beta", out.Text)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, out.Passes)
	assert.False(t, out.Degraded)
	assert.NoError(t, out.Reason)
}

func TestMapReduce_SingleUnitStillGetsClosingPass(t *testing.T) {
	e := newEngine(t, Options{})
	out, err := e.MapReduce(context.Background(), []string{"only"}, prefix(">"), 100, 3)
	require.NoError(t, err)
	assert.Equal(t, ">>only", out.Text)
}

func TestMapReduce_RecursesUntilFits(t *testing.T) {
	e := newEngine(t, Options{})
	units := []string{strings.Repeat("a", 40), strings.Repeat("b", 40)}

	// Pass 1: 20+2+20 = 42 > 30, re-chunk. Pass 2 halves again and fits.
	out, err := e.MapReduce(context.Background(), units, halve, 30, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Passes)
	assert.False(t, out.Degraded)
	assert.LessOrEqual(t, len([]rune(out.Text)), 30)
}

func TestMapReduce_TerminatesAtMaxDepth(t *testing.T) {
	e := newEngine(t, Options{})
	units := []string{
		strings.Repeat("a", 100), strings.Repeat("b", 100),
		strings.Repeat("c", 100), strings.Repeat("d", 100),
	}

	out, err := e.MapReduce(context.Background(), units, halve, 10, 3)
	require.NoError(t, err)
	assert.LessOrEqual(t, out.Passes, 3)
	assert.Equal(t, 3, out.Depth)
	assert.True(t, out.Degraded)
	assert.ErrorIs(t, out.Reason, ErrMaxDepth)
}

func TestMapReduce_StopsWhenOutputStopsShrinking(t *testing.T) {
	e := newEngine(t, Options{})
	double := func(_ context.Context, s string) (string, error) { return s + " " + s, nil }

	out, err := e.MapReduce(context.Background(), []string{strings.Repeat("x", 30)}, double, 20, 10)
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	assert.ErrorIs(t, out.Reason, ErrConvergence)
	assert.Equal(t, 2, out.Passes)
}

func TestMapReduce_OneFailingUnitDoesNotAbort(t *testing.T) {
	e := newEngine(t, Options{})
	transform := func(_ context.Context, s string) (string, error) {
		if s == "bad" {
			return "", errors.New("boom")
		}
		return s, nil
	}

	out, err := e.MapReduce(context.Background(), []string{"u1", "u2", "bad", "u4"}, transform, 1000, 3)
	require.NoError(t, err)
	assert.Equal(t, "u1\n\nu2\n\n[transform failed: boom]\n\nu4", out.Text)
	assert.Equal(t, 1, out.Failures)
	assert.False(t, out.Degraded)
}

func TestMapReduce_RetriesTransientFailures(t *testing.T) {
	e := newEngine(t, Options{})
	var calls atomic.Int32
	flaky := func(_ context.Context, s string) (string, error) {
		if calls.Add(1) <= 2 {
			return "", &llm.RetryableError{StatusCode: 503, Message: "loading model"}
		}
		return s, nil
	}

	out, err := e.MapReduce(context.Background(), []string{"text"}, flaky, 100, 3)
	require.NoError(t, err)
	assert.Equal(t, "text", out.Text)
	assert.Zero(t, out.Failures)
	assert.Equal(t, int32(4), calls.Load())
}

func TestMapReduce_FailedClosingPassKeepsCombinedText(t *testing.T) {
	e := newEngine(t, Options{})
	transform := func(_ context.Context, s string) (string, error) {
		if strings.Contains(s, "\n\n") {
			return "", errors.New("context window exceeded")
		}
		return strings.ToUpper(s), nil
	}

	out, err := e.MapReduce(context.Background(), []string{"a", "b"}, transform, 100, 3)
	require.NoError(t, err)
	assert.Equal(t, "A\n\nB", out.Text)
	assert.True(t, out.Degraded)
	assert.ErrorIs(t, out.Reason, ErrTransform)
	assert.Equal(t, 1, out.Failures)
}

func TestMapReduce_CancelledBeforeStart(t *testing.T) {
	e := newEngine(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	_, err := e.MapReduce(ctx, []string{"a", "b"}, func(_ context.Context, s string) (string, error) {
		calls.Add(1)
		return s, nil
	}, 100, 3)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestMapOnly_CancelBetweenUnitsKeepsPartialResults(t *testing.T) {
	e := newEngine(t, Options{Concurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transform := func(_ context.Context, s string) (string, error) {
		if s == "u1" {
			cancel()
		}
		return "done:" + s, nil
	}

	out, err := e.MapOnly(ctx, []string{"u0", "u1", "u2", "u3"}, transform)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, out.Results, 4)
	assert.Equal(t, "done:u0", out.Results[0].Text)
	assert.Equal(t, "done:u1", out.Results[1].Text)
	assert.True(t, out.Results[3].Failed())
}

func TestMapReduce_EmptyUnits(t *testing.T) {
	e := newEngine(t, Options{})
	out, err := e.MapReduce(context.Background(), nil, func(context.Context, string) (string, error) {
		t.Fatal("transform must not be called")
		return "", nil
	}, 100, 3)
	require.NoError(t, err)
	assert.Empty(t, out.Text)
}

func TestRun_Validation(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	_, err := e.Run(ctx, Job{Units: []string{"a"}})
	assert.Error(t, err, "nil transform")

	_, err = e.Run(ctx, Job{Units: []string{"a"}, Transform: prefix(""), Mode: ModeMapReduce})
	assert.Error(t, err, "zero max tokens")

	_, err = e.Run(ctx, Job{Units: []string{"a"}, Transform: prefix(""), Mode: "stream"})
	assert.Error(t, err, "unknown mode")
}

func TestRun_StartingDepthCountsTowardLimit(t *testing.T) {
	e := newEngine(t, Options{})
	out, err := e.Run(context.Background(), Job{
		Units:         []string{strings.Repeat("z", 50)},
		Transform:     prefix(""),
		Mode:          ModeMapReduce,
		MaxUnitTokens: 10,
		Depth:         3,
		MaxDepth:      3,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Passes)
	assert.ErrorIs(t, out.Reason, ErrMaxDepth)
}

func TestEngine_RecordsMetrics(t *testing.T) {
	m := metrics.New()
	e := newEngine(t, Options{Metrics: m})
	transform := func(_ context.Context, s string) (string, error) {
		if s == "bad" {
			return "", errors.New("nope")
		}
		return s, nil
	}

	_, err := e.MapOnly(context.Background(), []string{"a", "bad", "c"}, transform)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReduceUnitsTotal.WithLabelValues("translate", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReduceUnitsTotal.WithLabelValues("translate", "failed")))
}

func TestMarker(t *testing.T) {
	err := errors.New("timeout")
	assert.Equal(t, "[transform failed: timeout]", Marker(err))
	assert.Equal(t, "[transform failed: timeout]", Result{Err: fmt.Errorf("%w: %w", ErrTransform, err)}.String())
	assert.Equal(t, "kept", Result{Text: "kept"}.String())
}
