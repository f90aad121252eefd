// Package reduce applies a text transform across chunked units, either once
// per unit or repeatedly until the combined output fits a token budget.
package reduce

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Transform maps one unit of text to another, e.g. a summary or translation.
type Transform func(ctx context.Context, text string) (string, error)

// Mode selects how a job is reduced.
type Mode string

const (
	ModeMapOnly   Mode = "map_only"
	ModeMapReduce Mode = "map_reduce"
)

// Strategy tags a job for logs and metrics.
type Strategy string

const (
	StrategyCompress  Strategy = "compress"
	StrategyTranslate Strategy = "translate"
)

var (
	// ErrTransform marks a unit whose transform failed after retries.
	ErrTransform = errors.New("transform failed")
	// ErrConvergence reports a reduction whose output stopped shrinking.
	ErrConvergence = errors.New("reduction did not converge")
	// ErrMaxDepth reports a reduction forced to stop at its depth limit.
	ErrMaxDepth = errors.New("reduction reached max depth")
)

// Job is one reduction request.
type Job struct {
	Units         []string
	Transform     Transform
	Strategy      Strategy
	Mode          Mode
	MaxUnitTokens int
	Depth         int // Starting depth, 1 when zero.
	MaxDepth      int
}

// Result is the outcome of transforming one unit.
type Result struct {
	Text string
	Err  error
}

// Failed reports whether the unit's transform failed.
func (r Result) Failed() bool { return r.Err != nil }

// String renders the unit for concatenation, substituting the failure
// marker when the transform failed.
func (r Result) String() string {
	if r.Err != nil {
		return Marker(r.Err)
	}
	return r.Text
}

// Marker is the visible placeholder left in output for a failed unit.
func Marker(err error) string {
	reason := strings.TrimPrefix(err.Error(), ErrTransform.Error()+": ")
	return fmt.Sprintf("[transform failed: %s]", reason)
}

// Outcome is the final text of a reduction plus how it was reached.
type Outcome struct {
	Text     string
	Results  []Result // Unit results of the last map pass.
	Passes   int      // Map passes executed.
	Depth    int      // Depth at which the reduction finished.
	Failures int      // Failed transforms across all passes.
	Degraded bool
	Reason   error // ErrConvergence or ErrMaxDepth when Degraded.
}

func join(results []Result, sep string) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.String()
	}
	return strings.Join(parts, sep)
}

func countFailures(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Failed() {
			n++
		}
	}
	return n
}
