package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgallion1/docreduce/internal/llm"
	"github.com/dgallion1/docreduce/internal/reduce"
)

// ProcessOptions selects what ProcessFile does with a document.
type ProcessOptions struct {
	Translate  bool
	TargetLang string // "en" or "ar"
	Summarize  bool
	Strategy   string // "abstractive" or "extractive"
	MaxChars   int    // Input budget in characters; config default when 0.
}

// StepResult reports one translate or summarize step.
type StepResult struct {
	Text     string `json:"text"`
	Path     string `json:"path,omitempty"`
	Units    int    `json:"units"`
	Passes   int    `json:"passes"`
	Failures int    `json:"failures"`
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
}

// ProcessResult is what ProcessFile produced.
type ProcessResult struct {
	File        string      `json:"file"`
	InputChars  int         `json:"input_chars"`
	Translation *StepResult `json:"translation,omitempty"`
	Summary     *StepResult `json:"summary,omitempty"`
}

func (p *ProcessOptions) validate() (llm.SummaryStrategy, error) {
	if !p.Translate && !p.Summarize {
		return "", errors.New("nothing to do: enable translate or summarize")
	}
	if p.Translate {
		if err := llm.ValidateTarget(p.TargetLang); err != nil {
			return "", err
		}
	}
	if !p.Summarize {
		return "", nil
	}
	return llm.ParseSummaryStrategy(p.Strategy)
}

// ProcessFile extracts path, truncates it to the character budget and
// translates and/or summarizes it, saving each output. When both run, the
// translation is what gets summarized.
func (o *Orchestrator) ProcessFile(ctx context.Context, path string, opts ProcessOptions) (*ProcessResult, error) {
	strategy, err := opts.validate()
	if err != nil {
		return nil, err
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = o.cfg.MaxChars
	}

	name := filepath.Base(path)
	log := o.log.With("file", path)
	log.Info("processing single file")

	tree, err := o.parse.ParseFile(path)
	if err != nil {
		return nil, err
	}
	text := truncateRunes(tree.FullText(), opts.MaxChars)
	res := &ProcessResult{File: name, InputChars: len([]rune(text))}

	if opts.Translate {
		log.Info("translating", "target", opts.TargetLang)
		out, err := measure(ctx, o, "translate_"+name, text, func(ctx context.Context) (reduce.Outcome, error) {
			return o.Translate(ctx, text, opts.TargetLang)
		})
		if err != nil {
			return res, fmt.Errorf("translate %s: %w", name, err)
		}
		res.Translation = stepResult(out)
		res.Translation.Path, err = o.store.SaveTranslation(name, opts.TargetLang, out.Text)
		if err != nil {
			log.Error("save translation failed", "error", err)
		} else {
			log.Info("saved translation", "path", res.Translation.Path, "degraded", out.Degraded)
		}
		text = out.Text
	}

	if opts.Summarize {
		log.Info("summarizing", "strategy", strategy)
		out, err := measure(ctx, o, "summarize_"+name, text, func(ctx context.Context) (reduce.Outcome, error) {
			return o.Summarize(ctx, text, strategy)
		})
		if err != nil {
			return res, fmt.Errorf("summarize %s: %w", name, err)
		}
		res.Summary = stepResult(out)
		res.Summary.Path, err = o.store.SaveSummary(name, string(strategy), out.Text)
		if err != nil {
			log.Error("save summary failed", "error", err)
		} else {
			log.Info("saved summary", "path", res.Summary.Path, "degraded", out.Degraded)
		}
	}

	return res, nil
}

// Translate detects the source language, then translates each unit and
// polishes it with a fluency pass. Units are independent, so the outputs
// are concatenated without a closing pass.
func (o *Orchestrator) Translate(ctx context.Context, text, target string) (reduce.Outcome, error) {
	if err := llm.ValidateTarget(target); err != nil {
		return reduce.Outcome{}, err
	}
	source, err := llm.DetectLanguage(text)
	if err != nil {
		return reduce.Outcome{}, err
	}

	transform := func(ctx context.Context, unit string) (string, error) {
		translated, err := o.gen.Generate(ctx, llm.TranslatePrompt(source, target, unit))
		if err != nil {
			return "", fmt.Errorf("translate: %w", err)
		}
		improved, err := o.gen.Generate(ctx, llm.FluencyPrompt(translated))
		if err != nil {
			return "", fmt.Errorf("fluency: %w", err)
		}
		return improved, nil
	}
	return o.engine.Run(ctx, reduce.Job{
		Units:     o.units(text),
		Transform: transform,
		Strategy:  reduce.StrategyTranslate,
		Mode:      reduce.ModeMapOnly,
	})
}

// Summarize reduces text with map-reduce until the summary fits one unit.
func (o *Orchestrator) Summarize(ctx context.Context, text string, strategy llm.SummaryStrategy) (reduce.Outcome, error) {
	transform := func(ctx context.Context, unit string) (string, error) {
		return o.gen.Generate(ctx, llm.SummaryPrompt(strategy, unit))
	}
	return o.engine.Run(ctx, reduce.Job{
		Units:         o.units(text),
		Transform:     transform,
		Strategy:      reduce.StrategyCompress,
		Mode:          reduce.ModeMapReduce,
		MaxUnitTokens: o.cfg.ReduceChunkSize,
		MaxDepth:      o.cfg.MaxDepth,
	})
}

// units splits text into reduction units without overlap.
func (o *Orchestrator) units(text string) []string {
	chunks := o.reducer.Chunk("", text)
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func stepResult(out reduce.Outcome) *StepResult {
	r := &StepResult{
		Text:     out.Text,
		Units:    len(out.Results),
		Passes:   out.Passes,
		Failures: out.Failures,
		Degraded: out.Degraded,
	}
	if out.Reason != nil {
		r.Reason = out.Reason.Error()
	}
	return r
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

