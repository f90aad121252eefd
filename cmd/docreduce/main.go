package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docreduce/internal/config"
	"github.com/dgallion1/docreduce/internal/llm"
	"github.com/dgallion1/docreduce/internal/metrics"
	"github.com/dgallion1/docreduce/internal/pipeline"
	"github.com/dgallion1/docreduce/internal/tokenizer"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	outputDir  string
	verbose    bool
}

// app is what a command needs once configuration is loaded.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	llm     *llm.Client
	metrics *metrics.Metrics
	orch    *pipeline.Orchestrator
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "docreduce",
		Short: "Ingest, query, translate and summarize documents with a local LLM",
		Long: `docreduce extracts text and tables from PDF, DOCX, HTML, Markdown, CSV and
plain text files, indexes them for retrieval-augmented question answering, and
translates or summarizes long documents by reducing them chunk by chunk.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file (default $"+config.EnvConfigPath+")")
	root.PersistentFlags().StringVar(&opts.outputDir, "output-dir", "", "output directory (overrides config)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newIngestCmd(opts),
		newAddCmd(opts),
		newQueryCmd(opts),
		newProcessCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// loadConfig applies the persistent flags over the layered configuration.
func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if opts.outputDir != "" {
		cfg.OutputDir = opts.outputDir
	}
	if opts.verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

func newLogger(level string, json bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stdout, hopts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, hopts))
}

// newApp wires the model client, tokenizer and orchestrator. The caller owns
// the returned app and must call close.
func newApp(opts *rootOptions, jsonLogs bool) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.LogLevel, jsonLogs)

	tok, err := tokenizer.New(cfg.Tokenizer)
	if err != nil {
		log.Warn("tokenizer unavailable, counting runes instead", "tokenizer", cfg.Tokenizer, "error", err)
		tok = tokenizer.Runes{}
	}

	client := llm.NewClient(llm.Config{
		BaseURL:           cfg.OllamaURL,
		Model:             cfg.GenerateModel,
		EmbedModel:        cfg.EmbedModel,
		Dimensions:        cfg.EmbedDimensions,
		Timeout:           cfg.LLMTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	m := metrics.New()

	orch, err := pipeline.NewOrchestrator(cfg, pipeline.Deps{
		Tokenizer: tok,
		Embedder:  client,
		Generator: client,
		Metrics:   m,
		Log:       log,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	return &app{cfg: cfg, log: log, llm: client, metrics: m, orch: orch}, nil
}

func (a *app) close() {
	if err := a.orch.Close(); err != nil {
		a.log.Error("close index", "error", err)
	}
	a.llm.Close()
}

// run loads the app, runs fn and logs the whole-run elapsed time.
func run(cmd *cobra.Command, opts *rootOptions, name string, fn func(context.Context, *app) error) error {
	a, err := newApp(opts, false)
	if err != nil {
		return err
	}
	defer a.close()

	start := time.Now()
	err = fn(cmd.Context(), a)
	elapsed := time.Since(start)
	if err != nil {
		a.log.Error(name+" failed", "error", err, "elapsed", elapsed.Round(time.Millisecond))
		return err
	}
	a.log.Info(name+" finished", "elapsed", elapsed.Round(time.Millisecond))
	return nil
}
