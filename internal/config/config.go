// Package config loads settings from defaults, an optional YAML file, a
// .env file and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable holding the YAML config path.
const EnvConfigPath = "DOCREDUCE_CONFIG"

type Config struct {
	Port      string `yaml:"port" validate:"required"`
	APIKey    string `yaml:"api_key"`
	OutputDir string `yaml:"output_dir" validate:"required"`
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// Ollama
	OllamaURL         string        `yaml:"ollama_url" validate:"required,url"`
	GenerateModel     string        `yaml:"generate_model" validate:"required"`
	EmbedModel        string        `yaml:"embed_model" validate:"required"`
	EmbedDimensions   int           `yaml:"embed_dimensions" validate:"gt=0"`
	LLMTimeout        time.Duration `yaml:"llm_timeout" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`

	// Tokenizer and vector index
	Tokenizer    string `yaml:"tokenizer" validate:"oneof=cl100k_base runes"`
	IndexBackend string `yaml:"index_backend" validate:"oneof=flat sqlite"`
	TopK         int    `yaml:"top_k" validate:"gt=0"`

	// Worker pool
	WorkerCount            int `yaml:"worker_count" validate:"gt=0"`
	MaxQueueSize           int `yaml:"max_queue_size" validate:"gt=0"`
	MaxConcurrentTransform int `yaml:"max_concurrent_transform" validate:"gt=0"`

	// Upload limits
	MaxUploadBytes int64 `yaml:"max_upload_bytes" validate:"gt=0"`

	// Ingestion chunking
	ChunkSize       int `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap    int `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	AvgCharsPerPage int `yaml:"avg_chars_per_page" validate:"gt=0"`
	RowsPerChunk    int `yaml:"rows_per_chunk" validate:"gt=0"`

	// Translation and summarization
	ReduceChunkSize int `yaml:"reduce_chunk_size" validate:"gt=0"`
	MaxDepth        int `yaml:"max_depth" validate:"gt=0"`
	MaxChars        int `yaml:"max_chars" validate:"gt=0"`

	// Retry
	MaxRetries     int           `yaml:"max_retries" validate:"gt=0"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" validate:"gte=0"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" validate:"gtefield=RetryBaseDelay"`

	// Job state
	JobTTL time.Duration `yaml:"job_ttl" validate:"gt=0"`

	// PDF
	PDFFallbackPdftotext bool `yaml:"pdf_fallback_pdftotext"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:      "8090",
		OutputDir: "outputs",
		LogLevel:  "info",

		OllamaURL:       "http://localhost:11434",
		GenerateModel:   "llama3:8b",
		EmbedModel:      "nomic-embed-text",
		EmbedDimensions: 768,
		LLMTimeout:      120 * time.Second,

		Tokenizer:    "cl100k_base",
		IndexBackend: "flat",
		TopK:         5,

		WorkerCount:            4,
		MaxQueueSize:           100,
		MaxConcurrentTransform: 4,

		MaxUploadBytes: 52428800, // 50MB

		ChunkSize:       1500,
		ChunkOverlap:    100,
		AvgCharsPerPage: 2000,
		RowsPerChunk:    5,

		ReduceChunkSize: 1000,
		MaxDepth:        3,
		MaxChars:        5000,

		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  30 * time.Second,

		JobTTL: 1 * time.Hour,

		PDFFallbackPdftotext: true,
	}
}

// Load layers defaults, the YAML file at path (or $DOCREDUCE_CONFIG when
// path is empty), ./.env and the process environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return cfg, err
		}
	}

	// Variables already set in the environment win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envOr("PORT", c.Port)
	c.APIKey = envOr("DOCREDUCE_API_KEY", c.APIKey)
	c.OutputDir = envOr("OUTPUT_DIR", c.OutputDir)
	c.LogLevel = strings.ToLower(envOr("LOG_LEVEL", c.LogLevel))

	c.OllamaURL = envOr("OLLAMA_URL", c.OllamaURL)
	c.GenerateModel = envOr("GENERATE_MODEL", c.GenerateModel)
	c.EmbedModel = envOr("EMBED_MODEL", c.EmbedModel)
	c.EmbedDimensions = envInt("EMBED_DIMENSIONS", c.EmbedDimensions)
	c.LLMTimeout = envDuration("LLM_TIMEOUT", c.LLMTimeout)
	c.RequestsPerSecond = envFloat("REQUESTS_PER_SECOND", c.RequestsPerSecond)

	c.Tokenizer = envOr("TOKENIZER", c.Tokenizer)
	c.IndexBackend = envOr("INDEX_BACKEND", c.IndexBackend)
	c.TopK = envInt("TOP_K", c.TopK)

	c.WorkerCount = envInt("WORKER_COUNT", c.WorkerCount)
	c.MaxQueueSize = envInt("MAX_QUEUE_SIZE", c.MaxQueueSize)
	c.MaxConcurrentTransform = envInt("MAX_CONCURRENT_TRANSFORM", c.MaxConcurrentTransform)

	c.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", c.MaxUploadBytes)

	c.ChunkSize = envInt("CHUNK_SIZE", c.ChunkSize)
	c.ChunkOverlap = envInt("CHUNK_OVERLAP", c.ChunkOverlap)
	c.AvgCharsPerPage = envInt("AVG_CHARS_PER_PAGE", c.AvgCharsPerPage)
	c.RowsPerChunk = envInt("ROWS_PER_CHUNK", c.RowsPerChunk)

	c.ReduceChunkSize = envInt("REDUCE_CHUNK_SIZE", c.ReduceChunkSize)
	c.MaxDepth = envInt("MAX_DEPTH", c.MaxDepth)
	c.MaxChars = envInt("MAX_CHARS", c.MaxChars)

	c.MaxRetries = envInt("MAX_RETRIES", c.MaxRetries)
	c.RetryBaseDelay = envDuration("RETRY_BASE_DELAY", c.RetryBaseDelay)
	c.RetryMaxDelay = envDuration("RETRY_MAX_DELAY", c.RetryMaxDelay)

	c.JobTTL = envDuration("JOB_TTL", c.JobTTL)

	c.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", c.PDFFallbackPdftotext)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges, including ChunkOverlap < ChunkSize.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ValidateServe adds the checks needed to expose the HTTP API.
func (c Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("DOCREDUCE_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
