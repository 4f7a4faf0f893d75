// Package config loads repoctx configuration from defaults, YAML files and
// REPOCTX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/repoctx/internal/cache"
	"github.com/fyrsmithlabs/repoctx/internal/chunker"
	"github.com/fyrsmithlabs/repoctx/internal/embeddings"
	"github.com/fyrsmithlabs/repoctx/internal/heuristic"
	"github.com/fyrsmithlabs/repoctx/internal/logging"
	"github.com/fyrsmithlabs/repoctx/internal/postprocess"
	"github.com/fyrsmithlabs/repoctx/internal/ranking"
	"github.com/fyrsmithlabs/repoctx/internal/refine"
	"github.com/fyrsmithlabs/repoctx/internal/repository"
	"github.com/fyrsmithlabs/repoctx/internal/retrieval"
	"github.com/fyrsmithlabs/repoctx/internal/telemetry"
	"github.com/fyrsmithlabs/repoctx/internal/vectorstore"
)

// Config is the complete repoctx configuration.
type Config struct {
	Logging     logging.Config          `koanf:"logging"`
	Telemetry   telemetry.Config        `koanf:"telemetry"`
	Scan        ScanConfig              `koanf:"scan"`
	Chunker     ChunkerConfig           `koanf:"chunker"`
	Lexical     retrieval.LexicalConfig `koanf:"lexical"`
	Heuristic   HeuristicConfig         `koanf:"heuristic"`
	Embedding   EmbeddingConfig         `koanf:"embedding"`
	Cache       CacheConfig             `koanf:"cache"`
	VectorStore VectorStoreConfig       `koanf:"vectorstore"`
	Ranking     ranking.Config          `koanf:"ranking"`
	Postprocess postprocess.Config      `koanf:"postprocess"`
	Refine      RefineConfig            `koanf:"refine"`
	Controller  ControllerConfig        `koanf:"controller"`
	Server      ServerConfig            `koanf:"server"`
}

// ScanConfig selects the files a retrieval reads.
type ScanConfig struct {
	IncludeDirs      []string `koanf:"include_dirs"`
	ExcludeDirs      []string `koanf:"exclude_dirs"`
	IncludeExts      []string `koanf:"include_exts"`
	ExcludeExts      []string `koanf:"exclude_exts"`
	MaxFileSize      int      `koanf:"max_file_size"`
	RespectGitignore bool     `koanf:"respect_gitignore"`
}

// ChunkerConfig controls chunk sizes.
type ChunkerConfig struct {
	MaxChars      int `koanf:"max_chars"`
	Coalesce      int `koanf:"coalesce"`
	WindowLines   int `koanf:"window_lines"`
	WindowOverlap int `koanf:"window_overlap"`
}

// HeuristicConfig tunes the path score.
type HeuristicConfig struct {
	LineCap         int     `koanf:"line_cap"`
	MaxContribution float64 `koanf:"max_contribution"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is "tei", "openai", "fastembed", "hash" or "none".
	Provider    string   `koanf:"provider"`
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	CacheDir    string   `koanf:"cache_dir"`
	Dimension   int      `koanf:"dimension"`
	BatchSize   int      `koanf:"batch_size"`
	MaxRetries  int      `koanf:"max_retries"`
	BaseBackoff Duration `koanf:"base_backoff"`
}

// CacheConfig selects the embedding cache backend.
type CacheConfig struct {
	// Backend is "memory", "nats" or "none".
	Backend  string `koanf:"backend"`
	NATSURL  string `koanf:"nats_url"`
	Bucket   string `koanf:"bucket"`
	Replicas int    `koanf:"replicas"`
}

// VectorStoreConfig selects the vector store backend.
type VectorStoreConfig struct {
	// Backend is "chromem" or "qdrant".
	Backend string        `koanf:"backend"`
	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the in-process store.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port"`
	APIKey       Secret   `koanf:"api_key"`
	UseTLS       bool     `koanf:"use_tls"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
}

// RefineConfig bounds the refinement loop.
type RefineConfig struct {
	MaxIterations     int      `koanf:"max_iterations"`
	MaxBadCalls       int      `koanf:"max_bad_calls"`
	ControllerRetries int      `koanf:"controller_retries"`
	RetryBackoff      Duration `koanf:"retry_backoff"`
	CallTimeout       Duration `koanf:"call_timeout"`
	WallClock         Duration `koanf:"wall_clock"`
	ExcludedPaths     []string `koanf:"excluded_paths"`
	MinConfidence     float64  `koanf:"min_confidence"`
	MaxViewLines      int      `koanf:"max_view_lines"`
	MaxSearchResults  int      `koanf:"max_search_results"`
	RankedPreview     int      `koanf:"ranked_preview"`
}

// ControllerConfig selects the model that drives refinement.
type ControllerConfig struct {
	// Provider is "openai" or "none".
	Provider    string  `koanf:"provider"`
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      Secret  `koanf:"api_key"`
	RateLimit   float64 `koanf:"rate_limit"`
	Burst       int     `koanf:"burst"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
	// Redact scrubs secrets from prompts before they leave the process.
	Redact bool `koanf:"redact"`
}

// ServerConfig configures the HTTP and MCP surfaces of "repoctx serve".
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	// Roots restricts the repositories a request may name. Empty allows
	// any path.
	Roots []string `koanf:"roots"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// Redact scrubs secrets from returned snippet content.
	Redact bool `koanf:"redact"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	scan := repository.DefaultOptions()
	ch := chunker.DefaultConfig()
	heur := heuristic.DefaultConfig()
	ref := refine.DefaultConfig()
	return &Config{
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
		Scan: ScanConfig{
			IncludeDirs:      scan.IncludeDirs,
			ExcludeDirs:      scan.ExcludeDirs,
			IncludeExts:      scan.IncludeExts,
			ExcludeExts:      scan.ExcludeExts,
			MaxFileSize:      scan.MaxFileSize,
			RespectGitignore: scan.RespectGitignore,
		},
		Chunker: ChunkerConfig{
			MaxChars:      ch.MaxChars,
			Coalesce:      ch.Coalesce,
			WindowLines:   ch.WindowLines,
			WindowOverlap: ch.WindowOverlap,
		},
		Lexical:   retrieval.DefaultLexicalConfig(),
		Heuristic: HeuristicConfig{LineCap: heur.LineCap, MaxContribution: heur.MaxContribution},
		Embedding: EmbeddingConfig{
			Provider:    "hash",
			Dimension:   256,
			BatchSize:   embeddings.DefaultBatchSize,
			MaxRetries:  embeddings.DefaultMaxRetries,
			BaseBackoff: Duration(embeddings.DefaultBaseBackoff),
		},
		Cache: CacheConfig{
			Backend:  "memory",
			NATSURL:  "nats://127.0.0.1:4222",
			Bucket:   cache.DefaultBucket,
			Replicas: 1,
		},
		VectorStore: VectorStoreConfig{
			Backend: "chromem",
			Qdrant: QdrantConfig{
				Host:         "localhost",
				Port:         6334,
				MaxRetries:   3,
				RetryBackoff: Duration(time.Second),
			},
		},
		Ranking:     ranking.DefaultConfig(),
		Postprocess: postprocess.DefaultConfig(),
		Refine: RefineConfig{
			MaxIterations:     ref.MaxIterations,
			MaxBadCalls:       ref.MaxBadCalls,
			ControllerRetries: ref.ControllerRetries,
			RetryBackoff:      Duration(ref.RetryBackoff),
			CallTimeout:       Duration(ref.CallTimeout),
			WallClock:         Duration(ref.WallClock),
			ExcludedPaths:     ref.ExcludedPaths,
			MinConfidence:     ref.MinConfidence,
			MaxViewLines:      ref.MaxViewLines,
			MaxSearchResults:  ref.MaxSearchResults,
			RankedPreview:     ref.RankedPreview,
		},
		Controller: ControllerConfig{
			Provider:    "none",
			Model:       "gpt-4o-mini",
			RateLimit:   refine.DefaultRateLimit,
			Burst:       refine.DefaultBurst,
			Temperature: refine.DefaultTemperature,
			MaxTokens:   refine.DefaultMaxTokens,
			Redact:      true,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
			Redact:          true,
		},
	}
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	if c.Scan.MaxFileSize < 0 {
		errs = append(errs, fmt.Errorf("scan.max_file_size must be >= 0"))
	}
	if c.Chunker.WindowLines < 0 || c.Chunker.WindowOverlap < 0 {
		errs = append(errs, fmt.Errorf("chunker window sizes must be >= 0"))
	}
	if c.Chunker.WindowLines > 0 && c.Chunker.WindowOverlap >= c.Chunker.WindowLines {
		errs = append(errs, fmt.Errorf("chunker.window_overlap must be smaller than chunker.window_lines"))
	}
	if c.Lexical.B < 0 || c.Lexical.B > 1 {
		errs = append(errs, fmt.Errorf("lexical.b must be between 0 and 1, got %g", c.Lexical.B))
	}
	if c.Lexical.K1 < 0 {
		errs = append(errs, fmt.Errorf("lexical.k1 must be >= 0"))
	}
	switch c.Embedding.Provider {
	case "tei", "openai":
		if c.Embedding.BaseURL == "" && c.Embedding.Provider == "tei" {
			errs = append(errs, fmt.Errorf("embedding.base_url is required for tei"))
		}
		if c.Embedding.Model == "" {
			errs = append(errs, fmt.Errorf("embedding.model is required for %s", c.Embedding.Provider))
		}
	case "fastembed", "none":
	case "hash":
		if c.Embedding.Dimension <= 0 {
			errs = append(errs, fmt.Errorf("embedding.dimension must be > 0 for hash"))
		}
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is not one of tei, openai, fastembed, hash, none", c.Embedding.Provider))
	}
	switch c.Cache.Backend {
	case "memory", "none":
	case "nats":
		if c.Cache.NATSURL == "" {
			errs = append(errs, fmt.Errorf("cache.nats_url is required for nats"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not one of memory, nats, none", c.Cache.Backend))
	}
	switch c.VectorStore.Backend {
	case "chromem":
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" || c.VectorStore.Qdrant.Port <= 0 {
			errs = append(errs, fmt.Errorf("vectorstore.qdrant host and port are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("vectorstore.backend %q is not one of chromem, qdrant", c.VectorStore.Backend))
	}
	if c.Ranking.VectorWeight < 0 {
		errs = append(errs, fmt.Errorf("ranking.vector_weight must be >= 0, got %g", c.Ranking.VectorWeight))
	}
	if c.Ranking.LexicalFloor < 0 || c.Ranking.LexicalFloor > 1 {
		errs = append(errs, fmt.Errorf("ranking.lexical_floor must be between 0 and 1, got %g", c.Ranking.LexicalFloor))
	}
	if c.Heuristic.MaxContribution < 0 || c.Heuristic.MaxContribution > 1 {
		errs = append(errs, fmt.Errorf("heuristic.max_contribution must be between 0 and 1, got %g", c.Heuristic.MaxContribution))
	}
	if c.Postprocess.MaxSnippets < 0 || c.Postprocess.MaxChars < 0 {
		errs = append(errs, fmt.Errorf("postprocess limits must be >= 0"))
	}
	if c.Refine.MinConfidence < 0 || c.Refine.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("refine.min_confidence must be between 0 and 1"))
	}
	switch c.Controller.Provider {
	case "none":
	case "openai":
		if c.Controller.Model == "" {
			errs = append(errs, fmt.Errorf("controller.model is required for openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("controller.provider %q is not one of openai, none", c.Controller.Provider))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port))
	}
	return errors.Join(errs...)
}

// Pipeline returns the retrieval stage settings.
func (c *Config) Pipeline() retrieval.Config {
	return retrieval.Config{
		Scan: repository.Options{
			IncludeDirs:      c.Scan.IncludeDirs,
			ExcludeDirs:      c.Scan.ExcludeDirs,
			IncludeExts:      c.Scan.IncludeExts,
			ExcludeExts:      c.Scan.ExcludeExts,
			MaxFileSize:      c.Scan.MaxFileSize,
			RespectGitignore: c.Scan.RespectGitignore,
		},
		Chunker: chunker.Config{
			MaxChars:      c.Chunker.MaxChars,
			Coalesce:      c.Chunker.Coalesce,
			WindowLines:   c.Chunker.WindowLines,
			WindowOverlap: c.Chunker.WindowOverlap,
		},
		Lexical:     c.Lexical,
		Heuristic:   heuristic.Config{LineCap: c.Heuristic.LineCap, MaxContribution: c.Heuristic.MaxContribution},
		Ranking:     c.Ranking,
		Postprocess: c.Postprocess,
		Refine: refine.Config{
			MaxIterations:     c.Refine.MaxIterations,
			MaxBadCalls:       c.Refine.MaxBadCalls,
			ControllerRetries: c.Refine.ControllerRetries,
			RetryBackoff:      c.Refine.RetryBackoff.Duration(),
			CallTimeout:       c.Refine.CallTimeout.Duration(),
			WallClock:         c.Refine.WallClock.Duration(),
			ExcludedPaths:     c.Refine.ExcludedPaths,
			MinConfidence:     c.Refine.MinConfidence,
			MaxViewLines:      c.Refine.MaxViewLines,
			MaxSearchResults:  c.Refine.MaxSearchResults,
			RankedPreview:     c.Refine.RankedPreview,
		},
	}
}

// ProviderConfig returns the embedding provider settings.
func (c EmbeddingConfig) ProviderConfig() embeddings.ProviderConfig {
	return embeddings.ProviderConfig{
		Provider:  c.Provider,
		Model:     c.Model,
		BaseURL:   c.BaseURL,
		APIKey:    c.APIKey.Value(),
		CacheDir:  c.CacheDir,
		Dimension: c.Dimension,
	}
}

// ClientConfig returns the batching client settings.
func (c EmbeddingConfig) ClientConfig() embeddings.ClientConfig {
	return embeddings.ClientConfig{
		BatchSize:   c.BatchSize,
		MaxRetries:  c.MaxRetries,
		BaseBackoff: c.BaseBackoff.Duration(),
	}
}

// NATSConfig returns the KV cache settings.
func (c CacheConfig) NATSConfig() cache.NATSConfig {
	return cache.NATSConfig{Bucket: c.Bucket, Replicas: c.Replicas}
}

// ChromemConfig returns the in-process store settings.
func (c VectorStoreConfig) ChromemConfig() vectorstore.ChromemConfig {
	return vectorstore.ChromemConfig{Path: c.Chromem.Path, Compress: c.Chromem.Compress}
}

// QdrantConfig returns the Qdrant client settings.
func (c VectorStoreConfig) QdrantConfig() vectorstore.QdrantConfig {
	return vectorstore.QdrantConfig{
		Host:         c.Qdrant.Host,
		Port:         c.Qdrant.Port,
		APIKey:       c.Qdrant.APIKey.Value(),
		UseTLS:       c.Qdrant.UseTLS,
		MaxRetries:   c.Qdrant.MaxRetries,
		RetryBackoff: c.Qdrant.RetryBackoff.Duration(),
	}
}

// OpenAIConfig returns the chat model settings.
func (c ControllerConfig) OpenAIConfig() refine.OpenAIConfig {
	return refine.OpenAIConfig{Model: c.Model, BaseURL: c.BaseURL, APIKey: c.APIKey.Value()}
}

// LLMConfig returns the controller call settings.
func (c ControllerConfig) LLMConfig() refine.LLMConfig {
	return refine.LLMConfig{
		RateLimit:   c.RateLimit,
		Burst:       c.Burst,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
}
