package piiscrub

import (
	"time"

	"github.com/avaldata/piiscrub/llm"
	"github.com/avaldata/piiscrub/redact"
)

// Config holds all configuration for a Scrubber. A Scrubber is built once
// from a Config and is then immutable; per-call overrides go through
// ScrubOption.
type Config struct {
	// Detection toggles.
	EnableRegex bool `json:"enable_regex" yaml:"enable_regex"`
	EnableLLM   bool `json:"enable_llm" yaml:"enable_llm"`

	// LLM endpoint.
	LLM llm.Config `json:"llm" yaml:"llm"`

	// LLM behaviour.
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	SystemPrompt string  `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`

	// Per-request deadlines scale with input size: BaseTimeout plus
	// TimeoutPerKB per 1000 bytes, capped at MaxTimeout. With
	// AdaptiveTimeout off, MaxTimeout is used directly.
	BaseTimeout     time.Duration `json:"base_timeout" yaml:"base_timeout"`
	TimeoutPerKB    time.Duration `json:"timeout_per_kb" yaml:"timeout_per_kb"`
	MaxTimeout      time.Duration `json:"max_timeout" yaml:"max_timeout"`
	AdaptiveTimeout bool          `json:"adaptive_timeout" yaml:"adaptive_timeout"`
	MaxRetries      int           `json:"max_retries" yaml:"max_retries"`

	// Chunking.
	EnableChunking      bool `json:"enable_chunking" yaml:"enable_chunking"`
	ChunkThreshold      int  `json:"chunk_threshold" yaml:"chunk_threshold"`
	MaxChunkSize        int  `json:"max_chunk_size" yaml:"max_chunk_size"`
	OverlapSize         int  `json:"overlap_size" yaml:"overlap_size"`
	PreserveBoundaries  bool `json:"preserve_boundaries" yaml:"preserve_boundaries"`
	MaxConcurrentChunks int  `json:"max_concurrent_chunks" yaml:"max_concurrent_chunks"`

	// Redaction.
	Strategy redact.Strategy `json:"strategy" yaml:"strategy"`
	HashKey  []byte          `json:"-" yaml:"-"`

	// Audit.
	Version              string `json:"version" yaml:"version"`
	IncludeEntityDetails bool   `json:"include_entity_details" yaml:"include_entity_details"`
}

// DefaultConfig returns a Config with both detectors enabled and the
// reference thresholds for chunking and timeouts.
func DefaultConfig() Config {
	return Config{
		EnableRegex: true,
		EnableLLM:   true,
		LLM: llm.Config{
			Model:   "gpt-4o-mini",
			BaseURL: "https://api.openai.com",
		},
		Temperature:          0,
		BaseTimeout:          30 * time.Second,
		TimeoutPerKB:         10 * time.Second,
		MaxTimeout:           10 * time.Minute,
		AdaptiveTimeout:      true,
		MaxRetries:           2,
		EnableChunking:       true,
		ChunkThreshold:       5000,
		MaxChunkSize:         5000,
		OverlapSize:          500,
		PreserveBoundaries:   true,
		MaxConcurrentChunks:  5,
		Strategy:             redact.StrategyReplace,
		Version:              "1.0.0",
		IncludeEntityDetails: true,
	}
}

// applyDefaults replaces zero-value numeric fields with the reference
// defaults so a sparse Config still behaves sensibly.
func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.BaseTimeout == 0 {
		cfg.BaseTimeout = def.BaseTimeout
	}
	if cfg.TimeoutPerKB == 0 {
		cfg.TimeoutPerKB = def.TimeoutPerKB
	}
	if cfg.MaxTimeout == 0 {
		cfg.MaxTimeout = def.MaxTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.ChunkThreshold == 0 {
		cfg.ChunkThreshold = def.ChunkThreshold
	}
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = def.MaxChunkSize
	}
	if cfg.OverlapSize == 0 {
		cfg.OverlapSize = def.OverlapSize
	}
	if cfg.MaxConcurrentChunks == 0 {
		cfg.MaxConcurrentChunks = def.MaxConcurrentChunks
	}
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
}

// ScrubOption overrides configuration for a single Scrub call.
type ScrubOption func(*Config)

// WithoutRegex disables the regex detector for this call.
func WithoutRegex() ScrubOption {
	return func(c *Config) { c.EnableRegex = false }
}

// WithoutLLM disables the LLM detector for this call.
func WithoutLLM() ScrubOption {
	return func(c *Config) { c.EnableLLM = false }
}

// WithStrategy overrides the redaction strategy for this call.
func WithStrategy(s redact.Strategy) ScrubOption {
	return func(c *Config) { c.Strategy = s }
}

// WithHashKey sets the HMAC key used by the hash strategy for this call.
func WithHashKey(key []byte) ScrubOption {
	return func(c *Config) { c.HashKey = key }
}

// WithChunking enables or disables chunked processing for this call.
func WithChunking(enabled bool) ScrubOption {
	return func(c *Config) { c.EnableChunking = enabled }
}

// WithChunkThreshold overrides the length above which chunking kicks in.
func WithChunkThreshold(n int) ScrubOption {
	return func(c *Config) { c.ChunkThreshold = n }
}

// WithMaxConcurrentChunks overrides the chunk fan-out bound for this call.
func WithMaxConcurrentChunks(n int) ScrubOption {
	return func(c *Config) { c.MaxConcurrentChunks = n }
}

// WithEntityDetails controls whether the audit carries per-entity details.
func WithEntityDetails(include bool) ScrubOption {
	return func(c *Config) { c.IncludeEntityDetails = include }
}

// WithModel overrides the chat model for this call.
func WithModel(model string) ScrubOption {
	return func(c *Config) { c.LLM.Model = model }
}
