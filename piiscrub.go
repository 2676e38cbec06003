// Package piiscrub detects and redacts personally identifiable information
// in free text using a hybrid of deterministic regex patterns and an LLM
// detector. Scrub is a total function: every input, failure, and panic maps
// to a Result whose Audit records which path was taken.
package piiscrub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/avaldata/piiscrub/chunker"
	"github.com/avaldata/piiscrub/detect"
	"github.com/avaldata/piiscrub/entity"
	"github.com/avaldata/piiscrub/expense"
	"github.com/avaldata/piiscrub/llm"
	"github.com/avaldata/piiscrub/redact"
)

// Inputs shorter than this after trimming are returned unchanged; they
// cannot contain meaningful PII and are not worth an LLM round trip.
const minScrubLength = 20

// Scrubber runs the detection and redaction pipeline. It is safe for
// concurrent use; per-call configuration goes through ScrubOption.
type Scrubber struct {
	cfg     Config
	client  llm.Client
	tracker expense.Tracker
	regex   *detect.RegexDetector
}

// Option configures a Scrubber at construction time.
type Option func(*Scrubber)

// WithClient supplies an explicit LLM client, replacing the default
// OpenAI-compatible client built from Config.LLM.
func WithClient(c llm.Client) Option {
	return func(s *Scrubber) { s.client = c }
}

// WithTracker attaches an expense tracker that receives one event per
// successful LLM call.
func WithTracker(t expense.Tracker) Option {
	return func(s *Scrubber) { s.tracker = t }
}

// New creates a Scrubber. When LLM detection is enabled and no client is
// supplied, an OpenAI-compatible client is built from cfg.LLM; this requires
// a base URL.
func New(cfg Config, opts ...Option) (*Scrubber, error) {
	applyDefaults(&cfg)

	s := &Scrubber{
		cfg:   cfg,
		regex: detect.NewRegexDetector(),
	}
	for _, opt := range opts {
		opt(s)
	}

	switch cfg.Strategy {
	case redact.StrategyReplace, redact.StrategyHash, redact.StrategyMask, redact.StrategyRemove:
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, cfg.Strategy)
	}

	if s.client == nil && cfg.EnableLLM {
		if cfg.LLM.BaseURL == "" {
			return nil, fmt.Errorf("%w: LLM enabled without base URL", ErrMissingClient)
		}
		s.client = llm.NewOpenAI(cfg.LLM)
	}

	return s, nil
}

// Result is the outcome of a Scrub call. Content is always usable: on any
// failure it is the original input and the audit explains why.
type Result struct {
	Content string `json:"content"`
	Audit   Audit  `json:"audit"`
}

// Scrub detects and redacts PII in text. dataType labels the kind of content
// (transcript, assessment, notes) for the audit and the LLM prompt context.
// Scrub never returns an error; degraded paths are recorded in the audit.
func (s *Scrubber) Scrub(ctx context.Context, text, dataType string, opts ...ScrubOption) (res Result) {
	cfg := s.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("scrub: recovered from panic", "panic", r, "data_type", dataType)
			method := MethodError
			if cfg.EnableChunking && len(text) > cfg.ChunkThreshold {
				method = MethodErrorChunked
			}
			res = Result{
				Content: text,
				Audit: buildAudit(auditParams{
					version:  cfg.Version,
					method:   method,
					dataType: dataType,
					original: text,
					redacted: text,
					duration: time.Since(start),
					errMsg:   fmt.Sprintf("panic: %v", r),
				}),
			}
		}
	}()

	if text == "" {
		return s.skipResult(cfg, text, dataType, MethodSkippedInvalidInput, start)
	}
	if len(strings.TrimSpace(text)) < minScrubLength {
		return s.skipResult(cfg, text, dataType, MethodSkippedTooShort, start)
	}

	if cfg.EnableChunking && len(text) > cfg.ChunkThreshold {
		return s.scrubChunked(ctx, cfg, text, dataType, start)
	}

	entities := s.detectChunk(ctx, cfg, text, dataType)
	return s.finish(cfg, text, dataType, s.methodName(cfg), entities, nil, start)
}

// skipResult returns the input unchanged with a skip-method audit.
func (s *Scrubber) skipResult(cfg Config, text, dataType string, method AuditMethod, start time.Time) Result {
	return Result{
		Content: text,
		Audit: buildAudit(auditParams{
			version:  cfg.Version,
			method:   method,
			dataType: dataType,
			original: text,
			redacted: text,
			duration: time.Since(start),
		}),
	}
}

// methodName maps the enabled detectors to the audit method for the
// single-pass path.
func (s *Scrubber) methodName(cfg Config) AuditMethod {
	switch {
	case cfg.EnableRegex && cfg.EnableLLM:
		return MethodHybrid
	case cfg.EnableLLM:
		return MethodLLMOnly
	case cfg.EnableRegex:
		return MethodRegexOnly
	default:
		return MethodDisabled
	}
}

// detectChunk runs both detectors over one piece of text. Regex runs first;
// its spans are passed to the LLM detector as skip regions and win any
// overlap during the merge.
func (s *Scrubber) detectChunk(ctx context.Context, cfg Config, text, dataType string) []entity.Entity {
	var regexEntities []entity.Entity
	if cfg.EnableRegex {
		regexEntities = s.regex.Detect(text)
	}

	var llmEntities []entity.Entity
	if cfg.EnableLLM && s.client != nil {
		skip := make([]entity.Range, 0, len(regexEntities))
		for _, e := range regexEntities {
			skip = append(skip, e.Range())
		}
		det := detect.NewLLMDetector(s.client, s.tracker, detect.LLMConfig{
			Model:           cfg.LLM.Model,
			Temperature:     cfg.Temperature,
			SystemPrompt:    cfg.SystemPrompt,
			BaseTimeout:     cfg.BaseTimeout,
			TimeoutPerKB:    cfg.TimeoutPerKB,
			MaxTimeout:      cfg.MaxTimeout,
			AdaptiveTimeout: cfg.AdaptiveTimeout,
			MaxRetries:      cfg.MaxRetries,
		})
		llmEntities = det.Detect(ctx, text, dataType, skip)
	}

	return entity.MergeWithinChunk(regexEntities, llmEntities)
}

// scrubChunked splits the text, detects PII per chunk with bounded fan-out,
// merges the per-chunk results back to absolute coordinates, and redacts the
// original text once.
func (s *Scrubber) scrubChunked(ctx context.Context, cfg Config, text, dataType string, start time.Time) Result {
	ck := chunker.New(chunker.Config{
		MaxChunkSize:       cfg.MaxChunkSize,
		Overlap:            cfg.OverlapSize,
		PreserveBoundaries: cfg.PreserveBoundaries,
	})
	chunks := ck.Chunk(text, map[string]string{"data_type": dataType})
	if err := chunker.ValidateChunks(chunks, text); err != nil {
		slog.Error("scrub: chunk validation failed, falling back to single pass", "error", err)
		entities := s.detectChunk(ctx, cfg, text, dataType)
		return s.finish(cfg, text, dataType, s.methodName(cfg), entities, nil, start)
	}

	slog.Info("scrub: processing chunked document",
		"data_type", dataType, "length", len(text), "chunks", len(chunks))

	results := make([]entity.ChunkResult, len(chunks))
	sem := make(chan struct{}, cfg.MaxConcurrentChunks)
	var wg sync.WaitGroup

	for i, c := range chunks {
		wg.Add(1)
		go func(i int, c chunker.Chunk) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = entity.ChunkResult{Offset: c.StartOffset, Err: ctx.Err()}
				return
			}
			defer func() {
				if r := recover(); r != nil {
					slog.Error("scrub: chunk panicked", "chunk", i, "panic", r)
					results[i] = entity.ChunkResult{Offset: c.StartOffset, Err: fmt.Errorf("chunk %d: panic: %v", i, r)}
				}
			}()
			results[i] = entity.ChunkResult{
				Offset:   c.StartOffset,
				Entities: s.detectChunk(ctx, cfg, c.Content, dataType),
			}
		}(i, c)
	}
	wg.Wait()

	for i, r := range results {
		if r.Err != nil {
			slog.Warn("scrub: chunk failed, its entities are missing from the result",
				"chunk", i, "error", r.Err)
		}
	}

	entities := entity.MergeAcrossChunks(results, text)
	stats := computeChunkStats(chunks, cfg)
	return s.finish(cfg, text, dataType, MethodHybridChunked, entities, stats, start)
}

// computeChunkStats summarises chunk sizes for the audit.
func computeChunkStats(chunks []chunker.Chunk, cfg Config) *ChunkStats {
	if len(chunks) == 0 {
		return nil
	}
	stats := &ChunkStats{
		Count:        len(chunks),
		MinSize:      len(chunks[0].Content),
		OverlapSize:  cfg.OverlapSize,
		MaxChunkSize: cfg.MaxChunkSize,
	}
	for _, c := range chunks {
		n := len(c.Content)
		stats.TotalSize += n
		if n < stats.MinSize {
			stats.MinSize = n
		}
		if n > stats.MaxSize {
			stats.MaxSize = n
		}
	}
	stats.AvgSize = stats.TotalSize / len(chunks)
	return stats
}

// finish redacts, validates, and assembles the result. When validation finds
// surviving PII the original text is returned rather than a partially
// redacted one.
func (s *Scrubber) finish(cfg Config, text, dataType string, method AuditMethod, entities []entity.Entity, chunkStats *ChunkStats, start time.Time) Result {
	r := redact.New(redact.Config{Strategy: cfg.Strategy, HashKey: cfg.HashKey})
	redacted := r.Apply(text, entities)

	content := redacted
	scrubbed := len(entities) > 0
	var validationErrors []string
	if ok, errs := r.Validate(text, redacted, entities); !ok {
		slog.Error("scrub: validation failed, returning original text",
			"data_type", dataType, "errors", len(errs))
		content = text
		scrubbed = false
		validationErrors = errs
	}

	return Result{
		Content: content,
		Audit: buildAudit(auditParams{
			version:          cfg.Version,
			method:           method,
			dataType:         dataType,
			scrubbed:         scrubbed,
			entities:         entities,
			original:         text,
			redacted:         content,
			duration:         time.Since(start),
			chunkStats:       chunkStats,
			validationErrors: validationErrors,
			includeDetails:   cfg.IncludeEntityDetails,
		}),
	}
}
