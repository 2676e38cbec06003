package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/avaldata/piiscrub/entity"
	"github.com/avaldata/piiscrub/expense"
	"github.com/avaldata/piiscrub/llm"
)

// DefaultSystemPrompt establishes the detection domain and the entities the
// model must not flag. Coaching material is full of assessment and framework
// names that look like proper nouns; without the exclusion list the model
// flags them as PII.
const DefaultSystemPrompt = `You are a PII detection engine for professional coaching content (transcripts, assessments, session notes).

Identify only genuinely sensitive personal information. Do NOT flag:
- Assessment or instrument names (e.g. personality or strengths assessments)
- Coaching frameworks, methodologies, or exercise names
- Generic roles and titles (manager, director, coach, client)
- Generic company types or industries (a tech company, a hospital)

Respond with strict JSON only.`

// llmUserPrompt enumerates the detectable categories and the required JSON
// shape. The document text is appended at the end.
const llmUserPrompt = `Find all PII in the text below. Categories:
- NAME      : a specific person's name
- ADDRESS   : a street, city, or other physical address identifying a person
- DOB       : a date of birth
- MEDICAL   : medical conditions, diagnoses, medications, treatments
- FINANCIAL : salaries, account details, personal financial specifics
- EMPLOYER  : a specific named employer or workplace

Do not flag assessment names, coaching frameworks, generic roles or titles, or generic company types.

Return a JSON object with exactly one key:
  "entities" : array of {"text": string, "type": "NAME|ADDRESS|DOB|MEDICAL|FINANCIAL|EMPLOYER", "start": int, "end": int, "confidence": number}

Rules:
- "text" must be the exact substring as it appears in the text.
- If there is no PII, return {"entities": []}.
- Do NOT include any text outside the JSON object.

TEXT:
%s`

// skipPlaceholder replaces already-detected regions in the prompt so the
// model does not waste tokens re-detecting them. Length is not preserved;
// positions are recovered by relocation against the original text.
const skipPlaceholder = "[DETECTED]"

// defaultConfidence is assigned when the model omits a confidence value.
const defaultConfidence = 0.9

// LLMConfig controls the LLM detector.
type LLMConfig struct {
	Model           string
	Temperature     float64
	SystemPrompt    string        // empty means DefaultSystemPrompt
	BaseTimeout     time.Duration // fixed part of the adaptive deadline
	TimeoutPerKB    time.Duration // added per 1000 bytes of input
	MaxTimeout      time.Duration // hard cap; also the fixed deadline when adaptive is off
	AdaptiveTimeout bool
	MaxRetries      int // retries after the first attempt
}

// LLMDetector finds semantic PII (names, addresses, medical or financial
// references) via a chat-completion model. Detect never fails: every error
// path degrades to an empty result.
type LLMDetector struct {
	client  llm.Client
	tracker expense.Tracker // optional
	cfg     LLMConfig
}

// NewLLMDetector creates a detector backed by the given client. tracker may
// be nil, in which case no cost events are emitted.
func NewLLMDetector(client llm.Client, tracker expense.Tracker, cfg LLMConfig) *LLMDetector {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &LLMDetector{client: client, tracker: tracker, cfg: cfg}
}

// Detect asks the model for PII entities in text. skipRegions are ranges
// already covered by the regex detector; they are masked out of the prompt.
// Returns an empty slice on any failure.
func (d *LLMDetector) Detect(ctx context.Context, text, dataType string, skipRegions []entity.Range) []entity.Entity {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	masked := maskRegions(text, skipRegions)
	timeout := d.timeoutFor(len(text))

	req := llm.ChatRequest{
		Model:       d.cfg.Model,
		Temperature: d.cfg.Temperature,
		Messages: []llm.Message{
			{Role: "system", Content: d.cfg.SystemPrompt},
			{Role: "user", Content: fmt.Sprintf(llmUserPrompt, masked)},
		},
	}

	resp, attempt := d.callWithRetry(ctx, req, timeout)
	if resp == nil {
		return nil
	}

	if d.tracker != nil && resp.TotalTokens > 0 {
		d.tracker.Track(expense.Event{
			Model:        d.cfg.Model,
			Operation:    "pii_detection",
			InputTokens:  resp.PromptTokens,
			OutputTokens: resp.CompletionTokens,
			Metadata: map[string]any{
				"attempt":          attempt,
				"text_length":      len(text),
				"timeout_ms":       timeout.Milliseconds(),
				"adaptive_timeout": d.cfg.AdaptiveTimeout,
			},
		})
	}

	return d.parseEntities(resp.Content, text, dataType)
}

// timeoutFor computes the per-request deadline. The deadline scales with
// input size because model latency does; it is capped at MaxTimeout.
func (d *LLMDetector) timeoutFor(textLen int) time.Duration {
	if !d.cfg.AdaptiveTimeout {
		return d.cfg.MaxTimeout
	}
	t := d.cfg.BaseTimeout + time.Duration(textLen/1000)*d.cfg.TimeoutPerKB
	if t > d.cfg.MaxTimeout {
		t = d.cfg.MaxTimeout
	}
	return t
}

// callWithRetry performs up to MaxRetries+1 attempts. Permanent API errors
// (400, 401) are never retried; everything else (timeouts, network errors,
// 429, 5xx) waits 2^attempt seconds and retries. Returns nil when all
// attempts fail, along with the number of the attempt that succeeded.
func (d *LLMDetector) callWithRetry(ctx context.Context, req llm.ChatRequest, timeout time.Duration) (*llm.ChatResponse, int) {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * time.Second
			slog.Warn("llm detect: retrying", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, attempt
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := d.client.ChatJSON(attemptCtx, req)
		cancel()
		if err == nil {
			return resp, attempt
		}
		lastErr = err

		var apiErr *llm.APIError
		if errors.As(err, &apiErr) && apiErr.Permanent() {
			slog.Warn("llm detect: permanent API error, not retrying", "status", apiErr.StatusCode)
			return nil, attempt
		}
		if ctx.Err() != nil {
			return nil, attempt
		}
	}
	slog.Warn("llm detect: all attempts failed", "attempts", d.cfg.MaxRetries+1, "error", lastErr)
	return nil, d.cfg.MaxRetries
}

// llmEntityList is the JSON shape requested from the model. Entities are kept
// raw so one malformed element does not discard the rest.
type llmEntityList struct {
	Entities []json.RawMessage `json:"entities"`
}

type llmEntity struct {
	Text       string   `json:"text"`
	Type       string   `json:"type"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Confidence *float64 `json:"confidence"`
}

// parseEntities decodes the model response and relocates each entity in the
// original text. Model-reported offsets are unreliable, so the authoritative
// position is the first case-insensitive occurrence of the entity text; an
// entity whose text cannot be found is dropped.
func (d *LLMDetector) parseEntities(raw, original, dataType string) []entity.Entity {
	jsonStr, err := extractJSON(raw)
	if err != nil {
		slog.Warn("llm detect: no JSON in response", "data_type", dataType, "error", err)
		return nil
	}

	var list llmEntityList
	if err := json.Unmarshal([]byte(jsonStr), &list); err != nil {
		slog.Warn("llm detect: unmarshalling response", "data_type", dataType, "error", err)
		return nil
	}

	var out []entity.Entity
	for _, rawEnt := range list.Entities {
		var e llmEntity
		if err := json.Unmarshal(rawEnt, &e); err != nil {
			slog.Debug("llm detect: dropping malformed entity", "error", err)
			continue
		}

		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		typ, ok := entity.ParseType(e.Type)
		if !ok {
			slog.Debug("llm detect: dropping entity with unknown type", "type", e.Type)
			continue
		}

		idx := indexFold(original, text)
		if idx < 0 {
			slog.Debug("llm detect: dropping entity not found in source", "type", typ)
			continue
		}

		conf := defaultConfidence
		if e.Confidence != nil && *e.Confidence >= 0 && *e.Confidence <= 1 {
			conf = *e.Confidence
		}

		out = append(out, entity.Entity{
			Text:        original[idx : idx+len(text)],
			Type:        typ,
			Start:       idx,
			End:         idx + len(text),
			Confidence:  conf,
			Method:      entity.MethodLLM,
			Description: entity.Label(typ),
		})
	}

	entity.SortByStart(out)
	return out
}

// maskRegions replaces each skip region with the literal placeholder. Regions
// come from the regex detector and are non-overlapping; they are processed in
// ascending order so the untouched stretches between them are preserved.
func maskRegions(text string, regions []entity.Range) string {
	if len(regions) == 0 {
		return text
	}

	sorted := make([]entity.Range, len(regions))
	copy(sorted, regions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, r := range sorted {
		if r.Start < pos || r.Start >= r.End || r.End > len(text) {
			continue
		}
		b.WriteString(text[pos:r.Start])
		b.WriteString(skipPlaceholder)
		pos = r.End
	}
	b.WriteString(text[pos:])
	return b.String()
}

// indexFold returns the byte offset of the first case-insensitive occurrence
// of sub in s, or -1. Folding is ASCII-only so byte offsets into s remain
// valid.
func indexFold(s, sub string) int {
	return strings.Index(foldASCII(s), foldASCII(sub))
}

// foldASCII lowercases only the ASCII letters of s, preserving byte length.
func foldASCII(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if b == nil {
				b = []byte(s)
			}
			b[i] = c + ('a' - 'A')
		}
	}
	if b == nil {
		return s
	}
	return string(b)
}

// codeBlockRe strips markdown code fences from model output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON attempts to find a valid JSON object in the model response.
// It handles common LLM quirks: markdown code blocks, text before/after JSON.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}

	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("no JSON object found in response")
}
