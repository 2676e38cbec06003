package piiscrub

import (
	"math"
	"time"

	"github.com/avaldata/piiscrub/entity"
)

// AuditMethod names the pipeline path a scrub took. Degraded and skipped
// paths are observable only through this field and the error fields; Scrub
// itself never fails.
type AuditMethod string

const (
	MethodHybrid              AuditMethod = "hybrid"
	MethodHybridChunked       AuditMethod = "hybrid_chunked"
	MethodRegexOnly           AuditMethod = "regex_only"
	MethodLLMOnly             AuditMethod = "llm_only"
	MethodDisabled            AuditMethod = "disabled"
	MethodSkippedInvalidInput AuditMethod = "skipped_invalid_input"
	MethodSkippedTooShort     AuditMethod = "skipped_too_short"
	MethodError               AuditMethod = "error"
	MethodErrorChunked        AuditMethod = "error_chunked"
)

// Audit is the immutable record emitted with every scrub. Its JSON shape is
// wire-stable; evolution is additive only.
type Audit struct {
	Version          string       `json:"version"`
	Timestamp        string       `json:"timestamp"`
	Method           AuditMethod  `json:"method"`
	DataType         string       `json:"dataType"`
	Scrubbed         bool         `json:"scrubbed"`
	Entities         EntityStats  `json:"entities"`
	Performance      Performance  `json:"performance"`
	TextStats        TextStats    `json:"text_stats"`
	ChunkStats       *ChunkStats  `json:"chunkStats,omitempty"`
	ValidationErrors []string     `json:"validation_errors,omitempty"`
	Error            string       `json:"error,omitempty"`
}

// EntityStats aggregates the detected entities.
type EntityStats struct {
	Total        int              `json:"total"`
	ByType       map[string]int   `json:"by_type"`
	ByMethod     map[string]int   `json:"by_method"`
	ByConfidence ConfidenceStats  `json:"by_confidence"`
	Details      []EntityDetail   `json:"details,omitempty"`
}

// ConfidenceStats summarises detection confidence.
type ConfidenceStats struct {
	Average      float64        `json:"average"`
	Min          float64        `json:"min"`
	Max          float64        `json:"max"`
	Distribution map[string]int `json:"distribution"`
}

// Confidence distribution bucket labels (wire-stable).
const (
	bucketHigh   = "high (0.9-1.0)"
	bucketMedium = "medium (0.7-0.9)"
	bucketLow    = "low (<0.7)"
)

// EntityDetail describes one detected entity without carrying its raw text.
type EntityDetail struct {
	Type       string   `json:"type"`
	Method     string   `json:"method"`
	Confidence float64  `json:"confidence"`
	Length     int      `json:"length"`
	Position   Position `json:"position"`
}

// Position is a half-open byte range.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Performance carries timing for the whole scrub.
type Performance struct {
	DurationMs       int64 `json:"duration_ms"`
	EntitiesDetected int   `json:"entities_detected"`
}

// TextStats compares input and output sizes.
type TextStats struct {
	OriginalLength      int     `json:"original_length"`
	RedactedLength      int     `json:"redacted_length"`
	CharactersRedacted  int     `json:"characters_redacted"`
	RedactionPercentage float64 `json:"redaction_percentage"`
}

// ChunkStats describes the chunking of a chunked scrub.
type ChunkStats struct {
	Count        int `json:"count"`
	AvgSize      int `json:"avgSize"`
	MinSize      int `json:"minSize"`
	MaxSize      int `json:"maxSize"`
	TotalSize    int `json:"totalSize"`
	OverlapSize  int `json:"overlapSize"`
	MaxChunkSize int `json:"maxChunkSize"`
}

// auditParams is the input to buildAudit. Pure aggregation; no I/O.
type auditParams struct {
	version          string
	method           AuditMethod
	dataType         string
	scrubbed         bool
	entities         []entity.Entity
	original         string
	redacted         string
	duration         time.Duration
	chunkStats       *ChunkStats
	validationErrors []string
	errMsg           string
	includeDetails   bool
}

// buildAudit aggregates entity counts, confidence statistics, and text stats
// into the audit record. Entity details never include the raw text.
func buildAudit(p auditParams) Audit {
	byType := make(map[string]int)
	byMethod := make(map[string]int)
	dist := map[string]int{bucketHigh: 0, bucketMedium: 0, bucketLow: 0}

	var confSum, confMin, confMax float64
	charsRedacted := 0
	for i, e := range p.entities {
		byType[string(e.Type)]++
		byMethod[string(e.Method)]++
		charsRedacted += e.End - e.Start

		confSum += e.Confidence
		if i == 0 || e.Confidence < confMin {
			confMin = e.Confidence
		}
		if e.Confidence > confMax {
			confMax = e.Confidence
		}
		switch {
		case e.Confidence >= 0.9:
			dist[bucketHigh]++
		case e.Confidence >= 0.7:
			dist[bucketMedium]++
		default:
			dist[bucketLow]++
		}
	}

	conf := ConfidenceStats{Distribution: dist}
	if n := len(p.entities); n > 0 {
		conf.Average = round2(confSum / float64(n))
		conf.Min = confMin
		conf.Max = confMax
	}

	var details []EntityDetail
	if p.includeDetails {
		for _, e := range p.entities {
			details = append(details, EntityDetail{
				Type:       string(e.Type),
				Method:     string(e.Method),
				Confidence: e.Confidence,
				Length:     e.End - e.Start,
				Position:   Position{Start: e.Start, End: e.End},
			})
		}
	}

	var pct float64
	if len(p.original) > 0 {
		pct = round2(100 * float64(charsRedacted) / float64(len(p.original)))
	}

	return Audit{
		Version:   p.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Method:    p.method,
		DataType:  p.dataType,
		Scrubbed:  p.scrubbed,
		Entities: EntityStats{
			Total:        len(p.entities),
			ByType:       byType,
			ByMethod:     byMethod,
			ByConfidence: conf,
			Details:      details,
		},
		Performance: Performance{
			DurationMs:       p.duration.Milliseconds(),
			EntitiesDetected: len(p.entities),
		},
		TextStats: TextStats{
			OriginalLength:      len(p.original),
			RedactedLength:      len(p.redacted),
			CharactersRedacted:  charsRedacted,
			RedactionPercentage: pct,
		},
		ChunkStats:       p.chunkStats,
		ValidationErrors: p.validationErrors,
		Error:            p.errMsg,
	}
}

// round2 rounds to two decimal places.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
