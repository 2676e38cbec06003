package entity

import (
	"fmt"
	"log/slog"
	"strings"
)

// MergeWithinChunk combines regex and LLM detections for a single chunk.
// Regex entities are authoritative: any LLM entity whose span overlaps a
// regex entity is dropped. The result is sorted by start offset.
func MergeWithinChunk(regexEntities, llmEntities []Entity) []Entity {
	merged := make([]Entity, 0, len(regexEntities)+len(llmEntities))
	merged = append(merged, regexEntities...)

	for _, le := range llmEntities {
		overlapped := false
		for _, re := range regexEntities {
			if Overlaps(le.Range(), re.Range()) {
				overlapped = true
				break
			}
		}
		if overlapped {
			slog.Debug("merge: dropping llm entity overlapping regex span",
				"type", le.Type, "start", le.Start, "end", le.End)
			continue
		}
		merged = append(merged, le)
	}

	SortByStart(merged)
	return merged
}

// ChunkResult carries the entities detected within one chunk, in chunk-local
// coordinates. Offset is the chunk's absolute start in the source text. A
// non-nil Err marks a failed chunk; its entities are ignored by the merger.
type ChunkResult struct {
	Offset   int
	Entities []Entity
	Err      error
}

// MergeAcrossChunks translates per-chunk entities to absolute coordinates,
// rejects out-of-bound spans, and deduplicates entities that were detected
// twice inside the overlap region shared by adjacent chunks. Duplicates are
// identified by (start, end, lowercased trimmed source text); the first
// occurrence wins. Failed chunks contribute nothing but do not abort the
// merge. The result is sorted by absolute start offset.
func MergeAcrossChunks(results []ChunkResult, source string) []Entity {
	seen := make(map[string]bool)
	var merged []Entity

	for _, res := range results {
		if res.Err != nil {
			continue
		}
		for _, e := range res.Entities {
			e.Start += res.Offset
			e.End += res.Offset
			if e.Start < 0 || e.End > len(source) || e.Start >= e.End {
				slog.Warn("merge: rejecting entity outside source bounds",
					"type", e.Type, "start", e.Start, "end", e.End, "source_len", len(source))
				continue
			}
			key := fmt.Sprintf("%d:%d:%s", e.Start, e.End,
				strings.ToLower(strings.TrimSpace(source[e.Start:e.End])))
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, e)
		}
	}

	SortByStart(merged)
	return merged
}
