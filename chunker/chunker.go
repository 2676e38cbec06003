// Package chunker splits long documents into overlapping windows while
// tracking absolute byte offsets, so entities detected inside a chunk can be
// mapped back to the original text.
package chunker

import (
	"fmt"
	"regexp"
)

// Config controls the chunking behaviour.
type Config struct {
	MaxChunkSize       int  // Maximum chunk length in bytes.
	Overlap            int  // Overlap between consecutive chunks.
	PreserveBoundaries bool // Refine chunk ends to natural text boundaries.
}

// Chunker splits text into overlapping, offset-tracked windows.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = 5000
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = 500
	}
	return &Chunker{cfg: cfg}
}

// Chunk is a contiguous window over the source text. Content always equals
// source[StartOffset:EndOffset]; the last chunk's EndOffset equals len(source).
type Chunk struct {
	Content     string            `json:"content"`
	StartOffset int               `json:"start_offset"`
	EndOffset   int               `json:"end_offset"`
	Index       int               `json:"chunk_index"`
	TotalChunks int               `json:"total_chunks"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Boundary scan limits around the target end position. The window searched
// for a natural boundary is [max(start, end-boundaryBackscan), end+boundaryLookahead).
const (
	boundaryBackscan  = 500
	boundaryLookahead = 100
)

// Boundary preferences, most natural first.
var (
	paragraphRe = regexp.MustCompile(`\n\n+`)
	sentenceRe  = regexp.MustCompile(`[.!?]\s+`)
	wordRe      = regexp.MustCompile(`\s+`)
)

// Chunk splits text into overlapping windows of at most MaxChunkSize bytes.
// Text that fits in a single chunk is returned as one chunk covering the
// whole input.
func (c *Chunker) Chunk(text string, meta map[string]string) []Chunk {
	if len(text) <= c.cfg.MaxChunkSize {
		return []Chunk{{
			Content:     text,
			StartOffset: 0,
			EndOffset:   len(text),
			Index:       0,
			TotalChunks: 1,
			Metadata:    meta,
		}}
	}

	var chunks []Chunk
	p := 0
	for p < len(text) {
		e := p + c.cfg.MaxChunkSize
		if e >= len(text) {
			e = len(text)
		} else if c.cfg.PreserveBoundaries {
			e = c.refineBoundary(text, p, e)
		}

		chunks = append(chunks, Chunk{
			Content:     text[p:e],
			StartOffset: p,
			EndOffset:   e,
			Index:       len(chunks),
			Metadata:    meta,
		})

		if e >= len(text) {
			break
		}

		// Next chunk starts Overlap bytes before this one ended, but always
		// past the previous start so the loop makes progress.
		next := e - c.cfg.Overlap
		if next <= p {
			next = p + 1
		}
		if next == 0 {
			next = e
		}
		p = next
	}

	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// refineBoundary moves the target end position e to the nearest natural
// boundary within the scan window, preferring paragraph breaks over sentence
// ends over word breaks. Falls back to e unchanged when nothing matches.
func (c *Chunker) refineBoundary(text string, start, e int) int {
	lo := e - boundaryBackscan
	if lo < start {
		lo = start
	}
	hi := e + boundaryLookahead
	if hi > len(text) {
		hi = len(text)
	}
	window := text[lo:hi]

	for _, re := range []*regexp.Regexp{paragraphRe, sentenceRe, wordRe} {
		best := -1
		bestDist := -1
		for _, loc := range re.FindAllStringIndex(window, -1) {
			end := lo + loc[1]
			if end <= start {
				continue
			}
			dist := end - e
			if dist < 0 {
				dist = -dist
			}
			if best == -1 || dist < bestDist {
				best = end
				bestDist = dist
			}
		}
		if best != -1 {
			return best
		}
	}
	return e
}

// ValidateChunks checks the chunk-set invariants against the source text:
// contents match their offsets, chunks are non-empty and contiguous (adjacent
// chunks overlap or touch), and the last chunk reaches the end of the source.
func ValidateChunks(chunks []Chunk, source string) error {
	if len(chunks) == 0 {
		if len(source) == 0 {
			return nil
		}
		return fmt.Errorf("no chunks for non-empty source")
	}

	for i, ch := range chunks {
		if ch.StartOffset < 0 || ch.EndOffset > len(source) || ch.StartOffset >= ch.EndOffset {
			return fmt.Errorf("chunk %d: invalid range [%d, %d)", i, ch.StartOffset, ch.EndOffset)
		}
		if ch.Content != source[ch.StartOffset:ch.EndOffset] {
			return fmt.Errorf("chunk %d: content does not match offsets [%d, %d)", i, ch.StartOffset, ch.EndOffset)
		}
		if i > 0 && ch.StartOffset > chunks[i-1].EndOffset {
			return fmt.Errorf("chunk %d: gap after chunk %d (%d > %d)", i, i-1, ch.StartOffset, chunks[i-1].EndOffset)
		}
	}

	if last := chunks[len(chunks)-1]; last.EndOffset != len(source) {
		return fmt.Errorf("last chunk ends at %d, want %d", last.EndOffset, len(source))
	}
	return nil
}
