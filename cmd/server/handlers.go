package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avaldata/piiscrub"
	"github.com/avaldata/piiscrub/expense"
	"github.com/avaldata/piiscrub/llm"
	"github.com/avaldata/piiscrub/parser"
	"github.com/avaldata/piiscrub/redact"
	"github.com/avaldata/piiscrub/store"
)

type handler struct {
	scrubber *piiscrub.Scrubber
	store    *store.Store
	registry *parser.Registry
	embedder llm.Client
	tracker  *expense.Log
}

// POST /scrub
// Scrubs ad-hoc text without persisting anything.
func (h *handler) handleScrub(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text     string `json:"text"`
		DataType string `json:"data_type,omitempty"`
		Strategy string `json:"strategy,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.DataType == "" {
		req.DataType = "text"
	}

	var opts []piiscrub.ScrubOption
	if req.Strategy != "" {
		strategy, ok := parseStrategy(req.Strategy)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown strategy: %s", req.Strategy))
			return
		}
		opts = append(opts, piiscrub.WithStrategy(strategy))
	}

	res := h.scrubber.Scrub(r.Context(), req.Text, req.DataType, opts...)
	writeJSON(w, http.StatusOK, res)
}

// POST /documents
// Multipart upload: parse -> scrub -> persist -> embed. Only scrubbed
// content is stored; the original bytes are hashed for duplicate detection
// and then discarded with the temp file.
func (h *handler) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(100 << 20); err != nil { // 100MB max
		writeError(w, http.StatusBadRequest, "expected multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	dataType := r.FormValue("data_type")
	if dataType == "" {
		dataType = "transcript"
	}

	// Sanitise filename to prevent path traversal.
	safeName := filepath.Base(header.Filename)
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(safeName)), ".")

	p, err := h.registry.Get(format)
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported format: %s", format))
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read upload")
		slog.Error("reading upload", "error", err)
		return
	}
	contentHash := store.HashContent(raw)

	// Short-circuit on an already-scrubbed identical upload.
	if existing, err := h.store.GetDocumentByHash(ctx, contentHash); err == nil &&
		existing != nil && existing.Status == store.StatusScrubbed {
		writeJSON(w, http.StatusOK, map[string]any{
			"document_id": existing.ID,
			"filename":    safeName,
			"duplicate":   true,
		})
		return
	}

	tmpPath := filepath.Join(os.TempDir(), safeName)
	if err := os.WriteFile(tmpPath, raw, 0600); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process file")
		slog.Error("writing temp file", "error", err)
		return
	}
	defer os.Remove(tmpPath)

	parsed, err := p.Parse(ctx, tmpPath)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "failed to parse document")
		slog.Error("parse error", "filename", safeName, "error", err)
		return
	}

	// Tracker totals are cumulative across the process; the audit row must
	// carry only this scrub's spend.
	inBefore, outBefore := h.tracker.Totals()
	res := h.scrubber.Scrub(ctx, parsed.Text, dataType)
	inAfter, outAfter := h.tracker.Totals()

	status := store.StatusScrubbed
	if res.Audit.Error != "" {
		status = store.StatusFailed
	}

	docID, err := h.store.UpsertDocument(ctx, store.Document{
		Filename:        safeName,
		Format:          format,
		DataType:        dataType,
		ContentHash:     contentHash,
		Status:          status,
		ScrubbedContent: res.Content,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist document")
		slog.Error("persisting document", "filename", safeName, "error", err)
		return
	}

	auditJSON, err := json.Marshal(res.Audit)
	if err != nil {
		auditJSON = []byte("{}")
	}
	if _, err := h.store.InsertAudit(ctx, store.ScrubAudit{
		DocumentID:       docID,
		Method:           string(res.Audit.Method),
		DataType:         dataType,
		Scrubbed:         res.Audit.Scrubbed,
		EntityCount:      res.Audit.Entities.Total,
		DurationMs:       res.Audit.Performance.DurationMs,
		Audit:            string(auditJSON),
		PromptTokens:     inAfter - inBefore,
		CompletionTokens: outAfter - outBefore,
	}); err != nil {
		slog.Error("persisting audit", "document_id", docID, "error", err)
	}

	// Embed the scrubbed content so the redacted corpus stays searchable.
	// Embedding failure is not fatal to the upload.
	if status == store.StatusScrubbed {
		h.embedDocument(ctx, docID, res.Content)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": docID,
		"filename":    safeName,
		"audit":       res.Audit,
	})
}

func (h *handler) embedDocument(ctx context.Context, docID int64, content string) {
	vecs, err := h.embedder.Embed(ctx, []string{content})
	if err != nil || len(vecs) == 0 {
		slog.Warn("embedding scrubbed content failed", "document_id", docID, "error", err)
		return
	}
	if err := h.store.InsertEmbedding(ctx, docID, vecs[0]); err != nil {
		slog.Warn("storing embedding failed", "document_id", docID, "error", err)
	}
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// GET /documents/{id}/audit
func (h *handler) handleGetAudits(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	audits, err := h.store.GetAuditsByDocument(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load audits")
		slog.Error("get audits error", "document_id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": audits})
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	if err := h.store.DeleteDocument(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		slog.Error("delete error", "document_id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// POST /search
// Similarity search over scrubbed content.
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 10
	}

	vecs, err := h.embedder.Embed(ctx, []string{req.Query})
	if err != nil || len(vecs) == 0 {
		writeError(w, http.StatusBadGateway, "embedding query failed")
		slog.Error("search embed error", "error", err)
		return
	}

	results, err := h.store.VectorSearch(ctx, vecs[0], req.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		slog.Error("vector search error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stats": stats})
}

func parseStrategy(s string) (redact.Strategy, bool) {
	switch redact.Strategy(strings.ToLower(s)) {
	case redact.StrategyReplace:
		return redact.StrategyReplace, true
	case redact.StrategyHash:
		return redact.StrategyHash, true
	case redact.StrategyMask:
		return redact.StrategyMask, true
	case redact.StrategyRemove:
		return redact.StrategyRemove, true
	default:
		return "", false
	}
}
