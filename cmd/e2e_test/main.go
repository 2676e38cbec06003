// Command e2e_test runs the full pipeline against a live OpenAI-compatible
// endpoint: scrub a sample transcript, persist it with its audit, embed the
// scrubbed content, and search for it. Requires OPENAI_API_KEY.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/avaldata/piiscrub"
	"github.com/avaldata/piiscrub/expense"
	"github.com/avaldata/piiscrub/llm"
	"github.com/avaldata/piiscrub/store"
)

const sampleTranscript = `Coach: Good morning! How have things been since our last session?
Client: Honestly, stressful. My manager at Meridian Health Systems keeps
piling on work, and I told her my email sarah.j@example.com is flooded.
Coach: Let's talk about boundaries. You mentioned your doctor adjusted
your anxiety medication last month, how is that going?
Client: Better. You can reach me at 555-867-5309 if we need to reschedule.`

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "OPENAI_API_KEY not set")
		os.Exit(1)
	}

	tmpDir, _ := os.MkdirTemp("", "piiscrub-e2e-*")
	defer os.RemoveAll(tmpDir)

	cfg := piiscrub.DefaultConfig()
	cfg.LLM.APIKey = apiKey

	tracker := expense.NewLog()
	scrubber, err := piiscrub.New(cfg, piiscrub.WithTracker(tracker))
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating scrubber: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Scrub
	res := scrubber.Scrub(ctx, sampleTranscript, "transcript")
	slog.Info("scrubbed", "method", res.Audit.Method, "entities", res.Audit.Entities.Total,
		"duration_ms", res.Audit.Performance.DurationMs)
	if res.Audit.Error != "" {
		fmt.Fprintf(os.Stderr, "scrub degraded: %s\n", res.Audit.Error)
		os.Exit(1)
	}

	// Persist
	st, err := store.New(tmpDir+"/e2e.db", 1536)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	auditJSON, _ := json.Marshal(res.Audit)
	docID, err := st.UpsertDocument(ctx, store.Document{
		Filename:        "sample.txt",
		Format:          "txt",
		DataType:        "transcript",
		ContentHash:     store.HashContent([]byte(sampleTranscript)),
		Status:          store.StatusScrubbed,
		ScrubbedContent: res.Content,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "persisting document: %v\n", err)
		os.Exit(1)
	}
	if _, err := st.InsertAudit(ctx, store.ScrubAudit{
		DocumentID:  docID,
		Method:      string(res.Audit.Method),
		DataType:    "transcript",
		Scrubbed:    res.Audit.Scrubbed,
		EntityCount: res.Audit.Entities.Total,
		DurationMs:  res.Audit.Performance.DurationMs,
		Audit:       string(auditJSON),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "persisting audit: %v\n", err)
		os.Exit(1)
	}

	// Embed + search
	embedCfg := cfg.LLM
	embedCfg.Model = "text-embedding-3-small"
	client := llm.NewOpenAI(embedCfg)
	vecs, err := client.Embed(ctx, []string{res.Content})
	if err != nil || len(vecs) == 0 {
		fmt.Fprintf(os.Stderr, "embedding: %v\n", err)
		os.Exit(1)
	}
	if err := st.InsertEmbedding(ctx, docID, vecs[0]); err != nil {
		fmt.Fprintf(os.Stderr, "storing embedding: %v\n", err)
		os.Exit(1)
	}

	qvecs, err := client.Embed(ctx, []string{"coaching session about workplace stress"})
	if err != nil || len(qvecs) == 0 {
		fmt.Fprintf(os.Stderr, "embedding query: %v\n", err)
		os.Exit(1)
	}
	hits, err := st.VectorSearch(ctx, qvecs[0], 1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search: %v\n", err)
		os.Exit(1)
	}
	if len(hits) == 0 || hits[0].DocumentID != docID {
		fmt.Fprintln(os.Stderr, "search did not return the scrubbed document")
		os.Exit(1)
	}

	in, out := tracker.Totals()
	slog.Info("e2e passed", "document_id", docID, "input_tokens", in, "output_tokens", out)
	fmt.Println(res.Content)
}
