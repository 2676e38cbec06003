// Command server exposes the scrub pipeline over HTTP: ad-hoc text
// scrubbing, document upload with persistence, audit retrieval, and
// similarity search over the scrubbed corpus.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avaldata/piiscrub"
	"github.com/avaldata/piiscrub/expense"
	"github.com/avaldata/piiscrub/llm"
	"github.com/avaldata/piiscrub/parser"
	"github.com/avaldata/piiscrub/store"
)

// serverConfig is the full service configuration: the scrub pipeline plus
// persistence and embedding settings.
type serverConfig struct {
	Scrub        piiscrub.Config `json:"scrub"`
	DBPath       string          `json:"db_path"`
	EmbedModel   string          `json:"embed_model"`
	EmbeddingDim int             `json:"embedding_dim"`
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Scrub:        piiscrub.DefaultConfig(),
		DBPath:       "piiscrub.db",
		EmbedModel:   "text-embedding-3-small",
		EmbeddingDim: 1536,
	}
}

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := defaultServerConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	// Override from environment variables.
	if v := os.Getenv("PIISCRUB_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PIISCRUB_LLM_BASE_URL"); v != "" {
		cfg.Scrub.LLM.BaseURL = v
	}
	if v := os.Getenv("PIISCRUB_LLM_API_KEY"); v != "" {
		cfg.Scrub.LLM.APIKey = v
	}
	if v := os.Getenv("PIISCRUB_LLM_MODEL"); v != "" {
		cfg.Scrub.LLM.Model = v
	}
	if v := os.Getenv("PIISCRUB_EMBED_MODEL"); v != "" {
		cfg.EmbedModel = v
	}
	if v := os.Getenv("PIISCRUB_HASH_KEY"); v != "" {
		cfg.Scrub.HashKey = []byte(v)
	}

	// Fallback: the well-known provider env var for the API key.
	if cfg.Scrub.LLM.APIKey == "" {
		cfg.Scrub.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	apiKey := os.Getenv("PIISCRUB_API_KEY")
	corsOrigins := os.Getenv("PIISCRUB_CORS_ORIGINS")

	tracker := expense.NewLog()
	scrubber, err := piiscrub.New(cfg.Scrub, piiscrub.WithTracker(tracker))
	if err != nil {
		slog.Error("creating scrubber", "error", err)
		os.Exit(1)
	}

	st, err := store.New(cfg.DBPath, cfg.EmbeddingDim)
	if err != nil {
		slog.Error("opening store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	embedCfg := cfg.Scrub.LLM
	embedCfg.Model = cfg.EmbedModel

	h := &handler{
		scrubber: scrubber,
		store:    st,
		registry: parser.NewRegistry(),
		embedder: llm.NewOpenAI(embedCfg),
		tracker:  tracker,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /scrub", h.handleScrub)
	mux.HandleFunc("POST /documents", h.handleUploadDocument)
	mux.HandleFunc("GET /documents", h.handleListDocuments)
	mux.HandleFunc("GET /documents/{id}/audit", h.handleGetAudits)
	mux.HandleFunc("DELETE /documents/{id}", h.handleDeleteDocument)
	mux.HandleFunc("POST /search", h.handleSearch)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // large uploads can scrub for a long time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	in, out := tracker.Totals()
	slog.Info("server stopped", "llm_input_tokens", in, "llm_output_tokens", out)
}
