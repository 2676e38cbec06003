package piiscrub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/avaldata/piiscrub/llm"
	"github.com/avaldata/piiscrub/redact"
)

// fakeLLM scripts chat responses for pipeline tests.
type fakeLLM struct {
	respond func(req llm.ChatRequest) (*llm.ChatResponse, error)
}

func (f *fakeLLM) ChatJSON(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return f.respond(req)
}

func (f *fakeLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("not implemented")
}

func entitiesJSON(pairs ...string) *fakeLLM {
	var items []string
	for i := 0; i+1 < len(pairs); i += 2 {
		items = append(items, fmt.Sprintf(`{"text":%q,"type":%q}`, pairs[i], pairs[i+1]))
	}
	content := fmt.Sprintf(`{"entities":[%s]}`, strings.Join(items, ","))
	return &fakeLLM{respond: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: content, PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
	}}
}

func newTestScrubber(t *testing.T, client llm.Client) *Scrubber {
	t.Helper()
	s, err := New(DefaultConfig(), WithClient(client))
	if err != nil {
		t.Fatalf("creating scrubber: %v", err)
	}
	return s
}

func TestScrubStructuredPII(t *testing.T) {
	s := newTestScrubber(t, entitiesJSON())
	text := "My email is john@example.com and phone is 555-123-4567."

	res := s.Scrub(context.Background(), text, "text")
	want := "My email is [EMAIL] and phone is [PHONE]."
	if res.Content != want {
		t.Errorf("Content = %q, want %q", res.Content, want)
	}
	if res.Audit.Method != MethodHybrid || !res.Audit.Scrubbed {
		t.Errorf("audit = method %s, scrubbed %v", res.Audit.Method, res.Audit.Scrubbed)
	}
	if res.Audit.Entities.ByType["EMAIL"] != 1 || res.Audit.Entities.ByType["PHONE"] != 1 {
		t.Errorf("ByType = %v", res.Audit.Entities.ByType)
	}
}

func TestScrubNameVariantsAndRepeats(t *testing.T) {
	s := newTestScrubber(t, entitiesJSON("Sarah Johnson", "NAME"))
	text := "Sarah Johnson discussed her goals. Sarah's confidence grew once Johnson saw results."

	res := s.Scrub(context.Background(), text, "transcript")
	for _, leak := range []string{"Sarah", "Johnson"} {
		if strings.Contains(res.Content, leak) {
			t.Errorf("%q survived: %q", leak, res.Content)
		}
	}
	if !res.Audit.Scrubbed {
		t.Error("audit not marked scrubbed")
	}
}

func TestScrubOverlappingLLMEntities(t *testing.T) {
	s := newTestScrubber(t, entitiesJSON("Dr. Smith", "NAME", "Smith", "NAME"))
	text := "Dr. Smith reviewed the treatment plan."

	res := s.Scrub(context.Background(), text, "notes")
	want := "[NAME] reviewed the treatment plan."
	if res.Content != want {
		t.Errorf("Content = %q, want %q", res.Content, want)
	}
}

func TestScrubRegexWinsOverLLM(t *testing.T) {
	// The LLM claims the email span as a NAME; regex is authoritative.
	s := newTestScrubber(t, entitiesJSON("john@example.com", "NAME"))
	text := "Write to john@example.com about the schedule."

	res := s.Scrub(context.Background(), text, "text")
	if !strings.Contains(res.Content, "[EMAIL]") {
		t.Errorf("regex entity lost: %q", res.Content)
	}
	if res.Audit.Entities.ByMethod["llm"] != 0 {
		t.Errorf("overlapping llm entity kept: %v", res.Audit.Entities.ByMethod)
	}
}

func TestScrubEmptyInput(t *testing.T) {
	s := newTestScrubber(t, entitiesJSON())

	res := s.Scrub(context.Background(), "", "text")
	if res.Content != "" || res.Audit.Method != MethodSkippedInvalidInput {
		t.Errorf("res = %+v", res)
	}
	if res.Audit.Scrubbed {
		t.Error("skip path marked scrubbed")
	}
}

func TestScrubShortInput(t *testing.T) {
	s := newTestScrubber(t, entitiesJSON("Jane", "NAME"))

	tests := []struct {
		name string
		text string
		want AuditMethod
	}{
		{"greeting", "Hi Jane!", MethodSkippedTooShort},
		{"nineteen chars", strings.Repeat("x", 19), MethodSkippedTooShort},
		{"whitespace padded", "   " + strings.Repeat("x", 19) + "   ", MethodSkippedTooShort},
		{"twenty chars", strings.Repeat("x", 20), MethodHybrid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Scrub(context.Background(), tt.text, "text")
			if res.Audit.Method != tt.want {
				t.Errorf("method = %s, want %s", res.Audit.Method, tt.want)
			}
			if tt.want == MethodSkippedTooShort && res.Content != tt.text {
				t.Errorf("skip path changed content: %q", res.Content)
			}
		})
	}
}

func TestScrubChunkedDeduplicatesOverlap(t *testing.T) {
	// 9000 bytes, threshold 5000: two chunks [0, 5000) and [4500, 9000).
	// The name sits at 4600 inside both chunks' ranges, so both detect it;
	// the merge must keep a single entity.
	text := strings.Repeat("a", 4600) + "Michael Chen" + strings.Repeat("b", 9000-4612)

	cfg := DefaultConfig()
	cfg.PreserveBoundaries = false
	cfg.MaxConcurrentChunks = 2
	s, err := New(cfg, WithClient(entitiesJSON("Michael Chen", "NAME")))
	if err != nil {
		t.Fatalf("creating scrubber: %v", err)
	}

	res := s.Scrub(context.Background(), text, "transcript")
	if res.Audit.Method != MethodHybridChunked {
		t.Fatalf("method = %s, want %s", res.Audit.Method, MethodHybridChunked)
	}
	if res.Audit.Entities.Total != 1 {
		t.Errorf("entities = %d, want 1 after dedup", res.Audit.Entities.Total)
	}
	if strings.Contains(res.Content, "Michael") {
		t.Errorf("name survived: %q", res.Content[4550:4700])
	}
	if strings.Count(res.Content, "[NAME]") != 1 {
		t.Errorf("placeholder count = %d, want 1", strings.Count(res.Content, "[NAME]"))
	}

	cs := res.Audit.ChunkStats
	if cs == nil || cs.Count != 2 {
		t.Fatalf("ChunkStats = %+v, want 2 chunks", cs)
	}
	if cs.OverlapSize != 500 || cs.MaxChunkSize != 5000 {
		t.Errorf("ChunkStats config = %+v", cs)
	}
}

func TestScrubChunkThresholdBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableLLM = false
	cfg.ChunkThreshold = 100
	cfg.MaxChunkSize = 100
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("creating scrubber: %v", err)
	}

	// Exactly at the threshold: single pass.
	res := s.Scrub(context.Background(), strings.Repeat("x", 100), "text")
	if res.Audit.Method != MethodRegexOnly {
		t.Errorf("at threshold: method = %s, want %s", res.Audit.Method, MethodRegexOnly)
	}

	// One past the threshold: chunked.
	res = s.Scrub(context.Background(), strings.Repeat("x", 101), "text")
	if res.Audit.Method != MethodHybridChunked {
		t.Errorf("past threshold: method = %s, want %s", res.Audit.Method, MethodHybridChunked)
	}
}

func TestScrubValidationFailureReturnsOriginal(t *testing.T) {
	// The detected text "NAME" also appears inside the replacement token
	// [NAME], so validation must fail and the original text come back.
	s := newTestScrubber(t, entitiesJSON("NAME", "NAME"))
	text := "Please write your NAME on the form today."

	res := s.Scrub(context.Background(), text, "text")
	if res.Content != text {
		t.Errorf("Content = %q, want the original", res.Content)
	}
	if res.Audit.Scrubbed {
		t.Error("failed validation marked scrubbed")
	}
	if len(res.Audit.ValidationErrors) == 0 {
		t.Error("validation errors missing from audit")
	}
}

func TestScrubDetectorToggles(t *testing.T) {
	s := newTestScrubber(t, entitiesJSON("Sarah Johnson", "NAME"))
	text := "Sarah Johnson's email is sarah.j@example.com today."

	t.Run("without llm", func(t *testing.T) {
		res := s.Scrub(context.Background(), text, "text", WithoutLLM())
		if res.Audit.Method != MethodRegexOnly {
			t.Errorf("method = %s", res.Audit.Method)
		}
		if !strings.Contains(res.Content, "[EMAIL]") || !strings.Contains(res.Content, "Sarah") {
			t.Errorf("Content = %q", res.Content)
		}
	})

	t.Run("without regex", func(t *testing.T) {
		res := s.Scrub(context.Background(), text, "text", WithoutRegex())
		if res.Audit.Method != MethodLLMOnly {
			t.Errorf("method = %s", res.Audit.Method)
		}
		if strings.Contains(res.Content, "Sarah") {
			t.Errorf("name survived: %q", res.Content)
		}
	})

	t.Run("both disabled", func(t *testing.T) {
		res := s.Scrub(context.Background(), text, "text", WithoutLLM(), WithoutRegex())
		if res.Audit.Method != MethodDisabled {
			t.Errorf("method = %s", res.Audit.Method)
		}
		if res.Content != text || res.Audit.Scrubbed {
			t.Errorf("disabled scrub changed content: %q", res.Content)
		}
	})
}

func TestScrubLLMFailureDegradesToRegex(t *testing.T) {
	failing := &fakeLLM{respond: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, &llm.APIError{StatusCode: 401, Body: "bad key"}
	}}
	s := newTestScrubber(t, failing)
	text := "Reach me at jane@example.com about the offer."

	res := s.Scrub(context.Background(), text, "text")
	if res.Audit.Method != MethodHybrid {
		t.Errorf("method = %s", res.Audit.Method)
	}
	if !strings.Contains(res.Content, "[EMAIL]") {
		t.Errorf("regex did not run: %q", res.Content)
	}
	if res.Audit.Entities.ByMethod["llm"] != 0 {
		t.Errorf("llm entities after failure: %v", res.Audit.Entities.ByMethod)
	}
}

func TestScrubRecoversFromPanic(t *testing.T) {
	panicking := &fakeLLM{respond: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		panic("detector exploded")
	}}
	s := newTestScrubber(t, panicking)
	text := "This input is long enough to be processed fully."

	res := s.Scrub(context.Background(), text, "text")
	if res.Content != text {
		t.Errorf("panic path changed content: %q", res.Content)
	}
	if res.Audit.Method != MethodError {
		t.Errorf("method = %s, want %s", res.Audit.Method, MethodError)
	}
	if res.Audit.Error == "" {
		t.Error("audit missing error message")
	}
}

func TestScrubChunkPanicSkipsChunkOnly(t *testing.T) {
	// Panic only when the model sees chunk content containing the marker;
	// the other chunk's entities must survive.
	client := &fakeLLM{respond: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		prompt := req.Messages[len(req.Messages)-1].Content
		if strings.Contains(prompt, "bbbb") {
			panic("bad chunk")
		}
		return &llm.ChatResponse{Content: `{"entities":[{"text":"Laura Mills","type":"NAME"}]}`}, nil
	}}

	cfg := DefaultConfig()
	cfg.PreserveBoundaries = false
	cfg.ChunkThreshold = 100
	cfg.MaxChunkSize = 100
	cfg.OverlapSize = 10
	s, err := New(cfg, WithClient(client))
	if err != nil {
		t.Fatalf("creating scrubber: %v", err)
	}

	text := "Laura Mills spoke. " + strings.Repeat("a", 120) + strings.Repeat("b", 120)
	res := s.Scrub(context.Background(), text, "transcript")

	if res.Audit.Method != MethodHybridChunked {
		t.Fatalf("method = %s", res.Audit.Method)
	}
	if strings.Contains(res.Content, "Laura") {
		t.Errorf("healthy chunk's entity lost: %q", res.Content)
	}
}

func TestScrubOptionsDoNotMutateScrubber(t *testing.T) {
	s := newTestScrubber(t, entitiesJSON())
	text := "Contact jane@example.com for the details."

	s.Scrub(context.Background(), text, "text", WithoutRegex(), WithoutLLM())

	// A later call without options uses the constructor configuration.
	res := s.Scrub(context.Background(), text, "text")
	if res.Audit.Method != MethodHybrid {
		t.Errorf("per-call option leaked into scrubber: method = %s", res.Audit.Method)
	}
}

func TestNewRequiresBaseURLForLLM(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.BaseURL = ""
	if _, err := New(cfg); !errors.Is(err, ErrMissingClient) {
		t.Errorf("err = %v, want ErrMissingClient", err)
	}

	cfg.EnableLLM = false
	if _, err := New(cfg); err != nil {
		t.Errorf("regex-only scrubber should not need a client: %v", err)
	}
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = "rot13"
	if _, err := New(cfg, WithClient(entitiesJSON())); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestScrubHashStrategyOption(t *testing.T) {
	s := newTestScrubber(t, entitiesJSON())
	text := "Email jane@example.com today please."

	res := s.Scrub(context.Background(), text, "text",
		WithStrategy(redact.StrategyHash), WithHashKey([]byte("secret")))
	if !strings.Contains(res.Content, "[EMAIL_") {
		t.Errorf("hash strategy not applied: %q", res.Content)
	}
	if strings.Contains(res.Content, "jane@example.com") {
		t.Errorf("email survived: %q", res.Content)
	}
}
