package answer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docqa/internal/domain"
	"docqa/internal/summarizer"
)

type fakeRetriever struct {
	results []domain.Result
	chunks  []domain.Chunk
	err     error
}

func (f *fakeRetriever) Query(context.Context, string, int, float64) ([]domain.Result, error) {
	return f.results, f.err
}

func (f *fakeRetriever) Chunks() []domain.Chunk { return f.chunks }

type fakeGenerator struct {
	name     string
	out      string
	err      error
	calls    int
	contexts []string
}

func (g *fakeGenerator) Name() string { return g.name }

func (g *fakeGenerator) Generate(_ context.Context, _ string, contexts []string) (string, error) {
	g.calls++
	g.contexts = contexts
	return g.out, g.err
}

var defaultOpts = Options{TopK: 3, Threshold: 0.7}

func TestNew_Validation(t *testing.T) {
	gen := []domain.Generator{&fakeGenerator{name: "g"}}
	tests := []struct {
		name string
		gens []domain.Generator
		opts Options
	}{
		{"no generators", nil, defaultOpts},
		{"zero top_k", gen, Options{TopK: 0, Threshold: 0.5}},
		{"threshold above one", gen, Options{TopK: 3, Threshold: 1.2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&fakeRetriever{}, tt.gens, tt.opts); !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestAsk_NoContext(t *testing.T) {
	gen := &fakeGenerator{name: "g", out: "should not be used"}
	o, err := New(&fakeRetriever{}, []domain.Generator{gen}, defaultOpts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ans, err := o.Ask(context.Background(), "what is the refund policy?")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if ans.Text != NoContextAnswer || ans.ContextUsed || len(ans.Sources) != 0 {
		t.Errorf("unexpected answer: %+v", ans)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times without context", gen.calls)
	}
}

func TestAsk_Fallback(t *testing.T) {
	r := &fakeRetriever{results: []domain.Result{
		{Chunk: domain.Chunk{DocumentID: "policy.txt", Index: 2, Text: "Refunds take five days."}, Similarity: 0.91},
	}}
	first := &fakeGenerator{name: "primary", err: errors.New("quota exceeded")}
	second := &fakeGenerator{name: "backup", out: " Five days. "}
	o, _ := New(r, []domain.Generator{first, second}, defaultOpts)

	ans, err := o.Ask(context.Background(), "how long do refunds take?")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if ans.Text != "Five days." || ans.Generator != "backup" || !ans.ContextUsed {
		t.Errorf("unexpected answer: %+v", ans)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].DocumentID != "policy.txt" || ans.Sources[0].ChunkIndex != 2 {
		t.Errorf("unexpected sources: %+v", ans.Sources)
	}
	if len(second.contexts) != 1 || second.contexts[0] != "Refunds take five days." {
		t.Errorf("generator got contexts %v", second.contexts)
	}
}

func TestAsk_AllGeneratorsFail(t *testing.T) {
	r := &fakeRetriever{results: []domain.Result{{Chunk: domain.Chunk{Text: "x"}, Similarity: 0.9}}}
	errA := errors.New("a down")
	errB := errors.New("b down")
	o, _ := New(r, []domain.Generator{
		&fakeGenerator{name: "a", err: errA},
		&fakeGenerator{name: "b", err: errB},
	}, defaultOpts)

	_, err := o.Ask(context.Background(), "question")
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both generator errors, got %v", err)
	}
}

func TestAsk_PropagatesRetrievalErrors(t *testing.T) {
	r := &fakeRetriever{err: domain.ErrEmbeddingUnavailable}
	o, _ := New(r, []domain.Generator{&fakeGenerator{name: "g", out: "x"}}, defaultOpts)
	if _, err := o.Ask(context.Background(), "question"); !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if _, err := o.Ask(context.Background(), "   "); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for empty question, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	r := &fakeRetriever{chunks: []domain.Chunk{
		{DocumentID: "a.txt", Index: 0, Text: "Alpha one."},
		{DocumentID: "b.txt", Index: 0, Text: "Beta one."},
		{DocumentID: "a.txt", Index: 1, Text: "Alpha two."},
	}}
	gen := &fakeGenerator{name: "g", out: "summary text"}
	o, _ := New(r, []domain.Generator{gen}, defaultOpts)

	sum, err := o.Summarize(context.Background(), SummaryBrief)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if sum.Text != "summary text" || len(sum.Documents) != 2 || sum.Documents[0] != "a.txt" {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if len(gen.contexts) != 2 || !strings.Contains(gen.contexts[0], "Alpha two.") {
		t.Errorf("unexpected contexts: %q", gen.contexts)
	}

	if _, err := o.Summarize(context.Background(), "poem"); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("unknown kind: got %v", err)
	}
}

func TestSummarize_Empty(t *testing.T) {
	gen := &fakeGenerator{name: "g", out: "x"}
	o, _ := New(&fakeRetriever{}, []domain.Generator{gen}, defaultOpts)
	sum, err := o.Summarize(context.Background(), "")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if sum.Text != NoDocumentsSummary || gen.calls != 0 {
		t.Errorf("unexpected summary %+v, generator calls %d", sum, gen.calls)
	}
}

func TestExtractiveGenerator(t *testing.T) {
	g := NewExtractiveGenerator(summarizer.NewFrequencySummarizer(), 1)
	out, err := g.Generate(context.Background(), "when are refunds issued?", []string{
		"Document: policy.txt\nShipping is free over fifty euros. Refunds are issued within five days.",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != "Refunds are issued within five days." {
		t.Errorf("got %q", out)
	}
}

func TestOpenAIGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"test","choices":[{"index":0,"message":{"role":"assistant","content":"  Five days.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	t.Setenv("DOCQA_TEST_KEY", "sk-test")
	g, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL, APIKeyEnv: "DOCQA_TEST_KEY", Model: "test"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator failed: %v", err)
	}
	out, err := g.Generate(context.Background(), "how long?", []string{"Refunds take five days."})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != "Five days." {
		t.Errorf("got %q", out)
	}
	if g.Name() != "openai:test" {
		t.Errorf("Name() = %q", g.Name())
	}
}

func TestUserPrompt(t *testing.T) {
	p := userPrompt("why?", []string{" first ", "second"})
	if !strings.Contains(p, "[1] first\n") || !strings.Contains(p, "[2] second") || !strings.HasSuffix(p, "Question: why?\n\nAnswer:") {
		t.Errorf("unexpected prompt:\n%s", p)
	}
}
