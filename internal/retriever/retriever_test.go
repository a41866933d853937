package retriever

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync/atomic"
	"testing"

	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/vectorstore/flat"
)

// fakeEmbedder returns fixed vectors per text and a default for anything else.
type fakeEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	fail     error
	calls    atomic.Int32
}

func (f *fakeEmbedder) Name() string   { return "fake" }
func (f *fakeEmbedder) Dimension() int { return 2 }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.fail != nil {
		return nil, f.fail
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return f.fallback, nil
}

type fakeSource []domain.Document

func (s fakeSource) Documents(context.Context) ([]domain.Document, error) { return s, nil }

func newRetriever(t *testing.T, emb *fakeEmbedder) *Retriever {
	t.Helper()
	c, err := chunker.New(512, 50)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	r, err := New(c, emb, flat.New(), WithWorkers(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func scenarioEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		vectors: map[string][]float32{
			"question": {1, 0},
			"alpha":    {0.95, float32(math.Sqrt(1 - 0.95*0.95))},
			"beta":     {0.6, 0.8},
		},
		fallback: []float32{0, 1},
	}
}

func ingest(t *testing.T, r *Retriever, id, text string) {
	t.Helper()
	if _, err := r.Ingest(context.Background(), id, text); err != nil {
		t.Fatalf("Ingest(%s): %v", id, err)
	}
}

func TestQuery_EmptyIndex(t *testing.T) {
	emb := scenarioEmbedder()
	r := newRetriever(t, emb)
	res, err := r.Query(context.Background(), "anything", 3, 0.7)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(res) != 0 {
		t.Errorf("expected empty result, got %v", res)
	}
	if emb.calls.Load() != 0 {
		t.Errorf("embedder called %d times on empty index", emb.calls.Load())
	}
}

func TestQuery_ThresholdScenario(t *testing.T) {
	r := newRetriever(t, scenarioEmbedder())
	ingest(t, r, "a.txt", "alpha")
	ingest(t, r, "b.txt", "beta")

	res, err := r.Query(context.Background(), "question", 3, 0.7)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(res) != 1 {
		t.Fatalf("expected 1 result, got %d: %+v", len(res), res)
	}
	if res[0].Chunk.DocumentID != "a.txt" {
		t.Errorf("unexpected document %s", res[0].Chunk.DocumentID)
	}
	if math.Abs(res[0].Similarity-0.95) > 1e-4 {
		t.Errorf("similarity = %v, want 0.95", res[0].Similarity)
	}
}

func TestQuery_ThresholdMonotonic(t *testing.T) {
	r := newRetriever(t, scenarioEmbedder())
	ingest(t, r, "a.txt", "alpha")
	ingest(t, r, "b.txt", "beta")
	ingest(t, r, "c.txt", "gamma")

	prev := -1
	for _, th := range []float64{0.9, 0.5, 0.0} {
		res, err := r.Query(context.Background(), "question", 3, th)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if prev >= 0 && len(res) < prev {
			t.Errorf("lowering threshold to %v shrank result from %d to %d", th, prev, len(res))
		}
		for i := 1; i < len(res); i++ {
			if res[i].Similarity > res[i-1].Similarity {
				t.Errorf("results not sorted by similarity: %+v", res)
			}
		}
		prev = len(res)
	}
	if prev != 3 {
		t.Errorf("threshold 0 returned %d results, want 3", prev)
	}
}

func TestQuery_KClampedAndAppliedBeforeThreshold(t *testing.T) {
	r := newRetriever(t, scenarioEmbedder())
	ingest(t, r, "a.txt", "alpha")
	ingest(t, r, "b.txt", "beta")

	res, err := r.Query(context.Background(), "question", 10, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(res) != 2 {
		t.Errorf("expected 2 results, got %d", len(res))
	}

	res, err = r.Query(context.Background(), "question", 1, 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(res) != 1 || res[0].Chunk.DocumentID != "a.txt" {
		t.Errorf("k=1 returned %+v", res)
	}
}

func TestQuery_InvalidParameters(t *testing.T) {
	r := newRetriever(t, scenarioEmbedder())
	ingest(t, r, "a.txt", "alpha")
	for _, tc := range []struct {
		k  int
		th float64
	}{{0, 0.5}, {-1, 0.5}, {3, -0.1}, {3, 1.5}, {3, math.NaN()}} {
		if _, err := r.Query(context.Background(), "question", tc.k, tc.th); !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("Query(k=%d, threshold=%v) error = %v, want ErrConfiguration", tc.k, tc.th, err)
		}
	}
}

func TestQuery_ZeroQueryVector(t *testing.T) {
	emb := scenarioEmbedder()
	emb.vectors["nothing"] = []float32{0, 0}
	r := newRetriever(t, emb)
	ingest(t, r, "a.txt", "alpha")
	res, err := r.Query(context.Background(), "nothing", 3, 0)
	if err != nil || len(res) != 0 {
		t.Fatalf("res=%v err=%v", res, err)
	}
}

func TestIngest_EmbedderFailureLeavesIndexUnchanged(t *testing.T) {
	emb := scenarioEmbedder()
	r := newRetriever(t, emb)
	ingest(t, r, "a.txt", "alpha")

	emb.fail = errors.New("service down")
	_, err := r.Ingest(context.Background(), "b.txt", "beta")
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if st := r.Statistics(); st.Chunks != 1 || st.Documents != 1 {
		t.Errorf("index changed after failed ingest: %+v", st)
	}

	if _, err := r.Query(context.Background(), "question", 3, 0); !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Errorf("Query error = %v, want ErrEmbeddingUnavailable", err)
	}
}

func TestIngest_DuplicateDocument(t *testing.T) {
	r := newRetriever(t, scenarioEmbedder())
	ingest(t, r, "a.txt", "alpha")
	if _, err := r.Ingest(context.Background(), "a.txt", "alpha again"); !errors.Is(err, domain.ErrDocumentExists) {
		t.Fatalf("expected ErrDocumentExists, got %v", err)
	}
}

func TestIngest_EmptyText(t *testing.T) {
	r := newRetriever(t, scenarioEmbedder())
	n, err := r.Ingest(context.Background(), "empty.txt", "   ")
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if r.Has("empty.txt") {
		t.Error("document without chunks reported as indexed")
	}
}

func TestStatistics(t *testing.T) {
	r := newRetriever(t, scenarioEmbedder())
	if st := r.Statistics(); st.Documents != 0 || st.Chunks != 0 || st.Dimension != 2 {
		t.Errorf("empty stats: %+v", st)
	}
	ingest(t, r, "a.txt", "alpha")
	ingest(t, r, "b.txt", "beta")
	if st := r.Statistics(); st.Documents != 2 || st.Chunks != 2 || st.Dimension != 2 {
		t.Errorf("stats: %+v", st)
	}
}

func TestRebuildFrom(t *testing.T) {
	r := newRetriever(t, scenarioEmbedder())
	ingest(t, r, "old.txt", "gamma")

	n, err := r.RebuildFrom(context.Background(), fakeSource{
		{ID: "a.txt", Text: "alpha"},
		{ID: "b.txt", Text: "beta"},
	})
	if err != nil {
		t.Fatalf("RebuildFrom failed: %v", err)
	}
	if n != 2 {
		t.Errorf("rebuilt %d chunks, want 2", n)
	}
	if r.Has("old.txt") || !r.Has("a.txt") || !r.Has("b.txt") {
		t.Errorf("documents after rebuild: %v", r.Documents())
	}
}

func TestRebuildFrom_FailureKeepsCurrentIndex(t *testing.T) {
	emb := scenarioEmbedder()
	r := newRetriever(t, emb)
	ingest(t, r, "a.txt", "alpha")

	emb.fail = errors.New("service down")
	if _, err := r.RebuildFrom(context.Background(), fakeSource{{ID: "b.txt", Text: "beta"}}); err == nil {
		t.Fatal("expected error")
	}
	if !r.Has("a.txt") || r.Statistics().Chunks != 1 {
		t.Errorf("index replaced by a failed rebuild: %v", r.Documents())
	}
}

func TestSaveAndReload(t *testing.T) {
	emb := scenarioEmbedder()
	r := newRetriever(t, emb)
	ingest(t, r, "a.txt", "alpha")
	ingest(t, r, "b.txt", "beta")

	dir := filepath.Join(t.TempDir(), "index")
	if err := r.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	index, err := flat.Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	c, _ := chunker.New(512, 50)
	reloaded, err := New(c, emb, index)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	want, _ := r.Query(context.Background(), "question", 3, 0)
	got, _ := reloaded.Query(context.Background(), "question", 3, 0)
	if len(want) != len(got) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i := range want {
		if want[i].Chunk != got[i].Chunk || math.Abs(want[i].Similarity-got[i].Similarity) > 1e-9 {
			t.Errorf("result %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
	if !reloaded.Has("a.txt") || reloaded.Statistics().Documents != 2 {
		t.Errorf("reloaded documents: %v", reloaded.Documents())
	}
}

func TestNew_DimensionMismatch(t *testing.T) {
	index := flat.New()
	if _, err := index.Insert(domain.Chunk{DocumentID: "x"}, []float32{1, 0, 0}); err != nil {
		t.Fatal(err)
	}
	c, _ := chunker.New(512, 50)
	if _, err := New(c, scenarioEmbedder(), index); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct{ d, want float64 }{{0, 1}, {2, 0}, {4, 0}, {1, 0.5}, {-0.1, 1}}
	for _, tt := range tests {
		if got := Similarity(tt.d); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Similarity(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}
