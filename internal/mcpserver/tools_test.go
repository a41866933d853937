package mcpserver

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"docqa/internal/answer"
	"docqa/internal/domain"
	"docqa/internal/keyword"
	"docqa/internal/service"
)

type fakeBackend struct {
	k         int
	threshold float64
	err       error
}

func (f *fakeBackend) Ask(ctx context.Context, q string) (*answer.Answer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &answer.Answer{Question: q, Text: "an answer", ContextUsed: true, Generator: "extractive"}, nil
}

func (f *fakeBackend) Search(ctx context.Context, q string, k int, threshold float64) ([]domain.Result, error) {
	f.k, f.threshold = k, threshold
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Result{
		{Chunk: domain.Chunk{DocumentID: "a.txt", Index: 2, Text: "alpha"}, Similarity: 0.8},
	}, nil
}

func (f *fakeBackend) Keyword(q string, k int) ([]keyword.Hit, error) {
	f.k = k
	return nil, nil
}

func (f *fakeBackend) Summarize(ctx context.Context, kind string) (*answer.Summary, error) {
	return &answer.Summary{Kind: kind, Text: "summary"}, nil
}

func (f *fakeBackend) Statistics(ctx context.Context) (service.Stats, error) {
	return service.Stats{
		Stats:      domain.Stats{Documents: 2, Chunks: 5, Dimension: 384},
		Embedder:   "hashing",
		Generators: []string{"extractive"},
	}, nil
}

func TestSearchDocuments(t *testing.T) {
	b := &fakeBackend{}
	tools := NewTools(b)

	_, out, err := tools.SearchDocuments(context.Background(), nil, SearchDocumentsInput{Query: "alpha", TopK: 50})
	if err != nil {
		t.Fatalf("SearchDocuments failed: %v", err)
	}
	if b.k != maxResults {
		t.Errorf("Expected top_k clamped to %d, got %d", maxResults, b.k)
	}
	if b.threshold >= 0 {
		t.Errorf("Expected default threshold sentinel, got %v", b.threshold)
	}
	if len(out.Results) != 1 || out.Results[0].DocumentID != "a.txt" || out.Results[0].ChunkIndex != 2 {
		t.Errorf("Unexpected results: %+v", out.Results)
	}

	zero := 0.0
	if _, _, err := tools.SearchDocuments(context.Background(), nil, SearchDocumentsInput{Query: "alpha", Threshold: &zero}); err != nil {
		t.Fatal(err)
	}
	if b.threshold != 0 {
		t.Errorf("Expected explicit threshold 0, got %v", b.threshold)
	}
}

func TestSearchDocuments_EmptyQuery(t *testing.T) {
	if _, _, err := NewTools(&fakeBackend{}).SearchDocuments(context.Background(), nil, SearchDocumentsInput{Query: " "}); err == nil {
		t.Error("Expected error for empty query")
	}
}

func TestAskDocuments(t *testing.T) {
	_, out, err := NewTools(&fakeBackend{}).AskDocuments(context.Background(), nil, AskDocumentsInput{Question: "why?"})
	if err != nil {
		t.Fatalf("AskDocuments failed: %v", err)
	}
	if out.Text != "an answer" || out.Question != "why?" {
		t.Errorf("Unexpected answer: %+v", out)
	}
}

func TestAskDocuments_WrapsBackendError(t *testing.T) {
	_, _, err := NewTools(&fakeBackend{err: domain.ErrEmbeddingUnavailable}).AskDocuments(context.Background(), nil, AskDocumentsInput{Question: "q"})
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Errorf("Expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestKeywordSearch_DefaultsAndEmptyHits(t *testing.T) {
	b := &fakeBackend{}
	_, out, err := NewTools(b).KeywordSearch(context.Background(), nil, KeywordSearchInput{Query: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if b.k != 10 {
		t.Errorf("Expected default of 10 results, got %d", b.k)
	}
	if out.Hits == nil {
		t.Error("Expected empty, non-nil hits")
	}
}

func TestDocumentStatistics(t *testing.T) {
	_, out, err := NewTools(&fakeBackend{}).DocumentStatistics(context.Background(), nil, StatisticsInput{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Documents != 2 || out.Chunks != 5 || out.Dimension != 384 || out.Embedder != "hashing" {
		t.Errorf("Unexpected statistics: %+v", out)
	}
}

func TestServer_ListsTools(t *testing.T) {
	ctx := context.Background()
	server := NewServer(&fakeBackend{})

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer cs.Close()

	res, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	want := []string{"ask_documents", "document_statistics", "keyword_search", "search_documents", "summarize_documents"}
	if len(names) != len(want) {
		t.Fatalf("Expected tools %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Expected tool %s, got %s", want[i], names[i])
		}
	}

	call, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search_documents",
		Arguments: map[string]any{"query": "alpha"},
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if call.IsError {
		t.Fatalf("search_documents returned a tool error: %+v", call.Content)
	}
}
