// Package mcpserver exposes the document assistant as Model Context Protocol
// tools over stdio.
package mcpserver

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"docqa/internal/answer"
	"docqa/internal/domain"
	"docqa/internal/keyword"
	"docqa/internal/service"
)

const (
	ServerName = "docqa"
	Version    = "0.3.0"

	maxResults = 20
)

// Backend is the part of the application service the tools call.
type Backend interface {
	Ask(ctx context.Context, question string) (*answer.Answer, error)
	Search(ctx context.Context, query string, k int, threshold float64) ([]domain.Result, error)
	Keyword(query string, k int) ([]keyword.Hit, error)
	Summarize(ctx context.Context, kind string) (*answer.Summary, error)
	Statistics(ctx context.Context) (service.Stats, error)
}

// SearchDocumentsInput defines input for search_documents
type SearchDocumentsInput struct {
	Query     string   `json:"query" jsonschema:"Natural language search query"`
	TopK      int      `json:"top_k,omitempty" jsonschema:"Maximum number of chunks (optional, defaults to the configured top_k)"`
	Threshold *float64 `json:"threshold,omitempty" jsonschema:"Minimum similarity between 0 and 1 (optional, defaults to the configured threshold)"`
}

// SearchResult is a chunk returned by search_documents.
type SearchResult struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// SearchDocumentsOutput defines output for search_documents
type SearchDocumentsOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// AskDocumentsInput defines input for ask_documents
type AskDocumentsInput struct {
	Question string `json:"question" jsonschema:"Question to answer from the indexed documents"`
}

// KeywordSearchInput defines input for keyword_search
type KeywordSearchInput struct {
	Query      string `json:"query" jsonschema:"Full-text query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"Maximum number of results (optional, defaults to 10)"`
}

// KeywordSearchOutput defines output for keyword_search
type KeywordSearchOutput struct {
	Query string        `json:"query"`
	Hits  []keyword.Hit `json:"hits"`
}

// SummarizeDocumentsInput defines input for summarize_documents
type SummarizeDocumentsInput struct {
	Kind string `json:"summary_type,omitempty" jsonschema:"One of brief, comprehensive or detailed (optional, defaults to comprehensive)"`
}

// StatisticsInput is empty; document_statistics takes no arguments.
type StatisticsInput struct{}

// StatisticsOutput defines output for document_statistics
type StatisticsOutput struct {
	Documents       int      `json:"document_count"`
	Chunks          int      `json:"chunk_count"`
	Dimension       int      `json:"embedding_dimension"`
	StoredDocuments int      `json:"stored_documents"`
	KeywordChunks   uint64   `json:"keyword_chunks"`
	Embedder        string   `json:"embedder"`
	Generators      []string `json:"generators"`
}

// Tools holds the tool handlers bound to a backend.
type Tools struct {
	backend Backend
}

func NewTools(backend Backend) *Tools {
	return &Tools{backend: backend}
}

// SearchDocuments runs a similarity search over the indexed chunks.
func (t *Tools) SearchDocuments(ctx context.Context, req *mcp.CallToolRequest, input SearchDocumentsInput) (*mcp.CallToolResult, SearchDocumentsOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchDocumentsOutput{}, fmt.Errorf("query is required")
	}
	k := input.TopK
	if k > maxResults {
		k = maxResults
	}
	threshold := -1.0
	if input.Threshold != nil {
		threshold = *input.Threshold
	}
	results, err := t.backend.Search(ctx, input.Query, k, threshold)
	if err != nil {
		return nil, SearchDocumentsOutput{}, fmt.Errorf("search failed: %w", err)
	}
	out := SearchDocumentsOutput{Query: input.Query, Results: make([]SearchResult, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, SearchResult{
			DocumentID: r.Chunk.DocumentID,
			ChunkIndex: r.Chunk.Index,
			Text:       r.Chunk.Text,
			Similarity: r.Similarity,
		})
	}
	return nil, out, nil
}

// AskDocuments answers a question from the indexed documents.
func (t *Tools) AskDocuments(ctx context.Context, req *mcp.CallToolRequest, input AskDocumentsInput) (*mcp.CallToolResult, answer.Answer, error) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, answer.Answer{}, fmt.Errorf("question is required")
	}
	a, err := t.backend.Ask(ctx, input.Question)
	if err != nil {
		return nil, answer.Answer{}, fmt.Errorf("ask failed: %w", err)
	}
	out := *a
	if out.Sources == nil {
		out.Sources = []answer.Source{}
	}
	return nil, out, nil
}

// KeywordSearch runs a full-text query over the indexed chunks.
func (t *Tools) KeywordSearch(ctx context.Context, req *mcp.CallToolRequest, input KeywordSearchInput) (*mcp.CallToolResult, KeywordSearchOutput, error) {
	n := input.MaxResults
	if n <= 0 || n > maxResults {
		n = 10
	}
	hits, err := t.backend.Keyword(input.Query, n)
	if err != nil {
		return nil, KeywordSearchOutput{}, fmt.Errorf("keyword search failed: %w", err)
	}
	if hits == nil {
		hits = []keyword.Hit{}
	}
	return nil, KeywordSearchOutput{Query: input.Query, Hits: hits}, nil
}

// SummarizeDocuments summarizes every indexed document.
func (t *Tools) SummarizeDocuments(ctx context.Context, req *mcp.CallToolRequest, input SummarizeDocumentsInput) (*mcp.CallToolResult, answer.Summary, error) {
	s, err := t.backend.Summarize(ctx, input.Kind)
	if err != nil {
		return nil, answer.Summary{}, fmt.Errorf("summary failed: %w", err)
	}
	out := *s
	if out.Documents == nil {
		out.Documents = []string{}
	}
	return nil, out, nil
}

// DocumentStatistics reports the size of the index.
func (t *Tools) DocumentStatistics(ctx context.Context, req *mcp.CallToolRequest, input StatisticsInput) (*mcp.CallToolResult, StatisticsOutput, error) {
	st, err := t.backend.Statistics(ctx)
	if err != nil {
		return nil, StatisticsOutput{}, fmt.Errorf("statistics failed: %w", err)
	}
	return nil, StatisticsOutput{
		Documents:       st.Documents,
		Chunks:          st.Chunks,
		Dimension:       st.Dimension,
		StoredDocuments: st.StoredDocuments,
		KeywordChunks:   st.KeywordChunks,
		Embedder:        st.Embedder,
		Generators:      append([]string{}, st.Generators...),
	}, nil
}

// NewServer creates an MCP server with every tool registered.
func NewServer(backend Backend) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: Version,
		},
		nil,
	)
	Register(server, NewTools(backend))
	return server
}

// Register adds the document tools to server.
func Register(server *mcp.Server, t *Tools) {
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "search_documents",
			Description: "Semantic search over the indexed documents. Returns the most similar chunks with their similarity scores.",
		},
		t.SearchDocuments,
	)
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "ask_documents",
			Description: "Answer a question using only the indexed documents. Returns the answer and the chunks it was grounded on.",
		},
		t.AskDocuments,
	)
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "keyword_search",
			Description: "Full-text keyword search over the indexed chunks.",
		},
		t.KeywordSearch,
	)
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "summarize_documents",
			Description: "Summarize all indexed documents (brief, comprehensive or detailed).",
		},
		t.SummarizeDocuments,
	)
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "document_statistics",
			Description: "Report document, chunk and embedding dimension counts for the index.",
		},
		t.DocumentStatistics,
	)
	log.Printf("✓ MCP tools registered: 5 tools")
}

// Serve runs the MCP server over stdio until ctx is canceled or the client
// disconnects.
func Serve(ctx context.Context, backend Backend) error {
	return NewServer(backend).Run(ctx, &mcp.StdioTransport{})
}
