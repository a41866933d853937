package domain

import (
	"context"
	"time"
)

// Document is a source document kept so the index can be rebuilt from it.
type Document struct {
	ID        string
	Name      string
	Text      string
	CreatedAt time.Time
}

// Chunk is a contiguous span of a document's text used for indexing.
// Start and End are character offsets into the document text (half-open).
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"chunk_index"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// Result is a retrieved chunk together with its similarity to the query.
type Result struct {
	Chunk      Chunk
	Distance   float64
	Similarity float64
}

// Stats describes the current contents of the index.
type Stats struct {
	Documents int `json:"document_count"`
	Chunks    int `json:"chunk_count"`
	Dimension int `json:"embedding_dimension"`
}

// Chunker splits document text into chunks suitable for retrieval indexing.
type Chunker interface {
	Split(documentID, text string) []Chunk
}

// Embedder converts free text into a fixed-dimension vector.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces an answer to a question from retrieved context passages.
type Generator interface {
	Name() string
	Generate(ctx context.Context, question string, contexts []string) (string, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
