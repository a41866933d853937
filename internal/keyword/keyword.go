// Package keyword is an in-memory full-text index over chunk text. It
// complements vector retrieval for exact term lookups.
package keyword

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"docqa/internal/domain"
)

const maxResults = 50

// Hit is a chunk matching a keyword query.
type Hit struct {
	Chunk domain.Chunk `json:"chunk"`
	Score float64      `json:"score"`
}

type entry struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// Index wraps a memory-only bleve index.
type Index struct {
	mu    sync.RWMutex
	index bleve.Index
}

// New creates an empty keyword index.
func New() (*Index, error) {
	idx, err := newBleve()
	if err != nil {
		return nil, err
	}
	return &Index{index: idx}, nil
}

func newBleve() (bleve.Index, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}
	return idx, nil
}

func chunkID(ch domain.Chunk) string {
	return fmt.Sprintf("%s#%d", ch.DocumentID, ch.Index)
}

// Add indexes chunks.
func (x *Index) Add(chunks []domain.Chunk) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return add(x.index, chunks)
}

func add(idx bleve.Index, chunks []domain.Chunk) error {
	batch := idx.NewBatch()
	for _, ch := range chunks {
		e := entry{DocumentID: ch.DocumentID, ChunkIndex: ch.Index, Text: ch.Text, Start: ch.Start, End: ch.End}
		if err := batch.Index(chunkID(ch), e); err != nil {
			return fmt.Errorf("failed to add chunk %s to batch: %w", chunkID(ch), err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("failed to index batch: %w", err)
	}
	return nil
}

// Reset replaces the whole index with chunks.
func (x *Index) Reset(chunks []domain.Chunk) error {
	fresh, err := newBleve()
	if err != nil {
		return err
	}
	if err := add(fresh, chunks); err != nil {
		fresh.Close()
		return err
	}
	x.mu.Lock()
	old := x.index
	x.index = fresh
	x.mu.Unlock()
	return old.Close()
}

// Search returns up to k chunks matching query, best match first.
func (x *Index) Search(query string, k int) ([]Hit, error) {
	if k <= 0 || k > maxResults {
		k = 10
	}
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = k
	req.Fields = []string{"*"}

	x.mu.RLock()
	res, err := x.index.Search(req)
	x.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		var ch domain.Chunk
		if v, ok := h.Fields["document_id"].(string); ok {
			ch.DocumentID = v
		}
		if v, ok := h.Fields["text"].(string); ok {
			ch.Text = v
		}
		if v, ok := h.Fields["chunk_index"].(float64); ok {
			ch.Index = int(v)
		}
		if v, ok := h.Fields["start"].(float64); ok {
			ch.Start = int(v)
		}
		if v, ok := h.Fields["end"].(float64); ok {
			ch.End = int(v)
		}
		hits = append(hits, Hit{Chunk: ch, Score: h.Score})
	}
	return hits, nil
}

// Count returns the number of indexed chunks.
func (x *Index) Count() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.index.DocCount()
}

// Close releases the index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.index.Close()
}
