// Package retriever ties the chunker, the embedder and the vector index
// together: it ingests document text and answers similarity queries.
package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/vectorstore"
	"docqa/internal/vectorstore/flat"
)

const defaultWorkers = 8

// DocumentSource lists the source documents an index can be rebuilt from.
type DocumentSource interface {
	Documents(ctx context.Context) ([]domain.Document, error)
}

// Option customizes a Retriever.
type Option func(*Retriever)

// WithWorkers bounds how many chunks are embedded concurrently.
func WithWorkers(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithIndexFactory sets how RebuildFrom creates the fresh index.
func WithIndexFactory(f func() vectorstore.Storage) Option {
	return func(r *Retriever) { r.newIndex = f }
}

// snapshot is what readers see: an index and the documents it holds.
// It is replaced, never modified, once published.
type snapshot struct {
	index     vectorstore.Storage
	documents map[string]int
}

// Retriever is safe for concurrent use. Queries run against the current
// snapshot without locking; ingests and rebuilds are serialized.
type Retriever struct {
	chunker  domain.Chunker
	embedder domain.Embedder
	workers  int
	newIndex func() vectorstore.Storage

	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

// New creates a retriever over index. The index may already hold vectors,
// for example after loading it from disk.
func New(chunker domain.Chunker, embedder domain.Embedder, index vectorstore.Storage, opts ...Option) (*Retriever, error) {
	if chunker == nil || embedder == nil || index == nil {
		return nil, fmt.Errorf("%w: chunker, embedder and index are required", domain.ErrConfiguration)
	}
	if d := index.Dimension(); d > 0 && embedder.Dimension() > 0 && d != embedder.Dimension() {
		return nil, fmt.Errorf("%w: index dimension %d does not match %s embedder dimension %d",
			domain.ErrConfiguration, d, embedder.Name(), embedder.Dimension())
	}
	r := &Retriever{
		chunker:  chunker,
		embedder: embedder,
		workers:  defaultWorkers,
		newIndex: func() vectorstore.Storage { return flat.New() },
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(&snapshot{index: index, documents: countDocuments(index)})
	return r, nil
}

func countDocuments(index vectorstore.Storage) map[string]int {
	docs := make(map[string]int)
	for _, rec := range index.Records() {
		docs[rec.Chunk.DocumentID]++
	}
	return docs
}

// Ingest chunks and embeds text and adds it to the index under documentID.
// Every chunk is embedded before anything is inserted, so an embedder
// failure leaves the index unchanged. It returns the number of chunks added.
func (r *Retriever) Ingest(ctx context.Context, documentID, text string) (int, error) {
	if documentID == "" {
		return 0, fmt.Errorf("%w: document id is required", domain.ErrConfiguration)
	}
	if r.Has(documentID) {
		return 0, fmt.Errorf("%w: %s", domain.ErrDocumentExists, documentID)
	}
	items, err := r.embedChunks(ctx, documentID, text)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	snap := r.current.Load()
	if _, ok := snap.documents[documentID]; ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrDocumentExists, documentID)
	}
	if _, err := snap.index.InsertBatch(items); err != nil {
		return 0, fmt.Errorf("failed to index %s: %w", documentID, err)
	}
	docs := make(map[string]int, len(snap.documents)+1)
	for k, v := range snap.documents {
		docs[k] = v
	}
	docs[documentID] = len(items)
	r.current.Store(&snapshot{index: snap.index, documents: docs})
	return len(items), nil
}

func (r *Retriever) embedChunks(ctx context.Context, documentID, text string) ([]vectorstore.Item, error) {
	chunks := r.chunker.Split(documentID, text)
	items := make([]vectorstore.Item, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range chunks {
		g.Go(func() error {
			v, err := r.embedder.Embed(gctx, chunks[i].Text)
			if err != nil {
				return fmt.Errorf("%w: chunk %d of %s: %w", domain.ErrEmbeddingUnavailable, i, documentID, err)
			}
			// a vector without direction cannot be normalized and is stored as is
			unit, _ := embedding.Normalize(v)
			items[i] = vectorstore.Item{Chunk: chunks[i], Vector: unit}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// Query returns up to k chunks whose similarity to question is at least
// threshold, most similar first. The k nearest neighbours are selected
// before the threshold is applied. An empty result is not an error.
func (r *Retriever) Query(ctx context.Context, question string, k int, threshold float64) ([]domain.Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrConfiguration, k)
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be in [0, 1], got %v", domain.ErrConfiguration, threshold)
	}
	snap := r.current.Load()
	if snap.index.Len() == 0 {
		return nil, nil
	}

	v, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}
	q, ok := embedding.Normalize(v)
	if !ok {
		return nil, nil
	}
	hits, err := snap.index.Search(q, k)
	if err != nil {
		return nil, err
	}

	results := make([]domain.Result, 0, len(hits))
	for _, h := range hits {
		sim := Similarity(h.Distance)
		if sim < threshold {
			continue
		}
		rec, ok := snap.index.Record(h.ID)
		if !ok {
			return nil, fmt.Errorf("%w: hit %d has no metadata", domain.ErrCorruptedIndex, h.ID)
		}
		results = append(results, domain.Result{Chunk: rec.Chunk, Distance: h.Distance, Similarity: sim})
	}
	return results, nil
}

// Similarity converts the squared Euclidean distance between two unit
// vectors into cosine similarity, clamped to [0, 1].
func Similarity(distance float64) float64 {
	s := 1 - distance/2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// RebuildFrom re-ingests every document of src into a fresh index and swaps
// it in once complete. Queries keep using the old index until then. It
// returns the number of chunks in the new index.
func (r *Retriever) RebuildFrom(ctx context.Context, src DocumentSource) (int, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	docs, err := src.Documents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list source documents: %w", err)
	}
	fresh := r.newIndex()
	counts := make(map[string]int, len(docs))
	for _, d := range docs {
		if _, ok := counts[d.ID]; ok {
			return 0, fmt.Errorf("%w: %s", domain.ErrDocumentExists, d.ID)
		}
		items, err := r.embedChunks(ctx, d.ID, d.Text)
		if err != nil {
			return 0, err
		}
		if len(items) == 0 {
			continue
		}
		if _, err := fresh.InsertBatch(items); err != nil {
			return 0, fmt.Errorf("failed to index %s: %w", d.ID, err)
		}
		counts[d.ID] = len(items)
	}
	r.current.Store(&snapshot{index: fresh, documents: counts})
	return fresh.Len(), nil
}

// Has reports whether documentID is indexed.
func (r *Retriever) Has(documentID string) bool {
	_, ok := r.current.Load().documents[documentID]
	return ok
}

// Documents returns the indexed document ids in sorted order.
func (r *Retriever) Documents() []string {
	snap := r.current.Load()
	ids := make([]string, 0, len(snap.documents))
	for id := range snap.documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Chunks returns every indexed chunk in insertion order.
func (r *Retriever) Chunks() []domain.Chunk {
	recs := r.current.Load().index.Records()
	out := make([]domain.Chunk, len(recs))
	for i, rec := range recs {
		out[i] = rec.Chunk
	}
	return out
}

// Statistics describes the current index.
func (r *Retriever) Statistics() domain.Stats {
	snap := r.current.Load()
	dim := snap.index.Dimension()
	if dim == 0 {
		dim = r.embedder.Dimension()
	}
	return domain.Stats{
		Documents: len(snap.documents),
		Chunks:    snap.index.Len(),
		Dimension: dim,
	}
}

// Save persists the current index to dir.
func (r *Retriever) Save(dir string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.current.Load().index.Save(dir)
}
