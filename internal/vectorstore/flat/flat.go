// Package flat implements an exact nearest-neighbour index that compares the
// query against every stored vector using squared Euclidean distance.
package flat

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

// Index is a brute-force vector index. It is safe for one writer and many
// concurrent readers.
type Index struct {
	mu        sync.RWMutex
	dimension int
	nextID    int64
	ids       []int64
	chunks    []domain.Chunk
	data      []float32 // len(ids) rows of dimension floats
}

var _ vectorstore.Storage = (*Index)(nil)

// New returns an empty index. The dimension is fixed by the first insert.
func New() *Index { return &Index{} }

// Insert adds a single vector and returns its id.
func (x *Index) Insert(chunk domain.Chunk, vector []float32) (int64, error) {
	ids, err := x.InsertBatch([]vectorstore.Item{{Chunk: chunk, Vector: vector}})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// InsertBatch adds all items or none of them.
func (x *Index) InsertBatch(items []vectorstore.Item) ([]int64, error) {
	if len(items) == 0 {
		return nil, nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	dim := x.dimension
	if dim == 0 {
		dim = len(items[0].Vector)
	}
	for i, it := range items {
		if err := validate(it.Vector, dim); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}

	x.dimension = dim
	ids := make([]int64, len(items))
	for i, it := range items {
		id := x.nextID
		x.nextID++
		x.ids = append(x.ids, id)
		x.chunks = append(x.chunks, it.Chunk)
		x.data = append(x.data, it.Vector...)
		ids[i] = id
	}
	return ids, nil
}

func validate(v []float32, dim int) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", domain.ErrConfiguration)
	}
	if len(v) != dim {
		return fmt.Errorf("%w: vector has dimension %d, index expects %d", domain.ErrConfiguration, len(v), dim)
	}
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("%w: vector contains a non-finite value", domain.ErrConfiguration)
		}
	}
	return nil
}

// Search returns the k stored vectors closest to query, nearest first.
// Equal distances keep insertion order. An empty index yields no hits.
func (x *Index) Search(query []float32, k int) ([]vectorstore.Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrConfiguration, k)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := len(x.ids)
	if n == 0 {
		return nil, nil
	}
	if len(query) != x.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d", domain.ErrConfiguration, len(query), x.dimension)
	}
	hits := make([]vectorstore.Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = vectorstore.Hit{ID: x.ids[i], Distance: squaredL2(query, x.row(i))}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Distance < hits[b].Distance })
	if k > n {
		k = n
	}
	return hits[:k:k], nil
}

// Record returns the stored record for id.
func (x *Index) Record(id int64) (vectorstore.Record, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	i := sort.Search(len(x.ids), func(i int) bool { return x.ids[i] >= id })
	if i == len(x.ids) || x.ids[i] != id {
		return vectorstore.Record{}, false
	}
	return x.record(i), true
}

// Records returns a copy of every record in insertion order.
func (x *Index) Records() []vectorstore.Record {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]vectorstore.Record, len(x.ids))
	for i := range x.ids {
		out[i] = x.record(i)
	}
	return out
}

// Len returns the number of stored vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// Dimension returns the vector dimension, or 0 before the first insert.
func (x *Index) Dimension() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dimension
}

func (x *Index) row(i int) []float32 {
	return x.data[i*x.dimension : (i+1)*x.dimension]
}

func (x *Index) record(i int) vectorstore.Record {
	v := make([]float32, x.dimension)
	copy(v, x.row(i))
	return vectorstore.Record{ID: x.ids[i], Chunk: x.chunks[i], Vector: v}
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
