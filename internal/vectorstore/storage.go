package vectorstore

import "docqa/internal/domain"

// Item pairs a chunk with the vector to index it under.
type Item struct {
	Chunk  domain.Chunk
	Vector []float32
}

// Record is a stored vector with its metadata. IDs are assigned by the
// index in insertion order.
type Record struct {
	ID     int64
	Chunk  domain.Chunk
	Vector []float32
}

// Hit is a search match, smaller distance is closer.
type Hit struct {
	ID       int64
	Distance float64
}

// Storage persists vectors and supports nearest-neighbour search.
type Storage interface {
	Insert(chunk domain.Chunk, vector []float32) (int64, error)
	InsertBatch(items []Item) ([]int64, error)
	Search(query []float32, k int) ([]Hit, error)
	Record(id int64) (Record, bool)
	Records() []Record
	Len() int
	Dimension() int
	Save(dir string) error
}
