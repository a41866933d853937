package domain

import "errors"

var (
	// ErrConfiguration reports invalid parameters or mismatched vector dimensions.
	ErrConfiguration = errors.New("configuration error")
	// ErrCorruptedIndex reports persisted index artifacts that disagree with each other.
	ErrCorruptedIndex = errors.New("corrupted index, rebuild it from the source documents")
	// ErrEmbeddingUnavailable reports a failure of the embedding collaborator.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrDocumentExists reports an attempt to ingest a document id that is already indexed.
	ErrDocumentExists = errors.New("document already indexed")
)
