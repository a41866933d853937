package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"docqa/internal/answer"
	"docqa/internal/docstore"
	"docqa/internal/domain"
	"docqa/internal/extract"
	"docqa/internal/keyword"
	"docqa/internal/retriever"
	"docqa/internal/vectorstore/flat"
)

// Options holds the service settings that do not belong to a component.
type Options struct {
	IndexDir            string
	TopK                int
	Threshold           float64
	SummaryMaxSentences int
}

// IngestedDocument reports the outcome of ingesting one document.
type IngestedDocument struct {
	ID     string `json:"filename"`
	Chunks int    `json:"chunks_added"`
}

// IngestReport is returned by IngestFiles.
type IngestReport struct {
	Documents []IngestedDocument
	Skipped   []string
	Summary   string
}

// Stats extends the index statistics with service level details.
type Stats struct {
	domain.Stats
	StoredDocuments int      `json:"stored_documents"`
	KeywordChunks   uint64   `json:"keyword_chunks"`
	Embedder        string   `json:"embedder"`
	Generators      []string `json:"generators"`
}

// Service is the application core shared by the TUI, the HTTP API and the
// MCP server. It keeps the document store, the vector index and the keyword
// index consistent and persists the vector index after every change.
type Service struct {
	retriever  *retriever.Retriever
	answers    *answer.Orchestrator
	keywords   *keyword.Index
	docs       *docstore.Store
	summarizer domain.Summarizer
	embedder   string
	opts       Options

	mu sync.Mutex // serializes ingestion so generated names stay unique
}

// New assembles the service from its components.
func New(r *retriever.Retriever, a *answer.Orchestrator, kw *keyword.Index, docs *docstore.Store, sum domain.Summarizer, embedderName string, opts Options) *Service {
	return &Service{
		retriever:  r,
		answers:    a,
		keywords:   kw,
		docs:       docs,
		summarizer: sum,
		embedder:   embedderName,
		opts:       opts,
	}
}

// Reconcile brings the index in line with the document store after startup.
// The vector index is rebuilt when it holds a different set of documents,
// and the keyword index is always refilled.
func (s *Service) Reconcile(ctx context.Context) error {
	stored, err := s.docs.Documents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stored documents: %w", err)
	}
	indexed := s.retriever.Documents()
	if !sameDocuments(stored, indexed) {
		log.Printf("Index holds %d documents, store holds %d; rebuilding", len(indexed), len(stored))
		_, err := s.Rebuild(ctx)
		return err
	}
	return s.keywords.Reset(s.retriever.Chunks())
}

func sameDocuments(stored []domain.Document, indexed []string) bool {
	set := make(map[string]struct{}, len(indexed))
	for _, id := range indexed {
		set[id] = struct{}{}
	}
	withText := 0
	for _, d := range stored {
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		withText++
		if _, ok := set[d.ID]; !ok {
			return false
		}
	}
	return withText == len(set)
}

// IngestFiles ingests every supported file matched by paths (glob patterns
// allowed) and returns a summary of the ingested text. Files already stored
// with identical content are skipped.
func (s *Service) IngestFiles(ctx context.Context, paths []string) (*IngestReport, error) {
	report := &IngestReport{}
	var all strings.Builder
	found := 0
	for _, p := range paths {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			if !extract.Supported(m) {
				report.Skipped = append(report.Skipped, m)
				continue
			}
			found++
			text, err := extract.File(m)
			if err != nil {
				return report, fmt.Errorf("failed to extract %s: %w", m, err)
			}
			name := filepath.Base(m)
			if existing, err := s.docs.Get(ctx, name); err == nil && existing.Text == text {
				log.Printf("%s already indexed, skipping", name)
				report.Skipped = append(report.Skipped, m)
				continue
			}
			doc, err := s.IngestText(ctx, name, text)
			if err != nil {
				return report, err
			}
			report.Documents = append(report.Documents, doc)
			all.WriteString("\n")
			all.WriteString(text)
		}
	}
	if found == 0 {
		return report, fmt.Errorf("no supported documents found (supported: %s)", strings.Join(extract.Extensions, ", "))
	}
	if all.Len() > 0 {
		summary, err := s.summarizer.Summarize(all.String(), s.opts.SummaryMaxSentences)
		if err != nil {
			return report, err
		}
		report.Summary = summary
	}
	return report, nil
}

// IngestUpload extracts and ingests an uploaded document.
func (s *Service) IngestUpload(ctx context.Context, name string, text string) (IngestedDocument, error) {
	if strings.TrimSpace(text) == "" {
		return IngestedDocument{}, fmt.Errorf("%w: no text extracted from %s", domain.ErrConfiguration, name)
	}
	return s.IngestText(ctx, name, text)
}

// IngestText stores text under name, or under name_N when name is taken,
// indexes it and persists the index.
func (s *Service) IngestText(ctx context.Context, name, text string) (IngestedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.uniqueName(ctx, filepath.Base(name))
	if err != nil {
		return IngestedDocument{}, err
	}
	if err := s.docs.Put(ctx, domain.Document{ID: id, Name: name, Text: text}); err != nil {
		return IngestedDocument{}, fmt.Errorf("failed to store %s: %w", id, err)
	}
	n, err := s.retriever.Ingest(ctx, id, text)
	if err != nil {
		if rmErr := s.docs.Remove(ctx, id); rmErr != nil {
			log.Printf("Error removing %s after failed ingest: %v", id, rmErr)
		}
		return IngestedDocument{}, fmt.Errorf("failed to ingest %s: %w", id, err)
	}
	if err := s.keywords.Add(s.documentChunks(id)); err != nil {
		log.Printf("Warning: keyword indexing of %s failed: %v", id, err)
	}
	if err := s.save(); err != nil {
		return IngestedDocument{}, err
	}
	log.Printf("✓ Indexed %s (%d chunks)", id, n)
	return IngestedDocument{ID: id, Chunks: n}, nil
}

func (s *Service) uniqueName(ctx context.Context, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		stored, err := s.docs.Has(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !stored && !s.retriever.Has(candidate) {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
}

func (s *Service) documentChunks(id string) []domain.Chunk {
	var out []domain.Chunk
	for _, ch := range s.retriever.Chunks() {
		if ch.DocumentID == id {
			out = append(out, ch)
		}
	}
	return out
}

func (s *Service) save() error {
	if s.opts.IndexDir == "" {
		return nil
	}
	if err := s.retriever.Save(s.opts.IndexDir); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}
	return nil
}

// Ask answers question from the indexed documents.
func (s *Service) Ask(ctx context.Context, question string) (*answer.Answer, error) {
	return s.answers.Ask(ctx, question)
}

// Search returns the chunks most similar to query. Non-positive k and a
// negative threshold select the configured defaults.
func (s *Service) Search(ctx context.Context, query string, k int, threshold float64) ([]domain.Result, error) {
	if k <= 0 {
		k = s.opts.TopK
	}
	if threshold < 0 {
		threshold = s.opts.Threshold
	}
	return s.retriever.Query(ctx, query, k, threshold)
}

// Keyword runs a full-text query over chunk text.
func (s *Service) Keyword(query string, k int) ([]keyword.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrConfiguration)
	}
	return s.keywords.Search(query, k)
}

// Summarize summarizes every indexed document.
func (s *Service) Summarize(ctx context.Context, kind string) (*answer.Summary, error) {
	return s.answers.Summarize(ctx, kind)
}

// Statistics describes the indexed corpus.
func (s *Service) Statistics(ctx context.Context) (Stats, error) {
	stored, err := s.docs.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	kw, err := s.keywords.Count()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Stats:           s.retriever.Statistics(),
		StoredDocuments: stored,
		KeywordChunks:   kw,
		Embedder:        s.embedder,
		Generators:      s.answers.Generators(),
	}, nil
}

// Rebuild re-creates the vector and keyword indexes from the document store
// and persists the result. It returns the number of chunks indexed.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.retriever.RebuildFrom(ctx, s.docs)
	if err != nil {
		return 0, fmt.Errorf("rebuild failed: %w", err)
	}
	if err := s.keywords.Reset(s.retriever.Chunks()); err != nil {
		return 0, err
	}
	if err := s.save(); err != nil {
		return 0, err
	}
	log.Printf("✓ Rebuilt index with %d chunks", n)
	return n, nil
}

// LoadIndex loads the vector index saved in dir. A missing index yields an
// empty one. dimension is the embedder width; zero means unknown and skips
// the check.
//
// A corrupted index, or one built with a different dimension, is returned as
// an error. With rebuild set it is logged and replaced by an empty index
// instead, which Reconcile then refills from the document store.
func LoadIndex(dir string, dimension int, rebuild bool) (*flat.Index, error) {
	idx, err := flat.Load(dir)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return flat.New(), nil
	case errors.Is(err, domain.ErrCorruptedIndex):
		if !rebuild {
			return nil, err
		}
		log.Printf("Warning: %v; rebuilding", err)
		return flat.New(), nil
	default:
		return nil, err
	}

	if idx.Len() > 0 && dimension > 0 && idx.Dimension() != dimension {
		err := fmt.Errorf("%w: index in %s has dimension %d but the embedder produces %d, rebuild it from the source documents",
			domain.ErrConfiguration, dir, idx.Dimension(), dimension)
		if !rebuild {
			return nil, err
		}
		log.Printf("Warning: %v; rebuilding", err)
		return flat.New(), nil
	}
	return idx, nil
}
