// Package answer turns retrieved context into answers. Generators are tried
// in order and the first one that succeeds provides the answer.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docqa/internal/domain"
)

// NoContextAnswer is returned when no chunk is similar enough to the question.
const NoContextAnswer = "I couldn't find relevant information in the documents to answer your question."

// Retriever is the subset of the retriever the orchestrator needs.
type Retriever interface {
	Query(ctx context.Context, question string, k int, threshold float64) ([]domain.Result, error)
	Chunks() []domain.Chunk
}

// Options controls retrieval for answers.
type Options struct {
	TopK      int
	Threshold float64
}

// Source identifies a chunk an answer was grounded on.
type Source struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
	Text       string  `json:"text"`
}

// Answer is the result of Ask.
type Answer struct {
	Question    string   `json:"question"`
	Text        string   `json:"answer"`
	Sources     []Source `json:"sources"`
	ContextUsed bool     `json:"context_used"`
	Generator   string   `json:"generator,omitempty"`
}

// Orchestrator answers questions from retrieved context.
type Orchestrator struct {
	retriever  Retriever
	generators []domain.Generator
	opts       Options
}

// New creates an orchestrator. At least one generator is required.
func New(r Retriever, generators []domain.Generator, opts Options) (*Orchestrator, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: retriever is required", domain.ErrConfiguration)
	}
	if len(generators) == 0 {
		return nil, fmt.Errorf("%w: at least one generator is required", domain.ErrConfiguration)
	}
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrConfiguration, opts.TopK)
	}
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, fmt.Errorf("%w: similarity threshold must be in [0, 1], got %v", domain.ErrConfiguration, opts.Threshold)
	}
	return &Orchestrator{retriever: r, generators: generators, opts: opts}, nil
}

// Generators returns the names of the configured generators in fallback order.
func (o *Orchestrator) Generators() []string {
	names := make([]string, len(o.generators))
	for i, g := range o.generators {
		names[i] = g.Name()
	}
	return names
}

// Ask answers question from the most similar chunks. Without any context
// above the threshold it returns NoContextAnswer and calls no generator.
func (o *Orchestrator) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", domain.ErrConfiguration)
	}
	results, err := o.retriever.Query(ctx, question, o.opts.TopK, o.opts.Threshold)
	if err != nil {
		return nil, err
	}
	ans := &Answer{Question: question, Sources: make([]Source, 0, len(results))}
	if len(results) == 0 {
		ans.Text = NoContextAnswer
		return ans, nil
	}

	contexts := make([]string, len(results))
	for i, r := range results {
		contexts[i] = r.Chunk.Text
		ans.Sources = append(ans.Sources, Source{
			DocumentID: r.Chunk.DocumentID,
			ChunkIndex: r.Chunk.Index,
			Similarity: r.Similarity,
			Text:       r.Chunk.Text,
		})
	}
	text, name, err := o.generate(ctx, question, contexts)
	if err != nil {
		return nil, err
	}
	ans.Text = text
	ans.Generator = name
	ans.ContextUsed = true
	return ans, nil
}

func (o *Orchestrator) generate(ctx context.Context, prompt string, contexts []string) (string, string, error) {
	var errs []error
	for _, g := range o.generators {
		out, err := g.Generate(ctx, prompt, contexts)
		if err == nil && strings.TrimSpace(out) != "" {
			return strings.TrimSpace(out), g.Name(), nil
		}
		if err == nil {
			err = errors.New("empty response")
		}
		errs = append(errs, fmt.Errorf("%s: %w", g.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", "", fmt.Errorf("all generators failed: %w", errors.Join(errs...))
}
