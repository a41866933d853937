package answer

import (
	"context"
	"fmt"
	"strings"

	"docqa/internal/domain"
)

// Summary kinds accepted by Summarize.
const (
	SummaryBrief         = "brief"
	SummaryComprehensive = "comprehensive"
	SummaryDetailed      = "detailed"
)

// NoDocumentsSummary is returned by Summarize when nothing is indexed.
const NoDocumentsSummary = "No documents available for summary."

// documentHeader starts the first line of each summary context passage.
const documentHeader = "Document: "

var summaryPlans = map[string]struct {
	chunksPerDoc int
	instruction  string
}{
	SummaryBrief:         {3, "Summarize the main points of these documents in a few sentences."},
	SummaryComprehensive: {6, "Summarize these documents covering their key points, themes and conclusions."},
	SummaryDetailed:      {10, "Write a detailed summary of these documents covering every important point, fact and conclusion."},
}

// Summary is the result of Summarize.
type Summary struct {
	Kind      string   `json:"summary_type"`
	Text      string   `json:"summary"`
	Documents []string `json:"documents"`
	Generator string   `json:"generator,omitempty"`
}

// Summarize produces a summary across every indexed document. Each
// document contributes its leading chunks as one context passage.
func (o *Orchestrator) Summarize(ctx context.Context, kind string) (*Summary, error) {
	if kind == "" {
		kind = SummaryComprehensive
	}
	plan, ok := summaryPlans[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown summary type %q", domain.ErrConfiguration, kind)
	}

	var order []string
	parts := make(map[string][]string)
	for _, ch := range o.retriever.Chunks() {
		if _, seen := parts[ch.DocumentID]; !seen {
			order = append(order, ch.DocumentID)
		}
		if len(parts[ch.DocumentID]) < plan.chunksPerDoc {
			parts[ch.DocumentID] = append(parts[ch.DocumentID], ch.Text)
		}
	}
	sum := &Summary{Kind: kind, Documents: order}
	if len(order) == 0 {
		sum.Text = NoDocumentsSummary
		return sum, nil
	}

	contexts := make([]string, len(order))
	for i, id := range order {
		contexts[i] = documentHeader + id + "\n" + strings.Join(parts[id], "\n")
	}
	text, name, err := o.generate(ctx, plan.instruction, contexts)
	if err != nil {
		return nil, err
	}
	sum.Text = text
	sum.Generator = name
	return sum, nil
}
