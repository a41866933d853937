package summarizer

import (
	"strings"
	"testing"
)

const sample = "Go is a statically typed language. Go programs compile quickly. " +
	"The weather was pleasant yesterday. Go has goroutines for concurrency. Lunch was late."

func TestSummarize_KeepsOriginalOrder(t *testing.T) {
	s := NewFrequencySummarizer()
	got, err := s.Summarize(sample, 2)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if strings.Count(got, ".") != 2 {
		t.Fatalf("expected 2 sentences, got %q", got)
	}
	if strings.Contains(got, "weather") || strings.Contains(got, "Lunch") {
		t.Errorf("summary picked off-topic sentence: %q", got)
	}
}

func TestSummarize_ShortText(t *testing.T) {
	s := NewFrequencySummarizer()
	got, _ := s.Summarize("  just a fragment without punctuation ", 3)
	if got != "just a fragment without punctuation" {
		t.Errorf("got %q", got)
	}
	got, _ = s.Summarize("", 3)
	if got != "" {
		t.Errorf("empty text summarized to %q", got)
	}
}

func TestFocus_PrefersQueryTerms(t *testing.T) {
	s := NewFrequencySummarizer()
	got := s.Focus(sample, "what was the weather like?", 1)
	if got != "The weather was pleasant yesterday." {
		t.Errorf("Focus picked %q", got)
	}
}
