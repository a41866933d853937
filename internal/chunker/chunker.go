package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"docqa/internal/domain"
)

// lookback is how far, in characters, a window edge may be pulled back to reach a boundary.
const lookback = 100

// Chunker splits text into overlapping character windows that prefer to end
// at sentence or paragraph boundaries.
type Chunker struct {
	size    int
	overlap int
}

// New returns a chunker producing windows of at most size characters that
// overlap by overlap characters.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrConfiguration, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", domain.ErrConfiguration, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts text into chunks. Offsets are rune positions in text.
// Whitespace-only windows are dropped and indices stay contiguous.
func (c *Chunker) Split(documentID, text string) []domain.Chunk {
	runes := []rune(text)
	n := len(runes)
	var chunks []domain.Chunk
	start := 0
	for start < n {
		end := start + c.size
		hard := false
		if end >= n {
			end = n
		} else if cut, paragraph, ok := c.boundary(runes, start, end); ok {
			end, hard = cut, paragraph
		}
		piece := string(runes[start:end])
		if strings.TrimSpace(piece) != "" {
			chunks = append(chunks, domain.Chunk{
				DocumentID: documentID,
				Index:      len(chunks),
				Text:       piece,
				Start:      start,
				End:        end,
			})
		}
		if end == n {
			break
		}
		if hard {
			start = end
		} else {
			start = end - c.overlap
		}
	}
	return chunks
}

// boundary finds the rightmost sentence end or paragraph break in the
// lookback range before end. The cut never lands closer to start than
// overlap+1, so every step makes progress.
func (c *Chunker) boundary(runes []rune, start, end int) (cut int, paragraph bool, ok bool) {
	lo := end - lookback
	if floor := start + c.overlap + 1; lo < floor {
		lo = floor
	}
	for i := end - 1; i >= lo; i-- {
		switch runes[i] {
		case '\n':
			if i+1 < end && runes[i+1] == '\n' {
				return i + 2, true, true
			}
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				return i + 1, false, true
			}
		}
	}
	return 0, false, false
}
