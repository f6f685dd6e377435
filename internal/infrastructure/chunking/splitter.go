package chunking

import (
	"unicode"

	"github.com/kirillkom/filings-assistant/internal/core/domain"
)

const (
	DefaultChunkSize    = 250
	DefaultChunkOverlap = 25
)

// Splitter cuts text into windows of at most ChunkSize runes that overlap by
// at most Overlap runes. Offsets are rune offsets, so multi-byte text is never
// split inside a character.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 10
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string) []domain.TextSpan {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]domain.TextSpan, 0, n/step+1)
	for start := 0; start < n; {
		end := start + s.ChunkSize
		if end > n {
			end = n
		}
		if end < n && !atWordBoundary(runes, end) {
			end = retractToSpace(runes, start, end)
		}

		out = append(out, domain.TextSpan{
			Text:      string(runes[start:end]),
			StartChar: start,
			EndChar:   end,
		})
		if end == n {
			break
		}

		next := start + step
		if next >= end {
			// The window was shortened past the overlap; continue where it ended.
			next = end
		}
		start = next
	}
	return out
}

func atWordBoundary(runes []rune, end int) bool {
	return unicode.IsSpace(runes[end]) || unicode.IsSpace(runes[end-1])
}

// retractToSpace returns the index of the last whitespace rune in (start, end),
// or end unchanged when the window is a single long token.
func retractToSpace(runes []rune, start, end int) int {
	for i := end - 1; i > start; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return end
}
