package ingestion

import (
	"errors"
	"strings"
)

// ErrBadChunkConfig reports an unusable size/overlap pair.
var ErrBadChunkConfig = errors.New("chunk size must be positive and overlap must be smaller than size")

// Chunk is one window of parsed text, pre-embedding.
type Chunk struct {
	Ordinal int
	Text    string
}

// Split cuts text into fixed-width windows of size runes advancing by
// size-overlap. The same input always yields the same windows, so
// re-ingesting unchanged content produces identical chunk sets. The tail
// window may be shorter; whitespace-only input yields no chunks.
func Split(text string, size, overlap int) ([]Chunk, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, ErrBadChunkConfig
	}
	if strings.TrimSpace(text) == "" {
		return []Chunk{}, nil
	}

	runes := []rune(text)
	stride := size - overlap
	out := make([]Chunk, 0, len(runes)/stride+1)
	for start := 0; start < len(runes); start += stride {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, Chunk{
			Ordinal: len(out),
			Text:    string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return out, nil
}
