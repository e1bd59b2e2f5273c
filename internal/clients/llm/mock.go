package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// mockClient backs tests and local development without a model vendor.
// Its outputs are deterministic over the input text.
type mockClient struct {
	dimension int
}

// NewMockClient returns a deterministic in-process client.
func NewMockClient(dimension int) Client {
	if dimension <= 0 {
		dimension = 1536
	}
	return &mockClient{dimension: dimension}
}

func (m *mockClient) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		out[i] = pseudoVector(text, m.dimension)
	}
	return out, nil
}

func (m *mockClient) GenerateText(_ context.Context, _, user string) (string, error) {
	return fmt.Sprintf("mock answer for: %s", firstLine(user)), nil
}

func (m *mockClient) GenerateJSON(_ context.Context, _, user string) (map[string]any, error) {
	return map[string]any{
		"answer":    fmt.Sprintf("mock answer for: %s", firstLine(user)),
		"reasoning": "mock reasoning",
	}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

// pseudoVector derives a unit-normalized vector from an FNV hash of the
// text. The same text always maps to the same vector.
func pseudoVector(text string, dimension int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	state := h.Sum64()
	if state == 0 {
		state = 0x9e3779b97f4a7c15
	}

	vec := make([]float32, dimension)
	var norm float64
	for i := range vec {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v := float64(int64(state%2000)-1000) / 1000.0
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
