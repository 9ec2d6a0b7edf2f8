package ai

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"
)

// Mock is the offline client: deterministic bag-of-words embeddings
// hashed into a fixed dimension plus canned text. Texts sharing words
// map to nearby vectors, so ranking assertions in tests hold without
// any network access.
type Mock struct {
	Dim int
}

func NewMock(dim int) *Mock {
	if dim <= 0 {
		dim = 1536
	}
	return &Mock{Dim: dim}
}

var mockNonWord = regexp.MustCompile(`[^a-z0-9\p{Han}]+`)

func (m *Mock) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.embed(t)
	}
	return out, nil
}

func (m *Mock) embed(text string) []float32 {
	vec := make([]float32, m.Dim)
	words := strings.Fields(mockNonWord.ReplaceAllString(strings.ToLower(text), " "))
	for _, w := range words {
		h := fnv32(w)
		vec[int(h)%m.Dim] += 1
	}
	// L2 normalize so cosine distances behave like the real thing
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		norm := float32(math.Sqrt(sum))
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func fnv32(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func (m *Mock) Generate(_ context.Context, prompt string) (string, error) {
	// Echo the last line of the prompt so answers stay traceable in
	// manual testing.
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	return fmt.Sprintf("Mock answer based on provided context. (%s)", last), nil
}

func (m *Mock) DescribeImage(_ context.Context, imagePath string) (string, error) {
	return fmt.Sprintf("A video frame (%s).", filepath.Base(imagePath)), nil
}
