// Package ai holds the narrow contracts for the external model
// capabilities the pipeline and the query engine depend on. The core
// never talks to a provider directly; it sees only these three
// interfaces, which keeps every consumer testable against mocks.
package ai

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"videorag/config"
)

// Embedder turns a batch of texts into fixed-dimension vectors, one
// vector per input text, order preserved.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces free text from a single instruction prompt. No
// retries are implied here; callers decide how to degrade.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Descriptor produces a short textual description of an image file.
type Descriptor interface {
	DescribeImage(ctx context.Context, imagePath string) (string, error)
}

// Client bundles the three capabilities; the OpenAI-compatible client
// and the mock both satisfy it.
type Client interface {
	Embedder
	Generator
	Descriptor
}

// Pick selects the client implementation. AI=mock forces the offline
// mock; otherwise the OpenAI-compatible client is used when the config
// carries credentials, with a warning fallback to mock when it does
// not, so the service stays usable without keys.
func Pick(cfg *config.Config) Client {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("AI")))
	if mode == "mock" {
		return NewMock(cfg.EmbeddingDim)
	}
	if !cfg.HasValidAPI() {
		log.Printf("Warning: API configuration not found, using mock AI client")
		return NewMock(cfg.EmbeddingDim)
	}
	return NewOpenAI(cfg)
}

// ZeroVector returns the all-zeros embedding used when the embedding
// capability degrades for a unit.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}

func errEmptyResponse(what string) error {
	return fmt.Errorf("empty %s response", what)
}
