package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"videorag/config"
	"videorag/core"
)

// OpenAI implements all three capabilities against any
// OpenAI-compatible endpoint (base URL comes from config, so Ark,
// Doubao and friends work the same way).
type OpenAI struct {
	cli *openai.Client
	cfg *config.Config
}

func NewOpenAI(cfg *config.Config) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAI{cli: openai.NewClientWithConfig(clientConfig), cfg: cfg}
}

func (o *OpenAI) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := o.cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(o.cfg.EmbeddingModel),
		Input: texts,
	})
	if err != nil {
		return nil, core.Capability("embedding", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, core.Capability("embedding",
			fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.cfg.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   1000,
		Temperature: 0.3,
	})
	if err != nil {
		return "", core.Capability("generation", err)
	}
	if len(resp.Choices) == 0 {
		return "", core.Capability("generation", errEmptyResponse("chat"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

const describePrompt = "Describe what's happening in this video frame. " +
	"Include people, main objects, actions, and setting. Keep it concise (1-2 sentences)."

func (o *OpenAI) DescribeImage(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", core.Capability("vision", err)
	}
	resp, err := o.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.cfg.VisionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: describePrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL(imagePath, data),
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
		MaxTokens: 200,
	})
	if err != nil {
		return "", core.Capability("vision", err)
	}
	if len(resp.Choices) == 0 {
		return "", core.Capability("vision", errEmptyResponse("vision"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func dataURL(path string, data []byte) string {
	mime := "image/jpeg"
	if strings.EqualFold(filepath.Ext(path), ".png") {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
