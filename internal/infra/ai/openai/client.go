package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/himeshgonnade/chronosscan/internal/domain/faults"
	"github.com/himeshgonnade/chronosscan/internal/domain/rag"
	"github.com/himeshgonnade/chronosscan/internal/infra/ai/prompt"
)

const maxTokens = 2048

// Client is both the report generator and the embedding backend. One handle,
// two models.
type Client struct {
	*openai.Client
	Model          string
	EmbeddingModel string
}

var _ rag.Generator = (*Client)(nil)
var _ rag.Embedder = (*Client)(nil)

func NewClient(apiKey, model, embeddingModel string) *Client {
	return &Client{Client: openai.NewClient(apiKey), Model: model, EmbeddingModel: embeddingModel}
}

// Generate renders one clinical report from the already-built user prompt.
func (c *Client) Generate(ctx context.Context, userPrompt string) (string, error) {
	model := c.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.GetSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices: %w", faults.ErrInvalidResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns one vector per input text, in order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	model := c.EmbeddingModel
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	resp, err := c.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, classify("create embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d texts: %w", len(resp.Data), len(texts), faults.ErrInvalidResponse)
	}
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, faults.ErrTimeout)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s status %d (%v): %w", op, apiErr.HTTPStatusCode, err, faults.ErrInvalidResponse)
	}
	return fmt.Errorf("%s (%v): %w", op, err, faults.ErrUnreachable)
}
