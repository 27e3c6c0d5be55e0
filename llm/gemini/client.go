package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mealplanner"
	"mealplanner/llm"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultModel = "gemini-1.5-flash"

// Client implements mealplanner.Completer with the Google Gemini API.
type Client struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewClient returns a Gemini client. Extra options are passed to the underlying Google API client.
func NewClient(ctx context.Context, apiKey, model string, temperature float32, opts ...option.ClientOption) (*Client, error) {
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{client: client, model: model, temperature: temperature}, nil
}

func (c *Client) ModelID() string { return c.model }

func (c *Client) Complete(ctx context.Context, req mealplanner.CompletionRequest) (mealplanner.Completion, error) {
	slog.Info("LLM_CLIENT: Invoked", "stage", req.Stage, "prompt_len", len(req.Prompt))

	system, err := llm.SystemWithSchema(req)
	if err != nil {
		return mealplanner.Completion{}, err
	}

	// GenerativeModel carries per-call config, so each request gets its own.
	model := c.client.GenerativeModel(c.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	model.ResponseMIMEType = "application/json"
	if c.temperature > 0 {
		model.SetTemperature(c.temperature)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return mealplanner.Completion{}, fmt.Errorf("failed to generate content: %w", err)
	}

	usage := mealplanner.TokenUsage{Model: c.model}
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	text, err := textFromResponse(resp)
	if err != nil {
		return mealplanner.Completion{Usage: usage}, err
	}

	slog.Info("LLM_CLIENT: Gemini invoke succeeded", "stage", req.Stage, "input_tokens", usage.PromptTokens, "output_tokens", usage.CompletionTokens)
	return mealplanner.Completion{Content: text, Usage: usage}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func textFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no content generated")
	}
	var parts []string
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			parts = append(parts, string(t))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("generated content is not text")
	}
	return strings.Join(parts, ""), nil
}
