// Package openai talks to any OpenAI-compatible chat completions endpoint (OpenAI, Groq, vLLM).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mealplanner"
	"mealplanner/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4.1-mini"
)

type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	HTTPClient  mealplanner.HTTPClient
}

type Client struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float32
	httpClient  mealplanner.HTTPClient
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		endpoint:    strings.TrimRight(opts.BaseURL, "/") + "/chat/completions",
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: opts.Temperature,
		httpClient:  opts.HTTPClient,
	}
}

func (c *Client) ModelID() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float32           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *Client) Complete(ctx context.Context, req mealplanner.CompletionRequest) (mealplanner.Completion, error) {
	slog.Info("LLM_CLIENT: Invoked", "stage", req.Stage, "prompt_len", len(req.Prompt))

	system, err := llm.SystemWithSchema(req)
	if err != nil {
		return mealplanner.Completion{}, err
	}

	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: c.temperature,
	}
	if req.Schema != nil {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return mealplanner.Completion{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return mealplanner.Completion{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return mealplanner.Completion{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return mealplanner.Completion{}, fmt.Errorf("chat completions error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return mealplanner.Completion{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return mealplanner.Completion{}, fmt.Errorf("no content generated")
	}

	usage := mealplanner.TokenUsage{
		PromptTokens:     cr.Usage.PromptTokens,
		CompletionTokens: cr.Usage.CompletionTokens,
		Model:            c.model,
	}
	slog.Info("LLM_CLIENT: Chat completion succeeded", "stage", req.Stage, "input_tokens", usage.PromptTokens, "output_tokens", usage.CompletionTokens)

	return mealplanner.Completion{Content: cr.Choices[0].Message.Content, Usage: usage}, nil
}
