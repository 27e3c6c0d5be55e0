package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"mealplanner"
	"mealplanner/llm"
)

type options struct {
	Temperature   float64 `json:"temperature,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	NumCtx        int     `json:"num_ctx,omitempty"`
}

// Client implements mealplanner.Completer against a local Ollama server.
type Client struct {
	endpoint   string
	model      string
	httpClient mealplanner.HTTPClient
	options    options
}

type ClientOpts struct {
	BaseEndpoint string
	ModelID      string
	Temperature  float64
	TopP         float64
	HTTPClient   mealplanner.HTTPClient
}

func NewClient(opts ClientOpts) (*Client, error) {
	if strings.TrimSpace(opts.ModelID) == "" {
		return nil, fmt.Errorf("ollama model id is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.2
	}
	if opts.TopP == 0 {
		opts.TopP = 0.9
	}

	return &Client{
		model:      opts.ModelID,
		httpClient: opts.HTTPClient,
		endpoint:   strings.TrimRight(opts.BaseEndpoint, "/") + "/api/chat",
		options: options{
			Temperature:   opts.Temperature,
			TopP:          opts.TopP,
			RepeatPenalty: 1.05,
			NumCtx:        16384,
		},
	}, nil
}

func (c *Client) ModelID() string { return c.model }

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Format   string        `json:"format,omitempty"`
	Stream   bool          `json:"stream"`
	Options  options       `json:"options,omitempty"`
}

type wireResponse struct {
	Message         wireMessage `json:"message"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// Complete sends a single system+user exchange with JSON output forced.
func (c *Client) Complete(ctx context.Context, req mealplanner.CompletionRequest) (mealplanner.Completion, error) {
	slog.Info("LLM_CLIENT: Invoked", "stage", req.Stage, "prompt_len", len(req.Prompt))

	system, err := llm.SystemWithSchema(req)
	if err != nil {
		return mealplanner.Completion{}, err
	}

	reqBody := wireRequest{
		Model: c.model,
		Messages: []wireMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: req.Prompt},
		},
		Format:  "json",
		Stream:  false,
		Options: c.options,
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return mealplanner.Completion{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(reqBytes))
	if err != nil {
		return mealplanner.Completion{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return mealplanner.Completion{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return mealplanner.Completion{}, fmt.Errorf("ollama: %s: %s", resp.Status, string(body))
	}

	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return mealplanner.Completion{}, fmt.Errorf("failed to decode ollama response: %w", err)
	}

	usage := mealplanner.TokenUsage{
		PromptTokens:     wr.PromptEvalCount,
		CompletionTokens: wr.EvalCount,
		Model:            c.model,
	}
	slog.Info("LLM_CLIENT: Ollama invoke succeeded", "stage", req.Stage, "input_tokens", usage.PromptTokens, "output_tokens", usage.CompletionTokens)

	return mealplanner.Completion{Content: wr.Message.Content, Usage: usage}, nil
}
