package bedrock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mealplanner"
	"mealplanner/llm"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const (
	// defaultModelID is an inference profile ID, not the foundation model's ID.
	// See https://docs.aws.amazon.com/bedrock/latest/userguide/inference-profiles.html.
	defaultModelID = "us.anthropic.claude-3-7-sonnet-20250219-v1:0"

	// The strategist returns seven meals with their deals, so 1k tokens is too tight.
	defaultMaxTokens = 4096

	defaultTemperature = 0.2
	defaultTopP        = 0.9
)

type bedrockRuntimeClient interface {
	Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type Options struct {
	ModelID     string
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// Client implements mealplanner.Completer on top of the Bedrock Converse API.
type Client struct {
	brc  bedrockRuntimeClient
	opts Options
}

func NewClient(brc bedrockRuntimeClient, opts Options) *Client {
	if opts.ModelID == "" {
		opts.ModelID = defaultModelID
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.TopP == 0 {
		opts.TopP = defaultTopP
	}
	return &Client{
		brc:  brc,
		opts: opts,
	}
}

func (c *Client) ModelID() string { return c.opts.ModelID }

func (c *Client) Complete(ctx context.Context, req mealplanner.CompletionRequest) (mealplanner.Completion, error) {
	slog.Info("LLM_CLIENT: Invoked", "stage", req.Stage, "prompt_len", len(req.Prompt))

	system, err := llm.SystemWithSchema(req)
	if err != nil {
		return mealplanner.Completion{}, err
	}

	in := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.opts.ModelID),
		System:  []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}},
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: req.Prompt}},
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(c.opts.MaxTokens),
			Temperature: aws.Float32(c.opts.Temperature),
			TopP:        aws.Float32(c.opts.TopP),
		},
	}

	out, err := c.brc.Converse(ctx, in)
	if err != nil {
		slog.Error("LLM_CLIENT: Bedrock invoke failed", "stage", req.Stage, "error", err)
		return mealplanner.Completion{}, fmt.Errorf("bedrock converse failed: %w", err)
	}

	usage := mealplanner.TokenUsage{Model: c.opts.ModelID}
	if out.Usage != nil {
		usage.PromptTokens = int(aws.ToInt32(out.Usage.InputTokens))
		usage.CompletionTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}

	var latency int64
	if out.Metrics != nil {
		latency = aws.ToInt64(out.Metrics.LatencyMs)
	}
	slog.Info("LLM_CLIENT: Bedrock invoke succeeded",
		"stage", req.Stage,
		"stop_reason", out.StopReason,
		"latency_ms", latency,
		"input_tokens", usage.PromptTokens,
		"output_tokens", usage.CompletionTokens,
	)

	switch out.StopReason {
	case types.StopReasonMaxTokens:
		slog.Warn("LLM_CLIENT: Model hit MaxTokens limit; consider increasing MAX_TOKENS", "stage", req.Stage)
		return mealplanner.Completion{Usage: usage}, fmt.Errorf("model hit MaxTokens limit")
	case types.StopReasonContentFiltered, types.StopReasonGuardrailIntervened:
		slog.Warn("LLM_CLIENT: Model response blocked by Bedrock safety filters", "stage", req.Stage)
		return mealplanner.Completion{Usage: usage}, fmt.Errorf("model response blocked by Bedrock safety filters")
	}

	return mealplanner.Completion{Content: textFromOutput(out), Usage: usage}, nil
}

// textFromOutput returns assistant text: the last block that looks like a JSON object if there is one,
// otherwise all text blocks joined with '\n'.
func textFromOutput(out *bedrockruntime.ConverseOutput) string {
	if out == nil || out.Output == nil {
		return ""
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil || len(msg.Value.Content) == 0 {
		return ""
	}

	texts := make([]string, 0, len(msg.Value.Content))
	for _, cb := range msg.Value.Content {
		if t, ok := cb.(*types.ContentBlockMemberText); ok && t != nil && t.Value != "" {
			texts = append(texts, t.Value)
		}
	}

	for i := len(texts) - 1; i >= 0; i-- {
		s := strings.TrimSpace(llm.StripCodeFence(texts[i]))
		if len(s) > 1 && s[0] == '{' && s[len(s)-1] == '}' {
			return s
		}
	}

	return strings.Join(texts, "\n")
}
