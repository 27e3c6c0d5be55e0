// Package llm holds the provider-agnostic helpers for asking a language model for structured JSON.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"mealplanner"
)

// StripCodeFence removes a surrounding markdown code fence (``` or ```json) from s.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Decode parses model output into T. Any failure wraps mealplanner.ErrMalformedOutput.
func Decode[T any](content string) (T, error) {
	var out T
	body := StripCodeFence(content)
	if body == "" {
		return out, fmt.Errorf("%w: empty response", mealplanner.ErrMalformedOutput)
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return out, fmt.Errorf("%w: %v", mealplanner.ErrMalformedOutput, err)
	}
	return out, nil
}

// SystemWithSchema appends the expected output schema to a system prompt.
func SystemWithSchema(req mealplanner.CompletionRequest) (string, error) {
	if req.Schema == nil {
		return req.System, nil
	}
	schema, err := json.MarshalIndent(req.Schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal output schema: %w", err)
	}
	var b strings.Builder
	b.WriteString(req.System)
	b.WriteString("\n\nRespond with a single JSON object and nothing else. It must conform to this JSON Schema:\n")
	b.Write(schema)
	return b.String(), nil
}

// Structured sends req and decodes the reply into T. The raw completion is returned even when decoding
// fails so callers can log what the model said.
func Structured[T any](ctx context.Context, c mealplanner.Completer, req mealplanner.CompletionRequest) (T, mealplanner.Completion, error) {
	var zero T

	completion, err := c.Complete(ctx, req)
	if err != nil {
		return zero, completion, fmt.Errorf("failed to complete %s request: %w", req.Stage, err)
	}

	out, err := Decode[T](completion.Content)
	if err != nil {
		slog.Warn("LLM: Could not decode structured output", "stage", req.Stage, "content_len", len(completion.Content), "error", err)
		return zero, completion, err
	}
	return out, completion, nil
}
