package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mealplanner"

	"github.com/google/generative-ai-go/genai"
	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestTextFromResponse(t *testing.T) {
	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		want    string
		wantErr bool
	}{
		{
			name: "joins text parts",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"a":`), genai.Text(`1}`)}},
			}}},
			want: `{"a":1}`,
		},
		{name: "nil response", resp: nil, wantErr: true},
		{name: "no candidates", resp: &genai.GenerateContentResponse{}, wantErr: true},
		{
			name: "no text parts",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{genai.Blob{MIMEType: "image/png"}}},
			}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := textFromResponse(tt.resp)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// generateRequest is the subset of the REST generateContent body the client is expected to send.
type generateRequest struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	SystemInstruction struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"systemInstruction"`
	GenerationConfig struct {
		ResponseMIMEType string   `json:"responseMimeType"`
		Temperature      *float64 `json:"temperature"`
	} `json:"generationConfig"`
}

func newGeminiServer(t *testing.T, status int, body string, got *generateRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/gemini-test:generateContent", r.URL.Path)
		if got != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, temperature float32) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), "test-key", "gemini-test", temperature, option.WithEndpoint(srv.URL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_Complete(t *testing.T) {
	req := mealplanner.CompletionRequest{
		Stage:  mealplanner.StageDealHunter,
		System: "You pick grocery search terms.",
		Prompt: "Suggest search terms for dinner.",
		Schema: &jsonschema.Schema{
			Type:     "object",
			Required: []string{"search_terms"},
		},
	}

	t.Run("sends system instruction and json mime type and maps usage", func(t *testing.T) {
		var got generateRequest
		srv := newGeminiServer(t, http.StatusOK, `{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "{\"search_terms\":"}, {"text": "[\"torsk\"]}"}]}}],
			"usageMetadata": {"promptTokenCount": 42, "candidatesTokenCount": 7, "totalTokenCount": 49}
		}`, &got)

		completion, err := newTestClient(t, srv, 0.2).Complete(context.Background(), req)
		require.NoError(t, err)

		assert.Equal(t, `{"search_terms":["torsk"]}`, completion.Content)
		assert.Equal(t, mealplanner.TokenUsage{PromptTokens: 42, CompletionTokens: 7, Model: "gemini-test"}, completion.Usage)

		require.Len(t, got.SystemInstruction.Parts, 1)
		assert.Contains(t, got.SystemInstruction.Parts[0].Text, "You pick grocery search terms.")
		assert.Contains(t, got.SystemInstruction.Parts[0].Text, `"search_terms"`, "the output schema is appended to the system instruction")
		assert.Equal(t, "application/json", got.GenerationConfig.ResponseMIMEType)
		require.NotNil(t, got.GenerationConfig.Temperature)
		assert.InDelta(t, 0.2, *got.GenerationConfig.Temperature, 0.001)
		require.Len(t, got.Contents, 1)
		require.Len(t, got.Contents[0].Parts, 1)
		assert.Equal(t, "Suggest search terms for dinner.", got.Contents[0].Parts[0].Text)
	})

	t.Run("zero temperature is left to the model default", func(t *testing.T) {
		var got generateRequest
		srv := newGeminiServer(t, http.StatusOK, `{"candidates": [{"content": {"parts": [{"text": "{}"}]}}]}`, &got)

		completion, err := newTestClient(t, srv, 0).Complete(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "{}", completion.Content)
		assert.Nil(t, got.GenerationConfig.Temperature)
		assert.Zero(t, completion.Usage.PromptTokens)
	})

	t.Run("api errors are wrapped", func(t *testing.T) {
		srv := newGeminiServer(t, http.StatusBadRequest,
			`{"error": {"code": 400, "message": "API key not valid", "status": "INVALID_ARGUMENT"}}`, nil)

		_, err := newTestClient(t, srv, 0).Complete(context.Background(), req)
		require.Error(t, err)
		assert.ErrorContains(t, err, "failed to generate content")
		assert.ErrorContains(t, err, "API key not valid")
	})

	t.Run("empty candidates keep the usage", func(t *testing.T) {
		srv := newGeminiServer(t, http.StatusOK, `{"candidates": [], "usageMetadata": {"promptTokenCount": 3}}`, nil)

		completion, err := newTestClient(t, srv, 0).Complete(context.Background(), req)
		assert.ErrorContains(t, err, "no content generated")
		assert.Equal(t, 3, completion.Usage.PromptTokens)
	})
}
