package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"mealplanner"
	"mealplanner/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockConfig() *mealplanner.Config {
	return &mealplanner.Config{
		Model:  mealplanner.ModelConfig{Provider: mealplanner.ProviderMock},
		Kassal: mealplanner.KassalConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1"},
		Pipeline: mealplanner.PipelineConfig{
			MaxSearchTerms: 20, SearchConcurrency: 4, MinStoreDeals: 3,
			ScoutConcurrency: 4, ScoutCandidates: 4, ScoutSelection: mealplanner.SelectionLLM,
		},
		Server: mealplanner.ServerConfig{RunLog: mealplanner.RunLogNone},
	}
}

func TestNewCompleter(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     mealplanner.ModelConfig
		wantID  string
		wantErr bool
	}{
		{"mock", mealplanner.ModelConfig{Provider: mealplanner.ProviderMock}, "mock", false},
		{"ollama", mealplanner.ModelConfig{Provider: mealplanner.ProviderOllama, ModelID: "llama3.1:8b"}, "llama3.1:8b", false},
		{"ollama needs a model", mealplanner.ModelConfig{Provider: mealplanner.ProviderOllama}, "", true},
		{"openai default model", mealplanner.ModelConfig{Provider: mealplanner.ProviderOpenAI, OpenAIAPIKey: "sk"}, "gpt-4.1-mini", false},
		{"unknown", mealplanner.ModelConfig{Provider: "watson"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, id, closer, err := NewCompleter(ctx, tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
			assert.Nil(t, closer)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("mock provider with defaults", func(t *testing.T) {
		a, err := New(ctx, mockConfig())
		require.NoError(t, err)
		defer a.Close()

		assert.NotNil(t, a.Pipeline)
		assert.Nil(t, a.Slack)
		assert.IsType(t, storage.EmptyPantry{}, a.Pantry)
		assert.Equal(t, "mock", a.ModelID)
	})

	t.Run("file pantry, redis cache, slack and run log", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		mr := miniredis.RunT(t)

		pantry := filepath.Join(dir, "pantry.json")
		require.NoError(t, os.WriteFile(pantry, []byte(`{"ingredients":["ris"]}`), 0o644))

		cfg := mockConfig()
		cfg.Pantry.Path = pantry
		cfg.Cache.RedisAddr = mr.Addr()
		cfg.Notify.SlackWebhookURL = "http://example.com/hook"
		cfg.Server.RunLog = mealplanner.RunLogFile

		a, err := New(ctx, cfg)
		require.NoError(t, err)

		onHand, err := storage.LoadOnHand(ctx, a.Pantry)
		require.NoError(t, err)
		assert.Equal(t, []string{"ris"}, onHand)
		assert.NotNil(t, a.Slack)

		// Searches fail against the closed port and are skipped, so both runs succeed with no deals.
		first, err := a.Pipeline.Plan(ctx, "", onHand)
		require.NoError(t, err)
		second, err := a.Pipeline.Plan(ctx, "", onHand)
		require.NoError(t, err)

		logs, err := filepath.Glob(filepath.Join(dir, "logs", "*.mock.json"))
		require.NoError(t, err)
		require.Len(t, logs, 2, "each run is written as soon as it ends")
		for _, runID := range []string{first.RunID, second.RunID} {
			matches, err := filepath.Glob(filepath.Join(dir, "logs", "*."+runID+".mock.json"))
			require.NoError(t, err)
			require.Len(t, matches, 1)
			data, err := os.ReadFile(matches[0])
			require.NoError(t, err)
			assert.Contains(t, string(data), "planning_session")
		}

		require.NoError(t, a.Close())
		require.NoError(t, a.Close())
	})

	t.Run("unreachable redis fails setup", func(t *testing.T) {
		cfg := mockConfig()
		cfg.Cache.RedisAddr = "127.0.0.1:1"

		_, err := New(ctx, cfg)
		assert.ErrorContains(t, err, "redis")
	})
}
