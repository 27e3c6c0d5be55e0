// Package app wires configuration into the pipeline and its collaborators. It is shared by the CLI and
// the Lambda entry point.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mealplanner"
	"mealplanner/cache"
	"mealplanner/kassal"
	"mealplanner/llm/bedrock"
	"mealplanner/llm/gemini"
	"mealplanner/llm/mock"
	"mealplanner/llm/ollama"
	"mealplanner/llm/openai"
	"mealplanner/slack"
	"mealplanner/storage"
	"mealplanner/workflow"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
)

// App holds the long-lived components built from a Config.
type App struct {
	Config   *mealplanner.Config
	Pipeline *workflow.Pipeline
	Pantry   storage.PantrySource
	Slack    mealplanner.SlackClient
	ModelID  string

	// Telemetry is where the pipeline and the grocery client record spans and metrics.
	Telemetry *mealplanner.Telemetry

	awsCfg  *aws.Config
	closers []func() error
}

type Option func(*App)

// WithTelemetry records to tel instead of the global providers. The providers must stay open for as
// long as the App is used.
func WithTelemetry(tel *mealplanner.Telemetry) Option {
	return func(a *App) { a.Telemetry = tel }
}

// New builds every component for cfg. Close must be called to release connections.
func New(ctx context.Context, cfg *mealplanner.Config, opts ...Option) (*App, error) {
	a := &App{Config: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.Telemetry == nil {
		a.Telemetry = &mealplanner.Telemetry{
			TracerProvider: otel.GetTracerProvider(),
			MeterProvider:  otel.GetMeterProvider(),
		}
	}

	completer, modelID, closeLLM, err := a.newCompleter(ctx)
	if err != nil {
		return nil, err
	}
	a.ModelID = modelID
	if closeLLM != nil {
		a.closers = append(a.closers, closeLLM)
	}

	kopts := kassal.OptionsFromConfig(cfg.Kassal)
	kopts.TracerProvider = a.Telemetry.TracerProvider
	if cfg.Cache.RedisAddr != "" {
		rc, err := cache.New(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cache.WithTTL(cfg.Cache.TTL))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		kopts.Cache = rc
		a.closers = append(a.closers, rc.Close)
		slog.Info("SETUP: Kassalapp response cache enabled", "addr", cfg.Cache.RedisAddr, "ttl", cfg.Cache.TTL)
	}
	grocery := kassal.NewClient(kopts)

	a.Pantry, err = a.newPantry(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Notify.SlackWebhookURL != "" {
		a.Slack = slack.NewClient(cfg.Notify.SlackWebhookURL, nil)
	}

	logger, err := a.newStageLogger()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Pipeline = workflow.NewDefault(cfg.Pipeline, completer, grocery, logger,
		workflow.WithTracer(a.Telemetry.Tracer(mealplanner.TracerNamePipeline)),
		workflow.WithMeter(a.Telemetry.Meter(mealplanner.TracerNamePipeline)),
	)
	slog.Info("SETUP: Pipeline ready",
		"provider", cfg.Model.Provider,
		"model", modelID,
		"nearby_filter", cfg.Kassal.HasLocation(),
		"scout_selection", cfg.Pipeline.ScoutSelection,
		"run_log", cfg.Server.RunLog,
	)
	return a, nil
}

// Close releases clients. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewCompleter returns the LLM client for cfg along with its model id and an optional closer.
func NewCompleter(ctx context.Context, cfg mealplanner.ModelConfig) (mealplanner.Completer, string, func() error, error) {
	a := &App{Config: &mealplanner.Config{Model: cfg}}
	return a.newCompleter(ctx)
}

func (a *App) newCompleter(ctx context.Context) (mealplanner.Completer, string, func() error, error) {
	cfg := a.Config.Model
	switch cfg.Provider {
	case mealplanner.ProviderMock:
		return mock.NewClient(), mock.ModelID, nil, nil

	case mealplanner.ProviderOllama:
		c, err := ollama.NewClient(ollama.ClientOpts{
			BaseEndpoint: cfg.BaseOllamaEndpoint,
			ModelID:      cfg.ModelID,
			Temperature:  float64(cfg.Temperature),
			TopP:         float64(cfg.TopP),
		})
		if err != nil {
			return nil, "", nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return c, c.ModelID(), nil, nil

	case mealplanner.ProviderOpenAI:
		c := openai.NewClient(openai.Options{
			BaseURL:     cfg.OpenAIBaseURL,
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.ModelID,
			Temperature: cfg.Temperature,
		})
		return c, c.ModelID(), nil, nil

	case mealplanner.ProviderGemini:
		c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.ModelID, cfg.Temperature)
		if err != nil {
			return nil, "", nil, err
		}
		return c, c.ModelID(), c.Close, nil

	case mealplanner.ProviderBedrock, "":
		awsCfg, err := a.aws(ctx)
		if err != nil {
			return nil, "", nil, err
		}
		c := bedrock.NewClient(bedrockruntime.NewFromConfig(awsCfg), bedrock.Options{
			ModelID:     cfg.ModelID,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
		})
		return c, c.ModelID(), nil, nil

	default:
		return nil, "", nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.Provider)
	}
}

func (a *App) newPantry(ctx context.Context) (storage.PantrySource, error) {
	cfg := a.Config.Pantry
	switch {
	case cfg.S3Bucket != "":
		awsCfg, err := a.aws(ctx)
		if err != nil {
			return nil, err
		}
		slog.Info("SETUP: Default pantry from S3", "bucket", cfg.S3Bucket, "key", cfg.S3Key)
		return storage.NewS3PantryState(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Key), nil
	case cfg.Path != "":
		slog.Info("SETUP: Default pantry from file", "path", cfg.Path)
		return storage.NewFilePantryState(cfg.Path), nil
	default:
		return storage.EmptyPantry{}, nil
	}
}

func (a *App) newStageLogger() (mealplanner.StageLogger, error) {
	mode := a.Config.Server.RunLog
	if mode != mealplanner.RunLogFile {
		return mealplanner.NewStageLogger(mode, nil)
	}

	// One file per run, written when the run ends
	slog.Info("SETUP: Writing run logs", "dir", "./logs", "model", a.ModelID)
	return mealplanner.NewRunFileStageLogger(a.ModelID), nil
}

func (a *App) aws(ctx context.Context) (aws.Config, error) {
	if a.awsCfg != nil {
		return *a.awsCfg, nil
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(5))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	a.awsCfg = &cfg
	return cfg, nil
}
