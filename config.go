package mealplanner

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

const (
	ProviderBedrock = "bedrock"
	ProviderOllama  = "ollama"
	ProviderOpenAI  = "openai"
	ProviderGemini  = "gemini"
	ProviderMock    = "mock"

	SelectionLLM       = "llm"
	SelectionHeuristic = "heuristic"
)

type ModelConfig struct {
	Provider           string  `env:"LLM_PROVIDER,default=bedrock"`
	ModelID            string  `env:"MODEL_ID"`
	MaxTokens          int32   `env:"MAX_TOKENS,default=4096"`
	Temperature        float32 `env:"TEMPERATURE,default=0.2"`
	TopP               float32 `env:"TOP_P,default=0.9"`
	BaseOllamaEndpoint string  `env:"BASE_OLLAMA_ENDPOINT,default=http://localhost:11434"`
	OpenAIBaseURL      string  `env:"OPENAI_BASE_URL,default=https://api.openai.com/v1"`
	OpenAIAPIKey       string  `env:"OPENAI_API_KEY"`
	GeminiAPIKey       string  `env:"GEMINI_API_KEY"`
}

type KassalConfig struct {
	APIKey        string        `env:"KASSALAPP_API_KEY,required"`
	BaseURL       string        `env:"KASSALAPP_BASE_URL,default=https://kassal.app/api/v1"`
	Latitude      string        `env:"LOCATION_LATITUDE"`
	Longitude     string        `env:"LOCATION_LONGITUDE"`
	Radius        string        `env:"LOCATION_RADIUS"`
	RatePerMinute int           `env:"KASSALAPP_RATE_PER_MINUTE,default=60"`
	Timeout       time.Duration `env:"KASSALAPP_TIMEOUT,default=15s"`
}

// HasLocation reports whether nearby-store filtering can be applied.
func (k KassalConfig) HasLocation() bool {
	return k.Latitude != "" && k.Longitude != "" && k.Radius != ""
}

type PipelineConfig struct {
	MaxSearchTerms    int    `env:"MAX_SEARCH_TERMS,default=20"`
	SearchConcurrency int    `env:"SEARCH_CONCURRENCY,default=4"`
	MinStoreDeals     int    `env:"MIN_STORE_DEALS,default=3"`
	ScoutConcurrency  int    `env:"SCOUT_CONCURRENCY,default=4"`
	ScoutCandidates   int    `env:"SCOUT_CANDIDATES,default=4"`
	ScoutSelection    string `env:"SCOUT_SELECTION,default=llm"`
}

type ServerConfig struct {
	Host           string        `env:"API_HOST,default=0.0.0.0"`
	Port           int           `env:"API_PORT,default=8000"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=3m"`
	RunLog         string        `env:"RUN_LOG,default=none"`
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type CacheConfig struct {
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB,default=0"`
	TTL           time.Duration `env:"CACHE_TTL,default=1h"`
}

type PantryConfig struct {
	Path     string `env:"PANTRY_PATH"`
	S3Bucket string `env:"PANTRY_S3_BUCKET"`
	S3Key    string `env:"PANTRY_S3_KEY"`
}

type NotifyConfig struct {
	SlackWebhookURL string `env:"SLACK_WEBHOOK_URL"`
	SlackChannel    string `env:"SLACK_CHANNEL,default=#dinner"`
}

// Config is the process-wide configuration. It is loaded once at startup and never mutated.
type Config struct {
	Model    ModelConfig
	Kassal   KassalConfig
	Pipeline PipelineConfig
	Server   ServerConfig
	Cache    CacheConfig
	Pantry   PantryConfig
	Notify   NotifyConfig
}

// LoadConfig decodes the configuration from the environment and validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envdecode cannot express.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case ProviderBedrock, ProviderOllama, ProviderMock:
	case ProviderOpenAI:
		if c.Model.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for provider %q", c.Model.Provider)
		}
	case ProviderGemini:
		if c.Model.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for provider %q", c.Model.Provider)
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.Model.Provider)
	}

	switch c.Pipeline.ScoutSelection {
	case SelectionLLM, SelectionHeuristic:
	default:
		return fmt.Errorf("unknown SCOUT_SELECTION %q", c.Pipeline.ScoutSelection)
	}

	if c.Pipeline.MaxSearchTerms <= 0 {
		return fmt.Errorf("MAX_SEARCH_TERMS must be positive")
	}
	if c.Pipeline.SearchConcurrency <= 0 || c.Pipeline.ScoutConcurrency <= 0 {
		return fmt.Errorf("SEARCH_CONCURRENCY and SCOUT_CONCURRENCY must be positive")
	}
	if c.Pipeline.ScoutCandidates <= 0 {
		return fmt.Errorf("SCOUT_CANDIDATES must be positive")
	}
	if c.Pantry.S3Bucket != "" && c.Pantry.S3Key == "" {
		return fmt.Errorf("PANTRY_S3_KEY is required when PANTRY_S3_BUCKET is set")
	}
	return nil
}
