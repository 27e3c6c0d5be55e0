// Package kassal is a client for the Kassalapp grocery price API.
package kassal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"mealplanner"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const searchPageSize = 100

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Cache stores raw response bodies keyed by request path and query.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

type Options struct {
	BaseURL       string
	APIKey        string
	Latitude      string
	Longitude     string
	Radius        string
	RatePerMinute int
	HTTPClient    doer
	Cache         Cache

	// TracerProvider defaults to the global provider at construction time.
	TracerProvider trace.TracerProvider
}

// OptionsFromConfig maps the process configuration onto client options.
func OptionsFromConfig(cfg mealplanner.KassalConfig) Options {
	return Options{
		BaseURL:       cfg.BaseURL,
		APIKey:        cfg.APIKey,
		Latitude:      cfg.Latitude,
		Longitude:     cfg.Longitude,
		Radius:        cfg.Radius,
		RatePerMinute: cfg.RatePerMinute,
		HTTPClient:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Client is safe for concurrent use. It holds the only shared mutable state of the pipeline: the rate
// limiter and the nearby store group cache.
type Client struct {
	baseURL    string
	apiKey     string
	lat        string
	lng        string
	km         string
	httpClient doer
	limiter    *rate.Limiter
	cache      Cache
	tracer     trace.Tracer

	groupsLoad   singleflight.Group
	groupsMu     sync.Mutex
	groupsLoaded bool
	groups       map[string]struct{}
}

func NewClient(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), 1)
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		lat:        opts.Latitude,
		lng:        opts.Longitude,
		km:         opts.Radius,
		httpClient: opts.HTTPClient,
		limiter:    limiter,
		cache:      opts.Cache,
		tracer:     opts.TracerProvider.Tracer(mealplanner.TracerNameKassal),
	}
}

// get fetches path with query and decodes the "data" envelope into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	key := path
	if len(query) > 0 {
		key += "?" + query.Encode()
	}

	ctx, span := c.tracer.Start(ctx, "kassal.get", trace.WithAttributes(attribute.String("kassal.path", path)))
	defer span.End()

	body, err := c.fetch(ctx, key)
	if err != nil {
		span.SetStatus(codes.Error, "request failed")
		span.RecordError(err)
		return err
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to decode kassal response for %s: %w", path, err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("%w: empty data for %s", mealplanner.ErrNotFound, path)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode kassal data for %s: %w", path, err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, key string) ([]byte, error) {
	if c.cache != nil {
		if body, ok, err := c.cache.Get(ctx, key); err != nil {
			slog.Warn("KASSAL: cache read failed", "key", key, "error", err)
		} else if ok {
			return body, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("rate limiter: %w", ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", mealplanner.ErrRateLimitDeadline, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+key, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call kassal %s: %w", key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read kassal response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", mealplanner.ErrUnauthorized, resp.Status)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", mealplanner.ErrNotFound, key)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("kassal %s: %s: %s", key, resp.Status, snippet(body))
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body); err != nil {
			slog.Warn("KASSAL: cache write failed", "key", key, "error", err)
		}
	}
	return body, nil
}

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
