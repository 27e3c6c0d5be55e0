// Package api exposes the planning pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"mealplanner"
	"mealplanner/slack"
	"mealplanner/storage"
	"mealplanner/workflow"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 1 << 20

// Planner runs the pipeline for one request.
type Planner interface {
	Plan(ctx context.Context, query string, onHand []string) (*workflow.Result, error)
}

type Options struct {
	// Timeout bounds a whole planning run. Zero means no limit beyond the client's.
	Timeout time.Duration
	// Pantry supplies on-hand ingredients when a request omits them.
	Pantry storage.PantrySource
	// Slack, when set, receives the plan after every successful run.
	Slack        mealplanner.SlackClient
	SlackChannel string
	// Registry collects the HTTP metrics served on /metrics. A fresh registry is used when nil.
	Registry *prometheus.Registry
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

type PlanRequest struct {
	Query             string   `json:"query"`
	OnHandIngredients []string `json:"on_hand_ingredients"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type server struct {
	planner Planner
	opts    Options
	tracer  trace.Tracer

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHandler returns the HTTP routes for planner.
func NewHandler(planner Planner, opts Options) http.Handler {
	if opts.Pantry == nil {
		opts.Pantry = storage.EmptyPantry{}
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
		opts.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	s := &server{
		planner: planner,
		opts:    opts,
		tracer:  opts.TracerProvider.Tracer(mealplanner.TracerNameAPI),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealplanner_http_requests_total",
			Help: "Total HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mealplanner_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120, 180},
		}, []string{"route"}),
	}
	opts.Registry.MustRegister(s.requests, s.duration)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	r.Post("/plan-meals", s.planMeals)
	r.Post("/api/plan-meals", s.planMeals)
	return r
}

func (s *server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) planMeals(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "api.planMeals")
	defer span.End()

	var req PlanRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	onHand := req.OnHandIngredients
	if onHand == nil {
		loaded, err := storage.LoadOnHand(ctx, s.opts.Pantry)
		if err != nil {
			slog.Warn("API: Could not load default pantry, planning with nothing on hand", "error", err)
			loaded = []string{}
		}
		onHand = loaded
	}
	span.SetAttributes(attribute.Int("on_hand.count", len(onHand)))

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	res, err := s.planner.Plan(ctx, req.Query, onHand)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		span.RecordError(err)
		slog.Error("API: Planning failed", "status", status, "error", err)
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	if s.opts.Slack != nil {
		if err := slack.PostPlan(ctx, s.opts.Slack, s.opts.SlackChannel, res.State); err != nil {
			slog.Warn("API: Failed to post plan to Slack", "run_id", res.RunID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, res.State)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("API: Failed to encode response", "error", err)
	}
}
