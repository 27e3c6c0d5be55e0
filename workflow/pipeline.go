// Package workflow runs the planning stages in order over a shared PlannerState.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mealplanner"
	"mealplanner/agents"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Grocery is everything the stages need from the grocery price API.
type Grocery interface {
	agents.DealSearcher
	agents.ProductFinder
}

// Result is the outcome of a successful run.
type Result struct {
	RunID  string
	State  *mealplanner.PlannerState
	Stages []mealplanner.StageMeta
}

// Usage sums token usage across stages.
func (r *Result) Usage() mealplanner.TokenUsage {
	var total mealplanner.TokenUsage
	for _, s := range r.Stages {
		total.PromptTokens += s.Usage.PromptTokens
		total.CompletionTokens += s.Usage.CompletionTokens
		if total.Model == "" {
			total.Model = s.Usage.Model
		}
	}
	return total
}

type Pipeline struct {
	stages []mealplanner.Stage
	logger mealplanner.StageLogger
	tracer trace.Tracer

	runs          metric.Int64Counter
	runsFailed    metric.Int64Counter
	stageDuration metric.Float64Histogram
	tokens        metric.Int64Counter
	dealsFound    metric.Int64Histogram
}

type Option func(*Pipeline)

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithMeter replaces the global meter used for run and stage metrics.
func WithMeter(m metric.Meter) Option {
	return func(p *Pipeline) { p.initInstruments(m) }
}

// New returns a pipeline running stages in the given order. A nil logger discards stage logs.
func New(stages []mealplanner.Stage, logger mealplanner.StageLogger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = mealplanner.NewNoOpStageLogger()
	}
	p := &Pipeline{
		stages: stages,
		logger: logger,
		tracer: otel.Tracer(mealplanner.TracerNamePipeline),
	}
	p.initInstruments(otel.Meter(mealplanner.TracerNamePipeline))
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDefault wires the four planning stages from configuration.
func NewDefault(cfg mealplanner.PipelineConfig, completer mealplanner.Completer, grocery Grocery, logger mealplanner.StageLogger, opts ...Option) *Pipeline {
	return New(Stages(cfg, completer, grocery), logger, opts...)
}

// Stages returns Deal Hunter, Meal Strategist, Bargain Scout and List Consolidator in run order.
func Stages(cfg mealplanner.PipelineConfig, completer mealplanner.Completer, grocery Grocery) []mealplanner.Stage {
	return []mealplanner.Stage{
		agents.NewDealHunter(completer, grocery, cfg.MaxSearchTerms, cfg.SearchConcurrency),
		agents.NewMealStrategist(completer, cfg.MinStoreDeals),
		agents.NewBargainScout(completer, grocery, cfg.ScoutSelection, cfg.ScoutCandidates, cfg.ScoutConcurrency),
		agents.NewListConsolidator(),
	}
}

func (p *Pipeline) initInstruments(m metric.Meter) {
	p.runs, _ = m.Int64Counter("pipeline_runs_total",
		metric.WithDescription("Total number of planning runs started"))
	p.runsFailed, _ = m.Int64Counter("pipeline_runs_failed_total",
		metric.WithDescription("Total number of planning runs that failed"))
	p.stageDuration, _ = m.Float64Histogram("stage_duration_seconds",
		metric.WithDescription("Duration of individual pipeline stages in seconds"))
	p.tokens, _ = m.Int64Counter("llm_tokens_total",
		metric.WithDescription("Total number of tokens consumed per stage and kind"))
	p.dealsFound, _ = m.Int64Histogram("deals_found",
		metric.WithDescription("Number of price-drop deals found per run"))
}

// Plan runs every stage for query and onHand. On failure no partial state is returned.
func (p *Pipeline) Plan(ctx context.Context, query string, onHand []string) (*Result, error) {
	return p.Run(ctx, mealplanner.NewPlannerState(query, onHand))
}

// Run executes the stages in order over state. The first failing stage stops the run and its error is
// returned wrapped in a *mealplanner.StageError.
func (p *Pipeline) Run(ctx context.Context, state *mealplanner.PlannerState) (*Result, error) {
	runID := uuid.NewString()
	defer p.flushRun(runID)

	ctx, span := p.tracer.Start(ctx, "Pipeline.Run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("on_hand.count", len(state.OnHandIngredients)),
	))
	defer span.End()

	p.runs.Add(ctx, 1)
	slog.Info("PIPELINE: Starting run", "run_id", runID, "query", state.InitialQuery, "on_hand", len(state.OnHandIngredients))

	result := &Result{RunID: runID, State: state}
	start := time.Now()

	for _, stage := range p.stages {
		meta, err := p.runStage(ctx, runID, stage, state)
		result.Stages = append(result.Stages, meta)
		if err != nil {
			p.runsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage.Name())))
			span.SetStatus(codes.Error, "stage failed")
			span.RecordError(err)
			slog.Error("PIPELINE: Run failed", "run_id", runID, "stage", stage.Name(), "error", err)
			return nil, &mealplanner.StageError{Stage: stage.Name(), Err: err}
		}
	}

	p.dealsFound.Record(ctx, int64(len(state.FoundDeals)))
	usage := result.Usage()
	slog.Info("PIPELINE: Run completed",
		"run_id", runID,
		"duration_ms", time.Since(start).Milliseconds(),
		"deals", len(state.FoundDeals),
		"chosen_store", state.ChosenStore,
		"shopping_list_items", state.ShoppingList.Len(),
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
	)
	return result, nil
}

func (p *Pipeline) flushRun(runID string) {
	f, ok := p.logger.(mealplanner.RunFlusher)
	if !ok {
		return
	}
	if err := f.FlushRun(runID); err != nil {
		slog.Warn("PIPELINE: Failed to write run log", "run_id", runID, "error", err)
	}
}

func (p *Pipeline) runStage(ctx context.Context, runID string, stage mealplanner.Stage, state *mealplanner.PlannerState) (mealplanner.StageMeta, error) {
	name := stage.Name()
	ctx, span := p.tracer.Start(ctx, fmt.Sprintf("Pipeline.Stage.%s", name))
	defer span.End()

	if err := ctx.Err(); err != nil {
		meta := mealplanner.StageMeta{Stage: name}
		p.log(runID, meta, err)
		return meta, err
	}

	slog.Info("PIPELINE: Running stage", "run_id", runID, "stage", name)
	start := time.Now()
	meta, err := stage.Run(ctx, state)
	meta.Stage = name
	meta.Latency = time.Since(start)

	attrs := metric.WithAttributes(attribute.String("stage", name))
	p.stageDuration.Record(ctx, meta.Latency.Seconds(), attrs)
	p.tokens.Add(ctx, int64(meta.Usage.PromptTokens), metric.WithAttributes(attribute.String("stage", name), attribute.String("kind", "prompt")))
	p.tokens.Add(ctx, int64(meta.Usage.CompletionTokens), metric.WithAttributes(attribute.String("stage", name), attribute.String("kind", "completion")))

	span.SetAttributes(
		attribute.Int64("stage.latency_ms", meta.Latency.Milliseconds()),
		attribute.Int("stage.prompt_tokens", meta.Usage.PromptTokens),
		attribute.Int("stage.completion_tokens", meta.Usage.CompletionTokens),
		attribute.Int("stage.lookups", len(meta.Lookups)),
	)
	if meta.Skipped != "" {
		span.AddEvent("stage skipped", trace.WithAttributes(attribute.String("reason", meta.Skipped)))
	}
	if err != nil {
		span.SetStatus(codes.Error, "stage failed")
		span.RecordError(err)
	}

	p.log(runID, meta, err)
	slog.Info("PIPELINE: Stage finished", "run_id", runID, "stage", name, "latency_ms", meta.Latency.Milliseconds(), "skipped", meta.Skipped, "failed", err != nil)
	return meta, err
}

func (p *Pipeline) log(runID string, meta mealplanner.StageMeta, err error) {
	if lerr := p.logger.LogStage(mealplanner.NewStageLog(runID, meta, err)); lerr != nil {
		slog.Warn("PIPELINE: Failed to write stage log", "run_id", runID, "stage", meta.Stage, "error", lerr)
	}
}
