package main

import (
	"context"
	"log"
	"log/slog"
	"sync"
	"time"

	"mealplanner"
	"mealplanner/internal/app"
	"mealplanner/slack"
	"mealplanner/storage"

	"github.com/aws/aws-lambda-go/lambda"
)

const flushTimeout = 5 * time.Second

type Params struct {
	Query             string   `json:"query"`
	OnHandIngredients []string `json:"on_hand_ingredients"`
}

// handler lives for the whole execution environment. Warm invocations reuse its app and telemetry.
type handler struct {
	app       *app.App
	telemetry *mealplanner.Telemetry
}

var (
	setupOnce sync.Once
	instance  *handler
	setupErr  error
)

func setup(ctx context.Context) (*handler, error) {
	setupOnce.Do(func() {
		// Clients built here outlive the first invocation
		ctx := context.WithoutCancel(ctx)

		cfg, err := mealplanner.LoadConfig()
		if err != nil {
			setupErr = err
			return
		}
		// Lambda output goes to CloudWatch, so file run logs make no sense here
		if cfg.Server.RunLog == mealplanner.RunLogFile {
			cfg.Server.RunLog = mealplanner.RunLogStdout
		}

		tel, err := mealplanner.InitOtel(ctx)
		if err != nil {
			slog.Error("SETUP: Failed to initialize OpenTelemetry", "error", err)
			setupErr = err
			return
		}

		a, err := app.New(ctx, cfg, app.WithTelemetry(tel))
		if err != nil {
			_ = tel.Shutdown(ctx)
			setupErr = err
			return
		}
		instance = &handler{app: a, telemetry: tel}
	})
	return instance, setupErr
}

func handle(ctx context.Context, params Params) (*mealplanner.PlannerState, error) {
	h, err := setup(ctx)
	if err != nil {
		slog.Error("SETUP: Failed to build pipeline", "error", err)
		return nil, err
	}
	return h.handle(ctx, params)
}

// handle runs one invocation and exports its telemetry before returning, since the environment may be
// frozen right after.
func (h *handler) handle(ctx context.Context, params Params) (*mealplanner.PlannerState, error) {
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
		defer cancel()
		if err := h.telemetry.ForceFlush(flushCtx); err != nil {
			slog.Warn("RESULT: Failed to flush telemetry", "error", err)
		}
	}()

	a := h.app
	onHand := params.OnHandIngredients
	if onHand == nil {
		var err error
		onHand, err = storage.LoadOnHand(ctx, a.Pantry)
		if err != nil {
			slog.Warn("SETUP: Could not load default pantry, planning with nothing on hand", "error", err)
			onHand = []string{}
		}
	}

	res, err := a.Pipeline.Plan(ctx, params.Query, onHand)
	if err != nil {
		slog.Error("RESULT: Planning failed", "error", err)
		return nil, err
	}

	if a.Slack != nil {
		if err := slack.PostPlan(ctx, a.Slack, a.Config.Notify.SlackChannel, res.State); err != nil {
			slog.Warn("RESULT: Failed to post plan to Slack", "run_id", res.RunID, "error", err)
		}
	}
	return res.State, nil
}

func main() {
	log.SetFlags(0)
	lambda.Start(handle)
}
