// Package planner runs one screenshot-to-click decision cycle.
//
// A cycle moves through captured, requested, extracted or retry-requested, and ends resolved or
// failed. The provider is called at most twice: once normally and once with a JSON-only nudge when
// the first answer cannot be parsed. Transport and configuration failures are never retried here.
package planner

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"vision-click/internal/config"
	"vision-click/internal/entity"
	"vision-click/internal/geometry"
	"vision-click/internal/ports"
	"vision-click/pkg/apperr"
	"vision-click/pkg/logg"
	"vision-click/pkg/tracing"
)

const (
	plannerName   = "ClickPlanner"
	plannerTracer = "vision.planner"
	maxAttempts   = 2
)

type cycleState string

const (
	stateCaptured       cycleState = "captured"
	stateRequested      cycleState = "requested"
	stateRetryRequested cycleState = "retry_requested"
	stateExtracted      cycleState = "extracted"
	stateResolved       cycleState = "resolved"
	stateFailed         cycleState = "failed"
)

type Planner struct {
	logger    *zap.Logger
	tracer    trace.Tracer
	providers ports.VisionProviderFactory
	extractor ports.ResponseExtractor
}

type Params struct {
	fx.In

	Logger    *zap.Logger
	Providers ports.VisionProviderFactory
	Extractor ports.ResponseExtractor
}

func NewPlanner(params Params) *Planner {
	return &Planner{
		logger:    params.Logger.With(zap.String(logg.Layer, plannerName)),
		tracer:    otel.Tracer(plannerTracer),
		providers: params.Providers,
		extractor: params.Extractor,
	}
}

// DecideClick returns an element-relative CSS offset that is always inside the captured element.
func (p *Planner) DecideClick(ctx context.Context, capture *entity.ScreenshotCapture, goal string, cfg *config.VisionConfig) (*entity.ClickTarget, error) {
	const op = "DecideClick"

	decision, err := p.Decide(ctx, capture, goal, cfg)
	if err != nil {
		return nil, err
	}

	if decision.Target == nil || !decision.Action.Kind.NeedsPoint() {
		return nil, apperr.ExtractionError(op, "no_click_point", decision.Action.RawResponse)
	}

	return decision.Target, nil
}

// Decide runs the full cycle and also returns the parsed action, so callers can act on scroll/noop.
func (p *Planner) Decide(ctx context.Context, capture *entity.ScreenshotCapture, goal string, cfg *config.VisionConfig) (decision *entity.Decision, err error) {
	const op = "Decide"
	logger := p.logger.With(zap.String(logg.Operation, op))

	if capture == nil {
		return nil, apperr.InvalidReqError(op, "capture", errors.New("capture is required"))
	}

	ctx, step := tracing.StartSpan(ctx, p.tracer, logger, op,
		attribute.String("selector", capture.Selector),
		attribute.Int("image_width", capture.ImageWidth),
		attribute.Int("image_height", capture.ImageHeight))
	defer func() {
		step.End(err)
	}()

	state := stateCaptured
	transition := func(next cycleState) {
		logger.Debug("Cycle transition", zap.String("from", string(state)), zap.String("to", string(next)))
		step.AddEvent(string(next))
		state = next
	}

	defer func() {
		if err != nil {
			transition(stateFailed)
		}
	}()

	// A zero-size element can never be clicked, so fail before spending a model call on it.
	scale, err := geometry.ComputeScale(capture.ImageWidth, capture.ImageHeight, capture.CSSWidth, capture.CSSHeight)
	if err != nil {
		return nil, err
	}

	provider, err := p.providers.Build(cfg)
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String(logg.Provider, provider.Name()), zap.String(logg.Model, cfg.Model))

	var (
		action *entity.VisionAction
		strict bool
	)

	attempts := 0
	for attempts < maxAttempts {
		attempts++

		if strict {
			transition(stateRetryRequested)
		}

		transition(stateRequested)

		raw, err := provider.RequestAction(ctx, entity.VisionRequest{
			Image:     capture.ImageBytes,
			MediaType: "image/png",
			Messages:  BuildPrompt(goal, strict),
		})
		if err != nil {
			logger.Warn("Vision request failed", zap.Int(logg.Attempt, attempts), zap.Error(err))

			return nil, err
		}

		action, err = p.extractor.Extract(raw, capture.ImageWidth, capture.ImageHeight)
		if err == nil {
			transition(stateExtracted)

			break
		}

		if !isRetryable(err) || attempts >= maxAttempts {
			logger.Warn("Could not extract an action", zap.Int(logg.Attempt, attempts), zap.Error(err))

			return nil, err
		}

		logger.Info("Model answer unparsable, retrying with strict prompt", zap.Error(err))
		strict = true
	}

	decision = &entity.Decision{
		Action:   action,
		Scale:    scale,
		Attempts: attempts,
	}

	// Coordinates on a scroll or noop answer are ignored; only click and type resolve a target.
	if action.HasPoint && action.Kind.NeedsPoint() {
		target := geometry.NormalizedToCSSOffset(action.Point, scale, capture.ImageWidth, capture.ImageHeight)
		decision.Target = &target

		logger.Info("Click resolved",
			zap.String(logg.Action, string(action.Kind)),
			zap.Bool("clamped", action.Point.Clamped),
			zap.String("explain", target.Explain(action.Point, scale, capture)))
	} else {
		logger.Info("Action without point", zap.String(logg.Action, string(action.Kind)))
	}

	transition(stateResolved)

	return decision, nil
}

func isRetryable(err error) bool {
	switch apperr.CodeOf(err) {
	case apperr.CodeExtraction, apperr.CodeParse:
		return true
	default:
		return false
	}
}
