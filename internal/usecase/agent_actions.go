package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"vision-click/internal/entity"
	"vision-click/pkg/apperr"
	"vision-click/pkg/logg"
	"vision-click/pkg/tracing"
)

// runStep performs one observe, decide, act round. A returned error ends the task; planner
// failures that a fallback recovered from are only recorded on the step.
func (s *AgentService) runStep(ctx context.Context, stop <-chan struct{}, number int, goal string) (taskStep entity.Step, err error) {
	const op = "runStep"
	selector := s.config.AgentConfig.Selector
	logger := s.logger.With(zap.String(logg.Operation, op), zap.Int(logg.Step, number), zap.String(logg.Selector, selector))

	ctx, span := tracing.StartSpan(ctx, s.tracer, logger, op, attribute.Int("step", number))
	defer func() {
		span.End(err)
	}()

	taskStep = entity.Step{
		ID:        uuid.New(),
		Number:    number,
		Timestamp: time.Now(),
	}

	defer func() {
		if err != nil {
			taskStep.Success = false
			taskStep.Error = err.Error()
		}
	}()

	taskStep.PrevURL = s.currentURL(ctx, logger)

	span.AddEvent("capturing element")

	capture, err := s.browser.CaptureElement(ctx, selector)
	if err != nil {
		return taskStep, err
	}

	span.AddEvent("deciding")

	decision, err := s.planner.Decide(ctx, capture, goal, s.config.VisionConfig)
	if err != nil {
		if isFatal(err) {
			return taskStep, err
		}

		logger.Warn("Vision decision failed, using fallback", zap.String("code", apperr.CodeOf(err)), zap.Error(err))
		taskStep.VisionError = err.Error()

		if err := s.fallback(ctx, &taskStep, selector, goal, err); err != nil {
			return taskStep, err
		}
	} else if err := s.act(ctx, &taskStep, selector, decision); err != nil {
		return taskStep, err
	}

	taskStep.Success = true

	wait(ctx, stop, s.config.AgentConfig.StepDelay)

	taskStep.PostURL = s.currentURL(ctx, logger)
	taskStep.Navigated = taskStep.PrevURL != "" && taskStep.PostURL != "" && taskStep.PrevURL != taskStep.PostURL

	logger.Info("Step done",
		zap.String("strategy", string(taskStep.Strategy)),
		zap.String("description", taskStep.Description),
		zap.Bool("navigated", taskStep.Navigated))

	return taskStep, nil
}

func (s *AgentService) act(ctx context.Context, taskStep *entity.Step, selector string, decision *entity.Decision) error {
	taskStep.Action = decision.Action

	switch decision.Action.Kind {
	case entity.ActionClick, entity.ActionType:
		if decision.Target == nil {
			return apperr.ExtractionError("act", "no_click_point", decision.Action.RawResponse)
		}

		taskStep.Strategy = entity.StrategyVision
		taskStep.Target = decision.Target
		taskStep.Description = describeTarget(decision.Target)

		return s.browser.ClickTarget(ctx, selector, *decision.Target)
	case entity.ActionScroll:
		amount := s.config.AgentConfig.ScrollAmount
		taskStep.Strategy = entity.StrategyScroll
		taskStep.Description = fmt.Sprintf("scroll %d", amount)

		return s.browser.Scroll(ctx, amount)
	default:
		taskStep.Strategy = entity.StrategyNoop
		taskStep.Description = "no action"

		return nil
	}
}

// fallback tries the DOM keyword click and then the element center, in that order, as enabled.
// It returns visionErr when no fallback is enabled.
func (s *AgentService) fallback(ctx context.Context, taskStep *entity.Step, selector, goal string, visionErr error) error {
	cfg := s.config.AgentConfig
	lastErr := visionErr

	if cfg.DOMFallback {
		text, err := s.browser.ClickDOMKeyword(ctx, selector, goal)
		if err == nil {
			taskStep.Strategy = entity.StrategyDOMFallback
			taskStep.Description = fmt.Sprintf("link %q", text)

			return nil
		}

		s.logger.Warn("DOM keyword fallback failed", zap.Error(err))
		lastErr = err
	}

	if cfg.CenterFallback {
		if err := s.browser.ClickCenter(ctx, selector); err != nil {
			return err
		}

		taskStep.Strategy = entity.StrategyCenter
		taskStep.Description = "element center"

		return nil
	}

	return lastErr
}

func (s *AgentService) currentURL(ctx context.Context, logger *zap.Logger) string {
	url, err := s.browser.CurrentURL(ctx)
	if err != nil {
		logger.Debug("Current URL unavailable", zap.Error(err))

		return ""
	}

	return url
}

// isFatal reports planner failures that no fallback can help with: a misconfigured provider or an
// element without area.
func isFatal(err error) bool {
	return apperr.IsCode(err, apperr.CodeConfiguration) || apperr.IsCode(err, apperr.CodeGeometry)
}
