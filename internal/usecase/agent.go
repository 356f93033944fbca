package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"vision-click/internal/config"
	"vision-click/internal/entity"
	"vision-click/internal/ports"
	"vision-click/pkg/apperr"
	"vision-click/pkg/logg"
	"vision-click/pkg/tracing"
)

const (
	agentServiceName = "AgentService"
	agentTracer      = "usecase.agent"
)

// AgentService repeats observe, decide, act on one element until a step navigates or the step
// budget runs out.
type AgentService struct {
	config   *config.Config
	logger   *zap.Logger
	browser  ports.BrowserDriver
	planner  ports.ClickPlanner
	tracer   trace.Tracer
	mu       sync.Mutex
	stopChan chan struct{}
	running  bool
}

type AgentServiceParams struct {
	fx.In

	Config  *config.Config
	Logger  *zap.Logger
	Browser ports.BrowserDriver
	Planner ports.ClickPlanner
}

func NewAgentService(params AgentServiceParams) *AgentService {
	return &AgentService{
		config:   params.Config,
		logger:   params.Logger.With(zap.String(logg.Layer, agentServiceName)),
		browser:  params.Browser,
		planner:  params.Planner,
		tracer:   otel.Tracer(agentTracer),
		stopChan: make(chan struct{}),
		running:  false,
	}
}

// Execute opens startURL when it is not empty and works toward goal on the current page.
// The returned task is non-nil whenever the loop started, including on failure.
func (s *AgentService) Execute(ctx context.Context, startURL string, goal string) (task *entity.Task, err error) {
	const op = "Execute"
	logger := s.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, s.tracer, logger, op,
		attribute.String("goal", goal),
		attribute.String("start_url", startURL))
	defer func() {
		step.End(err)
	}()

	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, apperr.InvalidReqError(op, "goal", errors.New("goal cannot be empty"))
	}

	agentCfg := s.config.AgentConfig

	task = &entity.Task{
		ID:        uuid.New(),
		Goal:      goal,
		StartURL:  startURL,
		Status:    entity.TaskStatusInProgress,
		CreatedAt: time.Now(),
		Steps:     make([]entity.Step, 0, agentCfg.MaxSteps),
	}

	logger = logger.With(zap.String(logg.TaskID, task.ID.String()))
	step.AddEvent("task created")

	fail := func(err error) (*entity.Task, error) {
		task.Status = entity.TaskStatusFailed
		task.Error = err.Error()
		completedAt := time.Now()
		task.CompletedAt = &completedAt

		return task, err
	}

	if !s.browser.IsReady() {
		return fail(apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready"))
	}

	if startURL != "" {
		if err := s.browser.Navigate(ctx, startURL); err != nil {
			return fail(err)
		}
	}

	stop := s.begin()
	defer s.finish()

	for number := 1; number <= agentCfg.MaxSteps; number++ {
		select {
		case <-ctx.Done():
			return fail(apperr.Wrap(op, apperr.CodeCancelledByUser, ctx.Err(), map[string]any{
				apperr.MetaReason: "context_cancelled",
			}))
		case <-stop:
			return fail(apperr.WrapErrorWithReason(op, apperr.CodeCancelledByUser, "stopped_by_user"))
		default:
		}

		taskStep, err := s.runStep(ctx, stop, number, goal)
		task.Steps = append(task.Steps, taskStep)

		if err != nil {
			logger.Error("Step aborted the task", zap.Int(logg.Step, number), zap.Error(err))

			return fail(err)
		}

		if taskStep.Navigated && agentCfg.StopOnNavigation {
			logger.Info("Page navigated, stopping", zap.String(logg.URL, taskStep.PostURL))
			task.Status = entity.TaskStatusNavigated

			break
		}
	}

	if task.Status == entity.TaskStatusInProgress {
		task.Status = entity.TaskStatusCompleted
	}

	completedAt := time.Now()
	task.CompletedAt = &completedAt
	step.AddEvent("task finished", attribute.String("status", string(task.Status)))

	logger.Info("Task finished", zap.String("status", string(task.Status)), zap.Int("steps", len(task.Steps)))

	return task, nil
}

// Stop interrupts a running Execute between steps. It is safe to call at any time.
func (s *AgentService) Stop() {
	const op = "Stop"
	logger := s.logger.With(zap.String(logg.Operation, op))

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	logger.Info("Stopping agent...")

	s.running = false
	close(s.stopChan)
}

func (s *AgentService) begin() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopChan = make(chan struct{})
	s.running = true

	return s.stopChan
}

func (s *AgentService) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
}

// wait sleeps for d unless the context ends or the agent is stopped first.
func wait(ctx context.Context, stop <-chan struct{}, d time.Duration) {
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-stop:
	case <-timer.C:
	}
}

func describeTarget(t *entity.ClickTarget) string {
	return fmt.Sprintf("offset (%.1f, %.1f)", t.OffsetX, t.OffsetY)
}
