package usecase

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"vision-click/internal/config"
	"vision-click/internal/ports"
	"vision-click/internal/usecase/adapters"
)

type Service struct {
	Agent   adapters.AgentService
	Browser adapters.BrowserService
	Planner adapters.PlannerService
}

type Params struct {
	fx.In

	Logger  *zap.Logger
	Config  *config.Config
	Browser ports.BrowserDriver
	Planner ports.ClickPlanner
}

func NewUsecase(params Params) *Service {
	factory := newServiceFactory(params)

	return &Service{
		Agent:   factory.CreateAgentService(),
		Browser: factory.CreateBrowserService(),
		Planner: factory.CreatePlannerService(),
	}
}
