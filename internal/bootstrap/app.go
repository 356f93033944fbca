package bootstrap

import (
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	"vision-click/internal/browser"
	"vision-click/internal/config"
	"vision-click/internal/console"
	"vision-click/internal/extract"
	"vision-click/internal/planner"
	"vision-click/internal/ports"
	"vision-click/internal/provider"
	"vision-click/internal/usecase"
)

func NewApp() *fx.App {
	return fx.New(
		fx.Provide(
			config.GetConfig,
			config.ProvideVision,
			newLogger,
			newTraceProvider,

			fx.Annotate(browser.NewManager, fx.As(new(ports.BrowserDriver))),
			fx.Annotate(extract.NewExtractor, fx.As(new(ports.ResponseExtractor))),
			fx.Annotate(provider.NewFactory, fx.As(new(ports.VisionProviderFactory))),
			fx.Annotate(planner.NewPlanner, fx.As(new(ports.ClickPlanner))),

			usecase.NewUsecase,

			console.NewInterface,
		),

		fx.Invoke(
			// The tracer provider registers itself globally, so it only has to be constructed.
			func(*sdktrace.TracerProvider) {},
			checkVisionConfig,
			runConsole,
		),

		fx.StartTimeout(2*time.Minute),
	)
}
