package bootstrap

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"vision-click/internal/config"
)

const serviceName = "vision-click"

// newTraceProvider writes spans as JSON to TRACE_FILE. Without it spans are still created, so span
// events stay visible to in-process processors, but nothing is exported. Stdout is kept for the console.
func newTraceProvider(lc fx.Lifecycle, conf *config.Config, logger *zap.Logger) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	options := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	var traceFile *os.File

	if path := conf.AppConfig.TraceFile; path != "" {
		traceFile, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}

		exporter, err := stdouttrace.New(
			stdouttrace.WithWriter(traceFile),
		)
		if err != nil {
			_ = traceFile.Close()

			return nil, err
		}

		options = append(options, sdktrace.WithBatcher(exporter))
		logger.Info("Exporting traces", zap.String("path", path))
	}

	tp := sdktrace.NewTracerProvider(options...)

	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			err := tp.Shutdown(ctx)

			if traceFile != nil {
				if closeErr := traceFile.Close(); closeErr != nil && err == nil {
					err = closeErr
				}
			}

			return err
		},
	})

	return tp, nil
}
