package bootstrap

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"vision-click/internal/config"
	"vision-click/internal/console"
	"vision-click/internal/ports"
	"vision-click/internal/provider"
)

// checkVisionConfig surfaces provider misconfiguration at startup instead of on the first step.
func checkVisionConfig(vision *config.VisionConfig, logger *zap.Logger) {
	if vision.Provider == provider.NameStatic {
		logger.Warn("Vision provider disabled, every prediction is the element center")

		return
	}

	if err := provider.CheckModelPolicy(vision); err != nil {
		logger.Warn("Vision model rejected by policy, steps will fail", zap.String("model", vision.Model), zap.Error(err))
	}

	if vision.APIKey == "" {
		logger.Warn("VISION_API_KEY is empty, steps will fail before reaching the provider")
	}
}

func runConsole(lc fx.Lifecycle, shutdowner fx.Shutdowner, consoleInterface *console.Interface, browser ports.BrowserDriver, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting vision-click console...")

			if err := browser.Launch(ctx); err != nil {
				logger.Error("Failed to launch browser", zap.Error(err))

				return err
			}

			go func() {
				if err := consoleInterface.Start(); err != nil {
					logger.Error("Console interface error", zap.Error(err))
				}

				if err := shutdowner.Shutdown(); err != nil {
					logger.Error("Failed to request shutdown", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down...")

			if err := consoleInterface.Stop(); err != nil {
				logger.Error("Failed to stop console", zap.Error(err))
			}

			if err := browser.Close(ctx); err != nil {
				logger.Error("Failed to close browser", zap.Error(err))
			}

			return nil
		},
	})
}
