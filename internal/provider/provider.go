// Package provider holds the vision model adapters. Each adapter sends one screenshot plus prompt and
// returns the model's raw text without interpreting it.
package provider

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"vision-click/internal/config"
	"vision-click/internal/entity"
	"vision-click/internal/ports"
	"vision-click/pkg/apperr"
	"vision-click/pkg/logg"
)

const (
	NameOpenAI = "openai"
	NameZhipu  = "zhipu"
	NameStatic = "none"

	openAIBaseURL = "https://api.openai.com/v1"
	zhipuBaseURL  = "https://open.bigmodel.cn/api/paas/v4"

	factoryName = "ProviderFactory"
)

type Factory struct {
	logger *zap.Logger
}

type Params struct {
	fx.In

	Logger *zap.Logger
}

func NewFactory(params Params) *Factory {
	return &Factory{
		logger: params.Logger.With(zap.String(logg.Layer, factoryName)),
	}
}

// Build returns the adapter named by cfg.Provider. Unknown names are a configuration error.
func (f *Factory) Build(cfg *config.VisionConfig) (ports.VisionProvider, error) {
	const op = "Build"

	if cfg == nil {
		return nil, apperr.ConfigurationError(op, "missing_vision_config")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case NameOpenAI:
		return NewOpenAI(cfg, f.logger), nil
	case NameZhipu, "zai", "glm":
		return NewZhipu(cfg, f.logger), nil
	case NameStatic, "static":
		return NewStatic(f.logger), nil
	default:
		return nil, apperr.Wrap(op, apperr.CodeConfiguration, fmt.Errorf("unknown provider %q", cfg.Provider), map[string]any{
			apperr.MetaReason:   "unknown_provider",
			apperr.MetaStage:    apperr.StagePreparation,
			apperr.MetaProvider: cfg.Provider,
		})
	}
}

func NewOpenAI(cfg *config.VisionConfig, logger *zap.Logger) *OpenAICompat {
	return newOpenAICompat(NameOpenAI, openAIBaseURL, cfg, logger)
}

// NewZhipu targets the GLM vision models on the BigModel platform.
func NewZhipu(cfg *config.VisionConfig, logger *zap.Logger) *OpenAICompat {
	return newOpenAICompat(NameZhipu, zhipuBaseURL, cfg, logger)
}

// staticResponse is a center prediction for smoke runs without a model.
const staticResponse = `{"version":"1.0","coords":{"space":"normalized","x":0.5,"y":0.5},"why":"center","confidence":0.1}`

// Static answers every request with a fixed center prediction and never touches the network.
type Static struct {
	logger *zap.Logger
}

func NewStatic(logger *zap.Logger) *Static {
	return &Static{logger: logger.With(zap.String(logg.Provider, NameStatic))}
}

func (s *Static) Name() string {
	return NameStatic
}

func (s *Static) RequestAction(_ context.Context, req entity.VisionRequest) (string, error) {
	s.logger.Debug("Static provider answering with center prediction", zap.Int("image_bytes", len(req.Image)))

	return staticResponse, nil
}
