package provider

import (
	"slices"
	"strings"
	"unicode"

	"vision-click/internal/config"
	"vision-click/pkg/apperr"
)

// CheckModelPolicy rejects models the operator has not enabled. It runs before any request is built.
func CheckModelPolicy(cfg *config.VisionConfig) error {
	const op = "CheckModelPolicy"

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return apperr.ConfigurationError(op, "missing_model")
	}

	if len(cfg.AllowedModels) > 0 && !slices.Contains(cfg.AllowedModels, model) {
		return apperr.ConfigurationError(op, "model_not_allowed")
	}

	if isProModel(model) && !cfg.AllowProModels {
		return apperr.ConfigurationError(op, "pro_model_disabled")
	}

	return nil
}

// isProModel matches "pro" as a whole name segment: gemini-1.5-pro, o1-pro, but not prompt-v2.
func isProModel(model string) bool {
	segments := strings.FieldsFunc(strings.ToLower(model), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	return slices.Contains(segments, "pro")
}
