// Package extract turns free-form vision model output into a structured VisionAction.
//
// Model text is tried against an ordered fallback chain: the whole text as JSON, fenced code
// blocks, balanced-brace objects, and finally a coordinate regex. The first strategy that yields a
// usable action wins; when none does, Extract fails rather than guessing a point.
package extract

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"vision-click/internal/entity"
	"vision-click/internal/geometry"
	"vision-click/pkg/apperr"
	"vision-click/pkg/logg"
)

const extractorName = "Extractor"

type Extractor struct {
	logger *zap.Logger
}

type Params struct {
	fx.In

	Logger *zap.Logger
}

func NewExtractor(params Params) *Extractor {
	return &Extractor{
		logger: params.Logger.With(zap.String(logg.Layer, extractorName)),
	}
}

// strategy yields JSON candidates from the model text, in the order they should be tried.
type strategy struct {
	name       string
	candidates func(text string) []string
}

var jsonStrategies = []strategy{
	{name: "direct", candidates: func(text string) []string { return []string{text} }},
	{name: "fenced_block", candidates: fencedBlocks},
	{name: "brace_match", candidates: balancedObjects},
}

const num = `[-+]?(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][-+]?\d+)?`

var (
	fencePattern = regexp.MustCompile("(?s)(?:```|~~~)[A-Za-z0-9_-]*[ \t]*\r?\n?(.*?)(?:```|~~~)")

	pairPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)["']?\bx["']?\s*[:=]\s*["']?(` + num + `)["']?\s*[,;]?\s*["']?\by["']?\s*[:=]\s*["']?(` + num + `)`),
		regexp.MustCompile(`\(\s*(` + num + `)\s*,\s*(` + num + `)\s*\)`),
		regexp.MustCompile(`\[\s*(` + num + `)\s*,\s*(` + num + `)\s*\]`),
	}

	confidencePattern = regexp.MustCompile(`(?i)confidence["']?\s*[:=]\s*["']?(` + num + `)`)
)

// Extract parses raw model text into an action. The image size is needed for pixel-space coordinates.
func (e *Extractor) Extract(raw string, imageWidth, imageHeight int) (*entity.VisionAction, error) {
	const op = "Extract"
	logger := e.logger.With(zap.String(logg.Operation, op))

	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, apperr.ExtractionError(op, "empty_response", raw)
	}

	for _, s := range jsonStrategies {
		for _, candidate := range s.candidates(text) {
			obj, ok := decodeObject(candidate)
			if !ok {
				continue
			}

			action, err := e.fromObject(obj, raw, imageWidth, imageHeight)
			if errors.Is(err, errAbsent) {
				logger.Debug("JSON candidate has no usable point", zap.String("strategy", s.name))

				continue
			}

			if err != nil {
				return nil, err
			}

			logger.Debug("Response extracted", zap.String("strategy", s.name), zap.String("action", string(action.Kind)))

			return action, nil
		}
	}

	if action, ok, err := e.fromRegex(text, raw, imageWidth, imageHeight); ok || err != nil {
		if err == nil {
			logger.Debug("Response extracted", zap.String("strategy", "regex"))
		}

		return action, err
	}

	logger.Warn("No coordinates found in model response", zap.String("raw_excerpt", apperr.Excerpt(raw)))

	return nil, apperr.ExtractionError(op, "no_coordinates_found", raw)
}

func (e *Extractor) fromObject(obj object, raw string, imageWidth, imageHeight int) (*entity.VisionAction, error) {
	const op = "fromObject"

	kind, declared := actionKind(obj)

	action := &entity.VisionAction{
		Kind:        kind,
		Rationale:   firstString(obj, rationaleKeys),
		RawResponse: raw,
	}

	if c, ok := firstNumber(obj, confidenceKeys); ok {
		c, _ = geometry.Clamp01(c)
		action.Confidence = &c
	}

	pair, schema, err := resolvePair(obj)
	switch {
	case errors.Is(err, errAbsent):
		if declared && !kind.NeedsPoint() {
			return action, nil
		}

		return nil, errAbsent
	case err != nil:
		var fe *fieldError
		field := "coords"
		if errors.As(err, &fe) {
			field = fe.field
		}

		return nil, apperr.ParseError(op, field, err)
	}

	space, ok := geometry.ParseSpace(pair.Space)
	if !ok {
		if pair.Space != "" {
			e.logger.Warn("Unknown coordinate space, inferring", zap.String("space", pair.Space))
		}

		space = geometry.InferSpace(pair.X, pair.Y)
	}

	if err := e.attachPoint(action, pair.X, pair.Y, space, imageWidth, imageHeight); err != nil {
		return nil, err
	}

	e.logger.Debug("Point resolved", zap.String("schema", schema), zap.String("space", string(space)))

	return action, nil
}

func resolvePair(obj object) (rawPair, string, error) {
	for _, schema := range pointSchemas {
		pair, err := schema.resolve(obj)
		if errors.Is(err, errAbsent) {
			continue
		}

		if pair.Space == "" {
			pair.Space = stringField(obj, "space")
		}

		return pair, schema.name, err
	}

	return rawPair{}, "", errAbsent
}

func (e *Extractor) fromRegex(text, raw string, imageWidth, imageHeight int) (*entity.VisionAction, bool, error) {
	for _, pattern := range pairPatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		x, errX := strconv.ParseFloat(m[1], 64)
		y, errY := strconv.ParseFloat(m[2], 64)
		if errX != nil || errY != nil {
			continue
		}

		action := &entity.VisionAction{
			Kind:        entity.ActionClick,
			RawResponse: raw,
		}

		if c := confidencePattern.FindStringSubmatch(text); c != nil {
			if f, err := strconv.ParseFloat(c[1], 64); err == nil {
				f, _ = geometry.Clamp01(f)
				action.Confidence = &f
			}
		}

		if err := e.attachPoint(action, x, y, geometry.InferSpace(x, y), imageWidth, imageHeight); err != nil {
			return nil, false, err
		}

		return action, true, nil
	}

	return nil, false, nil
}

func (e *Extractor) attachPoint(action *entity.VisionAction, x, y float64, space entity.CoordinateSpace, imageWidth, imageHeight int) error {
	point, err := geometry.Normalize(x, y, space, imageWidth, imageHeight)
	if err != nil {
		return err
	}

	if point.Clamped {
		e.logger.Warn("Model coordinates out of range, clamped",
			zap.Float64("raw_x", x),
			zap.Float64("raw_y", y),
			zap.String("space", string(space)),
			zap.Float64("x", point.X),
			zap.Float64("y", point.Y))
	}

	action.Point = point
	action.HasPoint = true
	action.Space = space

	return nil
}

func fencedBlocks(text string) []string {
	matches := fencePattern.FindAllStringSubmatch(text, -1)

	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, strings.TrimSpace(m[1]))
	}

	return blocks
}

// balancedObjects returns every top-level {...} span in text. Braces inside JSON strings are ignored.
func balancedObjects(text string) []string {
	var (
		objects []string
		depth   int
		start   = -1
		inStr   bool
		escaped bool
	)

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if inStr {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inStr = false
			}

			continue
		}

		switch ch {
		case '"':
			if depth > 0 {
				inStr = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}

			depth--
			if depth == 0 && start >= 0 {
				objects = append(objects, text[start:i+1])
				start = -1
			}
		}
	}

	return objects
}
