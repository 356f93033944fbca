package geometry

import (
	"fmt"
	"math"
	"strings"

	"vision-click/internal/entity"
	"vision-click/pkg/apperr"
)

const (
	thousandScale = 1000.0
	// unitOvershoot lets a pair that slightly leaves [0,1] still read as unit space.
	unitOvershoot = 0.05
)

// Normalize converts a raw coordinate into [0,1]. Out-of-range input is clamped and flagged.
func Normalize(rawX, rawY float64, space entity.CoordinateSpace, imageWidth, imageHeight int) (entity.NormalizedPoint, error) {
	const op = "Normalize"

	var x, y float64

	switch space {
	case entity.SpaceUnit:
		x, y = rawX, rawY
	case entity.SpacePixel:
		if imageWidth <= 0 || imageHeight <= 0 {
			return entity.NormalizedPoint{}, apperr.NormalizerError(op, "invalid_image_size",
				fmt.Errorf("pixel coordinates need a positive image size, got %dx%d", imageWidth, imageHeight))
		}

		x, y = rawX/float64(imageWidth), rawY/float64(imageHeight)
	case entity.SpaceThousand:
		x, y = rawX/thousandScale, rawY/thousandScale
	default:
		return entity.NormalizedPoint{}, apperr.NormalizerError(op, "unknown_space",
			fmt.Errorf("unknown coordinate space %q", space))
	}

	nx, clampedX := Clamp01(x)
	ny, clampedY := Clamp01(y)

	return entity.NormalizedPoint{X: nx, Y: ny, Clamped: clampedX || clampedY}, nil
}

// Clamp01 forces v into [0,1]. NaN maps to 0. The flag reports whether v changed.
func Clamp01(v float64) (float64, bool) {
	switch {
	case math.IsNaN(v):
		return 0, true
	case v < 0:
		return 0, true
	case v > 1:
		return 1, true
	default:
		return v, false
	}
}

// InferSpace guesses the space of an undeclared coordinate pair.
//
// This is a heuristic: (0.8, 0.4) is read as unit space even though it is also a valid pixel
// position on a tiny image. Edge overshoot such as (-0.02, 0.5) is still unit space and gets
// clamped later. An explicit space from the provider always wins over this guess.
func InferSpace(rawX, rawY float64) entity.CoordinateSpace {
	within := func(v, lo, hi float64) bool { return v >= lo && v <= hi }

	if within(rawX, -unitOvershoot, 1+unitOvershoot) && within(rawY, -unitOvershoot, 1+unitOvershoot) {
		return entity.SpaceUnit
	}

	if within(rawX, 0, thousandScale) && within(rawY, 0, thousandScale) {
		return entity.SpaceThousand
	}

	return entity.SpacePixel
}

// ParseSpace maps a provider-declared space name to a CoordinateSpace.
func ParseSpace(name string) (entity.CoordinateSpace, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "normalized", "normalised", "unit", "0-1", "relative":
		return entity.SpaceUnit, true
	case "pixel", "pixels", "px", "absolute":
		return entity.SpacePixel, true
	case "0-1000", "grid1000", "thousand", "1000":
		return entity.SpaceThousand, true
	default:
		return "", false
	}
}
