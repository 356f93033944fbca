// Package geometry converts model coordinates into element-relative CSS click offsets.
//
// Screenshots are captured in device pixels while clicks are dispatched in CSS pixels, so every
// coordinate passes through a normalized [0,1] form and a per-axis scale before it reaches the driver.
package geometry

import (
	"fmt"
	"math"

	"vision-click/internal/entity"
	"vision-click/pkg/apperr"
)

// ComputeScale returns the factors that turn image pixels into CSS pixels.
func ComputeScale(imageWidth, imageHeight int, cssWidth, cssHeight float64) (entity.ScaleFactors, error) {
	const op = "ComputeScale"

	if imageWidth <= 0 || imageHeight <= 0 {
		return entity.ScaleFactors{}, apperr.GeometryError(op, "invalid_image_size",
			fmt.Errorf("image size must be positive, got %dx%d", imageWidth, imageHeight))
	}

	if !isFinite(cssWidth) || !isFinite(cssHeight) {
		return entity.ScaleFactors{}, apperr.GeometryError(op, "non_finite_css_size",
			fmt.Errorf("css size must be finite, got %vx%v", cssWidth, cssHeight))
	}

	if cssWidth <= 0 || cssHeight <= 0 {
		return entity.ScaleFactors{}, apperr.GeometryError(op, "empty_element",
			fmt.Errorf("css size must be positive, got %vx%v", cssWidth, cssHeight))
	}

	scale := entity.ScaleFactors{
		ImageToCSSX: cssWidth / float64(imageWidth),
		ImageToCSSY: cssHeight / float64(imageHeight),
	}

	// Subnormal CSS sizes over huge images can underflow to zero.
	if scale.ImageToCSSX <= 0 || scale.ImageToCSSY <= 0 || !isFinite(scale.ImageToCSSX) || !isFinite(scale.ImageToCSSY) {
		return entity.ScaleFactors{}, apperr.GeometryError(op, "degenerate_scale",
			fmt.Errorf("scale %vx%v is not usable", scale.ImageToCSSX, scale.ImageToCSSY))
	}

	return scale, nil
}

// NormalizedToCSSOffset maps p onto the image, then into CSS pixels, clamped to the element box.
func NormalizedToCSSOffset(p entity.NormalizedPoint, scale entity.ScaleFactors, imageWidth, imageHeight int) entity.ClickTarget {
	px := p.X * float64(imageWidth)
	py := p.Y * float64(imageHeight)

	cssWidth := float64(imageWidth) * scale.ImageToCSSX
	cssHeight := float64(imageHeight) * scale.ImageToCSSY

	return entity.ClickTarget{
		OffsetX: clamp(px*scale.ImageToCSSX, 0, cssWidth),
		OffsetY: clamp(py*scale.ImageToCSSY, 0, cssHeight),
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
