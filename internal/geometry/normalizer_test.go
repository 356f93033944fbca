package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"vision-click/internal/entity"
	"vision-click/pkg/apperr"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		x, y        float64
		space       entity.CoordinateSpace
		w, h        int
		wantX       float64
		wantY       float64
		wantClamped bool
	}{
		{name: "unit pass-through", x: 0.42, y: 0.71, space: entity.SpaceUnit, wantX: 0.42, wantY: 0.71},
		{name: "unit negative clamps", x: -0.3, y: 0.5, space: entity.SpaceUnit, wantX: 0, wantY: 0.5, wantClamped: true},
		{name: "unit overshoot clamps", x: 0.5, y: 1.2, space: entity.SpaceUnit, wantX: 0.5, wantY: 1, wantClamped: true},
		{name: "pixel center", x: 640, y: 400, space: entity.SpacePixel, w: 1280, h: 800, wantX: 0.5, wantY: 0.5},
		{name: "pixel beyond image", x: 1200, y: 300, space: entity.SpacePixel, w: 1000, h: 1000, wantX: 1, wantY: 0.3, wantClamped: true},
		{name: "thousand", x: 430, y: 710, space: entity.SpaceThousand, wantX: 0.43, wantY: 0.71},
		{name: "thousand overshoot", x: 1500, y: 0, space: entity.SpaceThousand, wantX: 1, wantY: 0, wantClamped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Normalize(tt.x, tt.y, tt.space, tt.w, tt.h)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantX, p.X, 1e-12)
			assert.InDelta(t, tt.wantY, p.Y, 1e-12)
			assert.Equal(t, tt.wantClamped, p.Clamped)
		})
	}
}

func TestNormalize_PixelWithoutImageSize(t *testing.T) {
	_, err := Normalize(10, 10, entity.SpacePixel, 0, 100)
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeNormalizer))

	_, err = Normalize(10, 10, entity.SpaceUnit, 0, 0)
	assert.NoError(t, err, "unit space does not need the image size")
}

func TestNormalize_UnknownSpace(t *testing.T) {
	_, err := Normalize(0.1, 0.1, entity.CoordinateSpace("polar"), 10, 10)
	assert.True(t, apperr.IsCode(err, apperr.CodeNormalizer))
}

func TestInferSpace(t *testing.T) {
	assert.Equal(t, entity.SpaceUnit, InferSpace(0.8, 0.2))
	assert.Equal(t, entity.SpaceUnit, InferSpace(1, 0))
	assert.Equal(t, entity.SpaceThousand, InferSpace(430, 710))
	assert.Equal(t, entity.SpaceThousand, InferSpace(0.5, 2))
	assert.Equal(t, entity.SpacePixel, InferSpace(1200, 300))
	assert.Equal(t, entity.SpacePixel, InferSpace(-5, 0.5))
}

func TestInferSpace_EdgeOvershootStaysUnit(t *testing.T) {
	assert.Equal(t, entity.SpaceUnit, InferSpace(-0.02, 0.5))
	assert.Equal(t, entity.SpaceUnit, InferSpace(0.4, 1.03))
	assert.Equal(t, entity.SpaceThousand, InferSpace(0.4, 1.2))

	p, err := Normalize(-0.02, 0.5, InferSpace(-0.02, 0.5), 1280, 800)
	require.NoError(t, err)
	assert.Equal(t, entity.NormalizedPoint{X: 0, Y: 0.5, Clamped: true}, p)
}

func TestParseSpace(t *testing.T) {
	for name, want := range map[string]entity.CoordinateSpace{
		"normalized": entity.SpaceUnit,
		" Pixel ":    entity.SpacePixel,
		"px":         entity.SpacePixel,
		"0-1000":     entity.SpaceThousand,
		"grid1000":   entity.SpaceThousand,
	} {
		got, ok := ParseSpace(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	_, ok := ParseSpace("degrees")
	assert.False(t, ok)
}

func TestNormalize_ClampTotality(t *testing.T) {
	spaces := []entity.CoordinateSpace{entity.SpaceUnit, entity.SpacePixel, entity.SpaceThousand}

	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Float64().Draw(t, "x")
		y := rapid.Float64().Draw(t, "y")
		space := rapid.SampledFrom(spaces).Draw(t, "space")
		w := rapid.IntRange(1, 10000).Draw(t, "w")
		h := rapid.IntRange(1, 10000).Draw(t, "h")

		p, err := Normalize(x, y, space, w, h)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 || math.IsNaN(p.X) || math.IsNaN(p.Y) {
			t.Fatalf("point %+v escaped [0,1]", p)
		}
	})
}

func TestNormalize_PixelCenterRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w := rapid.IntRange(1, 10000).Draw(t, "w")
		h := rapid.IntRange(1, 10000).Draw(t, "h")

		p, err := Normalize(float64(w)/2, float64(h)/2, entity.SpacePixel, w, h)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if math.Abs(p.X-0.5) > 1e-12 || math.Abs(p.Y-0.5) > 1e-12 || p.Clamped {
			t.Fatalf("center of %dx%d normalized to %+v", w, h, p)
		}
	})
}

func TestNormalize_UnitIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Float64Range(0, 1).Draw(t, "x")
		y := rapid.Float64Range(0, 1).Draw(t, "y")

		p, err := Normalize(x, y, entity.SpaceUnit, 0, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if p.X != x || p.Y != y || p.Clamped {
			t.Fatalf("unit point (%v,%v) changed to %+v", x, y, p)
		}
	})
}
