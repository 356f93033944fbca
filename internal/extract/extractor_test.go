package extract

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"vision-click/internal/entity"
	"vision-click/pkg/apperr"
)

func newTestExtractor() *Extractor {
	return NewExtractor(Params{Logger: zap.NewNop()})
}

func TestExtract_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		w, h     int
		wantX    float64
		wantY    float64
		wantKind entity.ActionKind
		wantConf *float64
		wantWhy  string
		clamped  bool
		space    entity.CoordinateSpace
	}{
		{
			name:     "strict coords with confidence",
			raw:      `{"coords":{"x":0.5,"y":0.5},"confidence":0.9}`,
			w:        1280,
			h:        800,
			wantX:    0.5,
			wantY:    0.5,
			wantKind: entity.ActionClick,
			wantConf: ptr(0.9),
			space:    entity.SpaceUnit,
		},
		{
			name:     "prose wrapper with explicit pixel space",
			raw:      `Here is my answer: {"x": 250, "y": 750, "space":"pixel"}`,
			w:        1000,
			h:        1000,
			wantX:    0.25,
			wantY:    0.75,
			wantKind: entity.ActionClick,
			space:    entity.SpacePixel,
		},
		{
			name:     "fenced block with coordinates alias",
			raw:      "```json\n{\"coordinates\":{\"x\":0.1,\"y\":0.9}}\n```",
			w:        640,
			h:        480,
			wantX:    0.1,
			wantY:    0.9,
			wantKind: entity.ActionClick,
			space:    entity.SpaceUnit,
		},
		{
			name:     "undeclared pixel beyond thousand is clamped",
			raw:      `{"x": 1200, "y": 300}`,
			w:        1000,
			h:        1000,
			wantX:    1.0,
			wantY:    0.3,
			wantKind: entity.ActionClick,
			clamped:  true,
			space:    entity.SpacePixel,
		},
		{
			name:     "undeclared thousand space",
			raw:      `{"x": 430, "y": 710}`,
			w:        1920,
			h:        1080,
			wantX:    0.43,
			wantY:    0.71,
			wantKind: entity.ActionClick,
			space:    entity.SpaceThousand,
		},
		{
			name:     "regex over plain text",
			raw:      `The button is at x=430, y=710 on the grid.`,
			w:        1920,
			h:        1080,
			wantX:    0.43,
			wantY:    0.71,
			wantKind: entity.ActionClick,
			space:    entity.SpaceThousand,
		},
		{
			name:     "regex over parenthesized pair",
			raw:      `I would click (0.42, 0.71) with confidence: 0.6`,
			w:        100,
			h:        100,
			wantX:    0.42,
			wantY:    0.71,
			wantKind: entity.ActionClick,
			wantConf: ptr(0.6),
			space:    entity.SpaceUnit,
		},
		{
			name:     "nested braces inside strings",
			raw:      `prefix {"why":"uses braces } inside string { not real }","coords":{"space":"normalized","x":0.1,"y":0.9}} suffix`,
			w:        10,
			h:        10,
			wantX:    0.1,
			wantY:    0.9,
			wantKind: entity.ActionClick,
			wantWhy:  "uses braces } inside string { not real }",
			space:    entity.SpaceUnit,
		},
		{
			name:     "type verb and numeric strings",
			raw:      `{"action":"TYPE","coords":{"x":"0.3","y":"0.4","space":"normalized"},"rationale":"search box"}`,
			w:        10,
			h:        10,
			wantX:    0.3,
			wantY:    0.4,
			wantKind: entity.ActionType,
			wantWhy:  "search box",
			space:    entity.SpaceUnit,
		},
		{
			name:     "array coords in grid space",
			raw:      `{"coords":[500,250],"space":"0-1000"}`,
			w:        10,
			h:        10,
			wantX:    0.5,
			wantY:    0.25,
			wantKind: entity.ActionClick,
			space:    entity.SpaceThousand,
		},
		{
			name:     "unknown verb defaults to click",
			raw:      `{"action":"double_tap","x":0.2,"y":0.2}`,
			w:        10,
			h:        10,
			wantX:    0.2,
			wantY:    0.2,
			wantKind: entity.ActionClick,
			space:    entity.SpaceUnit,
		},
		{
			name:     "first object without point is skipped",
			raw:      `Plan: {"step":1} then {"coords":{"x":0.7,"y":0.2}}`,
			w:        10,
			h:        10,
			wantX:    0.7,
			wantY:    0.2,
			wantKind: entity.ActionClick,
			space:    entity.SpaceUnit,
		},
	}

	e := newTestExtractor()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := e.Extract(tt.raw, tt.w, tt.h)
			require.NoError(t, err)
			require.True(t, action.HasPoint)

			assert.InDelta(t, tt.wantX, action.Point.X, 1e-9)
			assert.InDelta(t, tt.wantY, action.Point.Y, 1e-9)
			assert.Equal(t, tt.clamped, action.Point.Clamped)
			assert.Equal(t, tt.wantKind, action.Kind)
			assert.Equal(t, tt.space, action.Space)
			assert.Equal(t, tt.raw, action.RawResponse)

			if tt.wantWhy != "" {
				assert.Equal(t, tt.wantWhy, action.Rationale)
			}

			if tt.wantConf == nil {
				assert.Nil(t, action.Confidence)
			} else {
				require.NotNil(t, action.Confidence)
				assert.InDelta(t, *tt.wantConf, *action.Confidence, 1e-9)
			}
		})
	}
}

func TestExtract_CoordsTakePriority(t *testing.T) {
	action, err := newTestExtractor().Extract(`{"x":0.9,"y":0.9,"coords":{"x":0.1,"y":0.2},"coordinates":{"x":0.5,"y":0.5}}`, 10, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, action.Point.X, 1e-9)
	assert.InDelta(t, 0.2, action.Point.Y, 1e-9)
}

func TestExtract_ConfidenceAbsentIsNil(t *testing.T) {
	action, err := newTestExtractor().Extract(`{"coords":{"x":0.4,"y":0.4}}`, 10, 10)
	require.NoError(t, err)
	assert.Nil(t, action.Confidence)
}

func TestExtract_ConfidenceClamped(t *testing.T) {
	action, err := newTestExtractor().Extract(`{"coords":{"x":0.4,"y":0.4},"confidence":7}`, 10, 10)
	require.NoError(t, err)
	require.NotNil(t, action.Confidence)
	assert.Equal(t, 1.0, *action.Confidence)
}

func TestExtract_ScrollWithoutPoint(t *testing.T) {
	action, err := newTestExtractor().Extract(`{"action":"scroll","why":"target below the fold"}`, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, entity.ActionScroll, action.Kind)
	assert.False(t, action.HasPoint)
}

func TestExtract_Failures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code string
	}{
		{name: "no numbers", raw: "I think it's near the top", code: apperr.CodeExtraction},
		{name: "empty", raw: "   ", code: apperr.CodeExtraction},
		{name: "json without point", raw: `{"why":"cannot see it"}`, code: apperr.CodeExtraction},
		{name: "click verb without point", raw: `{"action":"click"}`, code: apperr.CodeExtraction},
		{name: "truncated json", raw: `{"coords":{"x":0.5,"y"`, code: apperr.CodeExtraction},
		{name: "non-numeric coordinate", raw: `{"coords":{"x":"left","y":0.5}}`, code: apperr.CodeParse},
	}

	e := newTestExtractor()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(tt.raw, 100, 100)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperr.CodeOf(err))
		})
	}
}

func TestExtract_PixelWithoutImageSize(t *testing.T) {
	_, err := newTestExtractor().Extract(`{"x":10,"y":10,"space":"pixel"}`, 0, 0)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNormalizer, apperr.CodeOf(err))
}

func TestExtract_ErrorCarriesExcerpt(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'a'
	}

	_, err := newTestExtractor().Extract(string(long), 10, 10)
	require.Error(t, err)

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	excerpt, ok := appErr.Metadata[apperr.MetaRawExcerpt].(string)
	require.True(t, ok)
	assert.Less(t, len(excerpt), len(long))
}

func TestExtract_UnitPointsSurviveAnyWrapper(t *testing.T) {
	e := newTestExtractor()

	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Float64Range(0, 1).Draw(t, "x")
		y := rapid.Float64Range(0, 1).Draw(t, "y")
		wrapper := rapid.SampledFrom([]string{"%s", "Answer: %s. Done.", "```json\n%s\n```", "~~~\n%s\n~~~"}).Draw(t, "wrapper")

		payload := fmt.Sprintf(`{"coords":{"space":"normalized","x":%v,"y":%v}}`, x, y)
		action, err := e.Extract(fmt.Sprintf(wrapper, payload), 100, 100)
		if err != nil {
			t.Fatalf("extract %q: %v", payload, err)
		}

		if action.Point.X != x || action.Point.Y != y {
			t.Fatalf("got %+v, want (%v,%v)", action.Point, x, y)
		}
	})
}

func TestBalancedObjects(t *testing.T) {
	got := balancedObjects(`a {"k":"\"}"} b {"n":{"m":1}} c }`)
	assert.Equal(t, []string{`{"k":"\"}"}`, `{"n":{"m":1}}`}, got)
}

func ptr(f float64) *float64 {
	return &f
}
