package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vision-click/internal/config"
	"vision-click/internal/entity"
	"vision-click/internal/extract"
	"vision-click/internal/ports"
	"vision-click/pkg/apperr"
)

type reply struct {
	text string
	err  error
}

type fakeProvider struct {
	replies  []reply
	requests []entity.VisionRequest
}

func (f *fakeProvider) Name() string {
	return "fake"
}

func (f *fakeProvider) RequestAction(_ context.Context, req entity.VisionRequest) (string, error) {
	f.requests = append(f.requests, req)

	if len(f.replies) == 0 {
		return "", errors.New("no scripted reply")
	}

	r := f.replies[0]
	f.replies = f.replies[1:]

	return r.text, r.err
}

type fakeFactory struct {
	provider *fakeProvider
	err      error
}

func (f *fakeFactory) Build(*config.VisionConfig) (ports.VisionProvider, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.provider, nil
}

func newTestPlanner(provider *fakeProvider) *Planner {
	logger := zap.NewNop()

	return NewPlanner(Params{
		Logger:    logger,
		Providers: &fakeFactory{provider: provider},
		Extractor: extract.NewExtractor(extract.Params{Logger: logger}),
	})
}

func testCapture() *entity.ScreenshotCapture {
	return &entity.ScreenshotCapture{
		Selector:    "body",
		ImageBytes:  []byte("png"),
		ImageWidth:  2000,
		ImageHeight: 1000,
		CSSWidth:    1000,
		CSSHeight:   500,
	}
}

func testVision() *config.VisionConfig {
	return &config.VisionConfig{Provider: "fake", Model: "gpt-4o-mini", APIKey: "k"}
}

func TestDecideClick_HiDPIUnitPoint(t *testing.T) {
	provider := &fakeProvider{replies: []reply{{text: `{"coords":{"space":"normalized","x":0.5,"y":0.5},"confidence":0.9}`}}}

	target, err := newTestPlanner(provider).DecideClick(context.Background(), testCapture(), "click login", testVision())
	require.NoError(t, err)

	assert.InDelta(t, 500.0, target.OffsetX, 1e-9)
	assert.InDelta(t, 250.0, target.OffsetY, 1e-9)
	require.Len(t, provider.requests, 1)
	assert.Equal(t, []byte("png"), provider.requests[0].Image)
}

func TestDecide_RetriesOnceWithStrictPrompt(t *testing.T) {
	provider := &fakeProvider{replies: []reply{
		{text: "I think the button is near the top."},
		{text: `{"x": 0.25, "y": 0.75}`},
	}}

	decision, err := newTestPlanner(provider).Decide(context.Background(), testCapture(), "click login", testVision())
	require.NoError(t, err)

	assert.Equal(t, 2, decision.Attempts)
	require.NotNil(t, decision.Target)
	assert.InDelta(t, 250.0, decision.Target.OffsetX, 1e-9)
	assert.InDelta(t, 375.0, decision.Target.OffsetY, 1e-9)

	require.Len(t, provider.requests, 2)
	assert.NotEqual(t, strictNudge, provider.requests[0].Messages[0].Text)
	assert.Equal(t, strictNudge, provider.requests[1].Messages[0].Text)
	assert.Equal(t, entity.RoleSystem, provider.requests[1].Messages[0].Role)
}

func TestDecide_SecondFailurePropagates(t *testing.T) {
	provider := &fakeProvider{replies: []reply{
		{text: "no idea"},
		{text: "still no idea"},
	}}

	_, err := newTestPlanner(provider).Decide(context.Background(), testCapture(), "click login", testVision())
	require.Error(t, err)

	assert.Equal(t, apperr.CodeExtraction, apperr.CodeOf(err))
	assert.Len(t, provider.requests, 2)
}

func TestDecide_ParseErrorIsRetried(t *testing.T) {
	provider := &fakeProvider{replies: []reply{
		{text: `{"x":"left","y":0.5}`},
		{text: `{"x":0.5,"y":0.5}`},
	}}

	decision, err := newTestPlanner(provider).Decide(context.Background(), testCapture(), "click", testVision())
	require.NoError(t, err)
	assert.Equal(t, 2, decision.Attempts)
}

func TestDecide_TransportErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{name: "timeout", err: apperr.ProviderTimeoutError("RequestAction", context.DeadlineExceeded), code: apperr.CodeProviderTimeout},
		{name: "status", err: apperr.ProviderError("RequestAction", 500, "boom"), code: apperr.CodeProvider},
		{name: "configuration", err: apperr.ConfigurationError("RequestAction", "missing_api_key"), code: apperr.CodeConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{replies: []reply{{err: tt.err}, {text: `{"x":0.5,"y":0.5}`}}}

			_, err := newTestPlanner(provider).Decide(context.Background(), testCapture(), "click", testVision())
			require.Error(t, err)

			assert.Equal(t, tt.code, apperr.CodeOf(err))
			assert.Len(t, provider.requests, 1)
		})
	}
}

func TestDecide_ZeroSizeElementFailsBeforeRequest(t *testing.T) {
	provider := &fakeProvider{replies: []reply{{text: `{"x":0.5,"y":0.5}`}}}

	capture := testCapture()
	capture.CSSWidth = 0

	_, err := newTestPlanner(provider).Decide(context.Background(), capture, "click", testVision())
	require.Error(t, err)

	assert.Equal(t, apperr.CodeGeometry, apperr.CodeOf(err))
	assert.Empty(t, provider.requests)
}

func TestDecide_FactoryErrorPropagates(t *testing.T) {
	p := NewPlanner(Params{
		Logger:    zap.NewNop(),
		Providers: &fakeFactory{err: apperr.ConfigurationError("Build", "unknown_provider")},
		Extractor: extract.NewExtractor(extract.Params{Logger: zap.NewNop()}),
	})

	_, err := p.Decide(context.Background(), testCapture(), "click", testVision())
	assert.Equal(t, apperr.CodeConfiguration, apperr.CodeOf(err))
}

func TestDecide_ScrollWithoutPoint(t *testing.T) {
	provider := &fakeProvider{replies: []reply{{text: `{"action":"scroll","why":"target below the fold"}`}}}
	planner := newTestPlanner(provider)

	decision, err := planner.Decide(context.Background(), testCapture(), "click footer link", testVision())
	require.NoError(t, err)

	assert.Equal(t, entity.ActionScroll, decision.Action.Kind)
	assert.Nil(t, decision.Target)

	provider.replies = []reply{{text: `{"action":"scroll"}`}}

	_, err = planner.DecideClick(context.Background(), testCapture(), "click footer link", testVision())
	assert.Equal(t, apperr.CodeExtraction, apperr.CodeOf(err))
}

func TestDecide_PointIgnoredForNonClickActions(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind entity.ActionKind
	}{
		{name: "noop with coords", raw: `{"action":"noop","coords":{"x":0.5,"y":0.5}}`, kind: entity.ActionNoop},
		{name: "scroll with flat point", raw: `{"action":"scroll","x":0.2,"y":0.9}`, kind: entity.ActionScroll},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{replies: []reply{{text: tt.raw}, {text: tt.raw}}}
			planner := newTestPlanner(provider)

			decision, err := planner.Decide(context.Background(), testCapture(), "wait", testVision())
			require.NoError(t, err)

			assert.Equal(t, tt.kind, decision.Action.Kind)
			assert.Nil(t, decision.Target)

			target, err := planner.DecideClick(context.Background(), testCapture(), "wait", testVision())
			assert.Nil(t, target)
			assert.Equal(t, apperr.CodeExtraction, apperr.CodeOf(err))
		})
	}
}

func TestDecide_OffsetStaysInsideElement(t *testing.T) {
	provider := &fakeProvider{replies: []reply{{text: `{"coords":{"space":"pixel","x":5000,"y":-20}}`}}}

	target, err := newTestPlanner(provider).DecideClick(context.Background(), testCapture(), "click", testVision())
	require.NoError(t, err)

	assert.InDelta(t, 1000.0, target.OffsetX, 1e-9)
	assert.InDelta(t, 0.0, target.OffsetY, 1e-9)
}

func TestDecide_NilCapture(t *testing.T) {
	_, err := newTestPlanner(&fakeProvider{}).Decide(context.Background(), nil, "click", testVision())
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestBuildPrompt(t *testing.T) {
	normal := BuildPrompt("  open settings ", false)
	require.Len(t, normal, 2)
	assert.Equal(t, entity.RoleSystem, normal[0].Role)
	assert.Equal(t, entity.RoleUser, normal[1].Role)
	assert.Contains(t, normal[1].Text, "Goal: open settings\n")

	strict := BuildPrompt("open settings", true)
	require.Len(t, strict, 3)
	assert.Equal(t, strictNudge, strict[0].Text)
	assert.Equal(t, normal[1:], strict[2:])
}
