package ports

import (
	"context"

	"vision-click/internal/config"
	"vision-click/internal/entity"
)

// BrowserDriver is the browser side of a decision cycle: it captures the element and dispatches the click.
type BrowserDriver interface {
	Launch(ctx context.Context) error
	Close(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	CaptureElement(ctx context.Context, selector string) (*entity.ScreenshotCapture, error)
	ClickTarget(ctx context.Context, selector string, target entity.ClickTarget) error
	ClickCenter(ctx context.Context, selector string) error
	ClickDOMKeyword(ctx context.Context, selector string, goal string) (string, error)
	Scroll(ctx context.Context, amount int) error
	IsReady() bool
}

type VisionProvider interface {
	Name() string
	RequestAction(ctx context.Context, req entity.VisionRequest) (string, error)
}

type VisionProviderFactory interface {
	Build(cfg *config.VisionConfig) (VisionProvider, error)
}

type ResponseExtractor interface {
	Extract(raw string, imageWidth, imageHeight int) (*entity.VisionAction, error)
}

type ClickPlanner interface {
	Decide(ctx context.Context, capture *entity.ScreenshotCapture, goal string, cfg *config.VisionConfig) (*entity.Decision, error)
	DecideClick(ctx context.Context, capture *entity.ScreenshotCapture, goal string, cfg *config.VisionConfig) (*entity.ClickTarget, error)
}
