package adapters

import (
	"context"

	"vision-click/internal/config"
	"vision-click/internal/entity"
)

type BrowserService interface {
	Launch(ctx context.Context) error
	Close(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	CaptureElement(ctx context.Context, selector string) (*entity.ScreenshotCapture, error)
	IsReady() bool
}

type PlannerService interface {
	DecideClick(ctx context.Context, capture *entity.ScreenshotCapture, goal string, cfg *config.VisionConfig) (*entity.ClickTarget, error)
}

type AgentService interface {
	Execute(ctx context.Context, startURL string, goal string) (*entity.Task, error)
	Stop()
}
