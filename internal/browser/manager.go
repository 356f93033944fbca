package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"math"
	"os"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"vision-click/internal/config"
	"vision-click/internal/entity"
	"vision-click/pkg/apperr"
	"vision-click/pkg/logg"
	"vision-click/pkg/tracing"
)

const (
	browserManagerName = "BrowserManager"
	browserTracer      = "browser.manager"
	clickTimeout       = 15000
	waitTimeout        = 12000
	settleDelay        = 300 * time.Millisecond
	userAgent          = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

type Manager struct {
	config         *config.Config
	logger         *zap.Logger
	tracer         trace.Tracer
	playwright     *playwright.Playwright
	browser        playwright.Browser
	browserContext playwright.BrowserContext
	page           playwright.Page
	ready          bool
}

type Params struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewManager(params Params) *Manager {
	return &Manager{
		config: params.Config,
		logger: params.Logger.With(zap.String(logg.Layer, browserManagerName)),
		tracer: otel.Tracer(browserTracer),
		ready:  false,
	}
}

func (m *Manager) Launch(ctx context.Context) (err error) {
	const op = "Launch"
	logger := m.logger.With(zap.String(logg.Operation, op))

	ctx, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	logger.Info("Launching browser...")
	step.AddEvent("installing playwright")

	err = playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "playwright_install_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	step.AddEvent("starting playwright")

	pw, err := playwright.Run()
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "playwright_start_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	m.playwright = pw

	if m.config.BrowserConfig.UserDataDir != "" {
		return m.launchPersistent(ctx)
	}

	return m.launchNew(ctx)
}

func (m *Manager) viewport() *playwright.Size {
	return &playwright.Size{
		Width:  m.config.BrowserConfig.ViewportWidth,
		Height: m.config.BrowserConfig.ViewportHeight,
	}
}

// deviceScaleFactor above 1 makes element screenshots larger than their CSS box.
func (m *Manager) deviceScaleFactor() *float64 {
	dpr := m.config.BrowserConfig.DeviceScaleFactor
	if dpr <= 0 {
		dpr = 1
	}

	return playwright.Float(dpr)
}

func (m *Manager) launchPersistent(ctx context.Context) (err error) {
	const op = "launchPersistent"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	logger.Info("Launching persistent browser context")

	userDataDir := m.config.BrowserConfig.UserDataDir

	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "mkdir_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	options := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:          playwright.Bool(m.config.BrowserConfig.Headless),
		SlowMo:            playwright.Float(float64(m.config.BrowserConfig.SlowMo)),
		Viewport:          m.viewport(),
		DeviceScaleFactor: m.deviceScaleFactor(),
		UserAgent:         playwright.String(userAgent),
		JavaScriptEnabled: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
		IgnoreHttpsErrors: playwright.Bool(true),
	}

	browserContext, err := m.playwright.Chromium.LaunchPersistentContext(userDataDir, options)
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "launch_persistent_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	m.browserContext = browserContext

	pages := browserContext.Pages()

	if len(pages) > 0 {
		m.page = pages[0]
		logger.Info("Using existing page")
	} else {
		page, err := browserContext.NewPage()
		if err != nil {
			return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
				apperr.MetaReason: "new_page_failed",
				apperr.MetaStage:  apperr.StageBrowser,
			})
		}
		m.page = page
		logger.Info("Created new page")
	}

	m.ready = true
	logger.Info("Browser launched successfully")

	return nil
}

func (m *Manager) launchNew(ctx context.Context) (err error) {
	const op = "launchNew"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	logger.Info("Launching new browser")

	browser, err := m.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(m.config.BrowserConfig.Headless),
		SlowMo:   playwright.Float(float64(m.config.BrowserConfig.SlowMo)),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
		},
	})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "browser_launch_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	m.browser = browser

	browserContext, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:          m.viewport(),
		DeviceScaleFactor: m.deviceScaleFactor(),
		UserAgent:         playwright.String(userAgent),
		JavaScriptEnabled: playwright.Bool(true),
	})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "context_create_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}

	m.browserContext = browserContext

	page, err := browserContext.NewPage()
	if err != nil {
		return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "page_create_failed",
			apperr.MetaStage:  apperr.StageBrowser,
		})
	}
	m.page = page

	m.ready = true
	logger.Info("Browser launched successfully",
		zap.Int("viewport_width", m.config.BrowserConfig.ViewportWidth),
		zap.Int("viewport_height", m.config.BrowserConfig.ViewportHeight),
		zap.Float64("device_scale_factor", *m.deviceScaleFactor()))

	return nil
}

func (m *Manager) Close(ctx context.Context) (err error) {
	const op = "Close"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op)
	defer func() {
		step.End(err)
	}()

	logger.Info("Closing connection to browser...")

	if m.config.BrowserConfig.UserDataDir != "" {
		m.ready = false
		logger.Info("Persistent browser - connection closed, browser still running")

		return nil
	}

	if m.browserContext != nil {
		if err := m.browserContext.Close(); err != nil {
			logger.Warn("Failed to close context", zap.Error(err))
		}
	}

	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			logger.Warn("Failed to close browser", zap.Error(err))
		}
	}

	if m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			return apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
				apperr.MetaReason: "playwright_stop_failed",
			})
		}
	}

	m.ready = false
	logger.Info("Browser closed")

	return nil
}

func (m *Manager) IsReady() bool {
	return m.ready
}

func (m *Manager) ensurePageActive() error {
	if m.browserContext == nil {
		return fmt.Errorf("browser context is nil")
	}

	if m.page != nil && !m.page.IsClosed() {
		return nil
	}

	m.logger.Info("Page closed, reconnecting to active page...")

	for _, p := range m.browserContext.Pages() {
		if !p.IsClosed() {
			m.page = p
			m.logger.Info("Reconnected to existing page")

			return nil
		}
	}

	page, err := m.browserContext.NewPage()
	if err != nil {
		return fmt.Errorf("failed to create new page: %w", err)
	}

	m.page = page
	m.logger.Info("Created new page")

	return nil
}

// checkReady is the common precondition of every page operation.
func (m *Manager) checkReady(op string) error {
	if !m.ready {
		return apperr.WrapErrorWithReason(op, apperr.CodeBrowserNotReady, "browser_not_ready")
	}

	if err := m.ensurePageActive(); err != nil {
		return apperr.Wrap(op, apperr.CodeBrowserNotReady, err, map[string]any{
			apperr.MetaReason: "page_not_active",
		})
	}

	return nil
}

func (m *Manager) Navigate(ctx context.Context, url string) (err error) {
	const op = "Navigate"
	logger := m.logger.With(zap.String(logg.Operation, op), zap.String(logg.URL, url))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op, attribute.String("url", url))
	defer func() {
		step.End(err)
	}()

	if err := m.checkReady(op); err != nil {
		return err
	}

	step.AddEvent("navigating to URL")

	_, err = m.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(m.config.BrowserConfig.Timeout)),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason: "goto_failed",
			apperr.MetaStage:  apperr.StageNavigation,
			apperr.MetaURL:    url,
		})
	}

	time.Sleep(500 * time.Millisecond)
	step.AddEvent("navigation completed")

	return nil
}

func (m *Manager) CurrentURL(_ context.Context) (string, error) {
	const op = "CurrentURL"

	if err := m.checkReady(op); err != nil {
		return "", err
	}

	return m.page.URL(), nil
}

func (m *Manager) element(op, selector string) (playwright.Locator, error) {
	loc := m.page.Locator(selector).First()

	err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(waitTimeout),
	})
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeNotFound, err, map[string]any{
			apperr.MetaReason:   "element_not_visible",
			apperr.MetaStage:    apperr.StageScreenshot,
			apperr.MetaSelector: selector,
		})
	}

	return loc, nil
}

func (m *Manager) boundingBox(op, selector string, loc playwright.Locator) (entity.BoundingBox, error) {
	rect, err := loc.BoundingBox()
	if err != nil || rect == nil {
		if err == nil {
			err = errors.New("element has no layout box")
		}

		return entity.BoundingBox{}, apperr.Wrap(op, apperr.CodeNotFound, err, map[string]any{
			apperr.MetaReason:   "bounding_box_unavailable",
			apperr.MetaSelector: selector,
		})
	}

	return entity.BoundingBox{X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height}, nil
}

// CaptureElement screenshots the first element matching selector. Image size comes from the PNG
// header and CSS size from the layout box, so the two differ on HiDPI screens.
func (m *Manager) CaptureElement(ctx context.Context, selector string) (capture *entity.ScreenshotCapture, err error) {
	const op = "CaptureElement"
	logger := m.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op, attribute.String("selector", selector))
	defer func() {
		step.End(err)
	}()

	if err := m.checkReady(op); err != nil {
		return nil, err
	}

	loc, err := m.element(op, selector)
	if err != nil {
		return nil, err
	}

	if err := loc.ScrollIntoViewIfNeeded(); err != nil {
		logger.Warn("Scroll into view failed", zap.Error(err))
	}

	step.AddEvent("taking element screenshot")

	data, err := loc.Screenshot(playwright.LocatorScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason:   "screenshot_failed",
			apperr.MetaStage:    apperr.StageScreenshot,
			apperr.MetaSelector: selector,
		})
	}

	header, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "png_decode_failed",
			apperr.MetaStage:  apperr.StageScreenshot,
		})
	}

	box, err := m.boundingBox(op, selector, loc)
	if err != nil {
		return nil, err
	}

	capture = &entity.ScreenshotCapture{
		Selector:    selector,
		ImageBytes:  data,
		ImageWidth:  header.Width,
		ImageHeight: header.Height,
		CSSWidth:    box.Width,
		CSSHeight:   box.Height,
		Origin:      box,
		Captured:    time.Now(),
	}

	logger.Debug("Element captured",
		zap.Int("image_width", header.Width),
		zap.Int("image_height", header.Height),
		zap.Float64("css_width", box.Width),
		zap.Float64("css_height", box.Height))

	return capture, nil
}

// ClickTarget clicks at an offset from the element's top-left corner. Playwright scrolls the point
// into view first, so offsets below the fold of a tall element still land. The offset is clamped
// against the element's current box.
func (m *Manager) ClickTarget(ctx context.Context, selector string, target entity.ClickTarget) (err error) {
	const op = "ClickTarget"
	logger := m.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op,
		attribute.String("selector", selector),
		attribute.Float64("offset_x", target.OffsetX),
		attribute.Float64("offset_y", target.OffsetY))
	defer func() {
		step.End(err)
	}()

	if err := m.checkReady(op); err != nil {
		return err
	}

	loc, err := m.element(op, selector)
	if err != nil {
		return err
	}

	box, err := m.boundingBox(op, selector, loc)
	if err != nil {
		return err
	}

	position := clickPosition(box, target)

	step.AddEvent("clicking at offset")

	err = loc.Click(playwright.LocatorClickOptions{
		Position: position,
		Timeout:  playwright.Float(clickTimeout),
	})
	if err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason:   "click_coordinates_failed",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: selector,
		})
	}

	logger.Info("Clicked", zap.Float64("offset_x", position.X), zap.Float64("offset_y", position.Y))
	time.Sleep(settleDelay)

	return nil
}

// clickPosition keeps the element-relative offset inside box.
func clickPosition(box entity.BoundingBox, target entity.ClickTarget) *playwright.Position {
	return &playwright.Position{
		X: math.Min(math.Max(target.OffsetX, 0), box.Width),
		Y: math.Min(math.Max(target.OffsetY, 0), box.Height),
	}
}

func (m *Manager) ClickCenter(ctx context.Context, selector string) (err error) {
	const op = "ClickCenter"
	logger := m.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op, attribute.String("selector", selector))
	defer func() {
		step.End(err)
	}()

	if err := m.checkReady(op); err != nil {
		return err
	}

	loc, err := m.element(op, selector)
	if err != nil {
		return err
	}

	if err := loc.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(clickTimeout)}); err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason:   "center_click_failed",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: selector,
		})
	}

	time.Sleep(settleDelay)

	return nil
}

// ClickDOMKeyword clicks the link under selector whose text best matches the goal, falling back to
// the first link. It returns the text of the clicked link.
func (m *Manager) ClickDOMKeyword(ctx context.Context, selector string, goal string) (text string, err error) {
	const op = "ClickDOMKeyword"
	logger := m.logger.With(zap.String(logg.Operation, op), zap.String(logg.Selector, selector))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op, attribute.String("selector", selector))
	defer func() {
		step.End(err)
	}()

	if err := m.checkReady(op); err != nil {
		return "", err
	}

	links := m.page.Locator(selector).First().Locator("a")

	result, err := links.EvaluateAll(anchorsScript)
	if err != nil {
		return "", apperr.Wrap(op, apperr.CodeInternal, err, map[string]any{
			apperr.MetaReason: "evaluate_failed",
		})
	}

	best, score, ok := bestAnchor(parseAnchors(result), goal)
	if !ok {
		return "", apperr.Wrap(op, apperr.CodeNotFound, errors.New("no anchors found"), map[string]any{
			apperr.MetaReason:   "no_anchors",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: selector,
		})
	}

	step.AddEvent("clicking anchor", attribute.Int("index", best.Index), attribute.Int("score", score))

	err = links.Nth(best.Index).Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(clickTimeout),
	})
	if err != nil {
		return "", apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason:   "anchor_click_failed",
			apperr.MetaStage:    apperr.StageInteraction,
			apperr.MetaSelector: selector,
		})
	}

	logger.Info("Clicked link by keyword",
		zap.String("text", best.Text),
		zap.String("href", best.Href),
		zap.Int("score", score))
	time.Sleep(settleDelay)

	return best.Text, nil
}

// Scroll moves the page vertically by amount CSS pixels; negative values scroll up.
func (m *Manager) Scroll(ctx context.Context, amount int) (err error) {
	const op = "Scroll"
	logger := m.logger.With(zap.String(logg.Operation, op))

	_, step := tracing.StartSpan(ctx, m.tracer, logger, op, attribute.Int("amount", amount))
	defer func() {
		step.End(err)
	}()

	if err := m.checkReady(op); err != nil {
		return err
	}

	if err := m.page.Mouse().Wheel(0, float64(amount)); err != nil {
		return apperr.Wrap(op, apperr.CodeActionFailed, err, map[string]any{
			apperr.MetaReason: "scroll_failed",
			apperr.MetaStage:  apperr.StageInteraction,
		})
	}

	time.Sleep(500 * time.Millisecond)

	return nil
}
