package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Task struct {
	ID          uuid.UUID
	Goal        string
	StartURL    string
	Status      TaskStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
	Steps       []Step
	Error       string
}

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusNavigated  TaskStatus = "navigated"
	TaskStatusFailed     TaskStatus = "failed"
)

type Step struct {
	ID          uuid.UUID
	Number      int
	Strategy    ClickStrategy
	Description string
	Timestamp   time.Time
	Target      *ClickTarget
	Action      *VisionAction
	PrevURL     string
	PostURL     string
	Navigated   bool
	Success     bool
	VisionError string
	Error       string
}

type ClickStrategy string

const (
	StrategyVision      ClickStrategy = "vision"
	StrategyDOMFallback ClickStrategy = "dom_fallback"
	StrategyCenter      ClickStrategy = "center_fallback"
	StrategyScroll      ClickStrategy = "scroll"
	StrategyNoop        ClickStrategy = "noop"
)

type BoundingBox struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// ScreenshotCapture is one element snapshot taken for a single decision cycle.
type ScreenshotCapture struct {
	Selector    string
	ImageBytes  []byte
	ImageWidth  int
	ImageHeight int
	CSSWidth    float64
	CSSHeight   float64
	// Origin is the element's viewport position at capture time.
	Origin   BoundingBox
	Captured time.Time
}

type CoordinateSpace string

const (
	SpaceUnit     CoordinateSpace = "unit"
	SpacePixel    CoordinateSpace = "pixel"
	SpaceThousand CoordinateSpace = "thousand"
)

// NormalizedPoint is a point in [0,1]x[0,1] with (0,0) at the top-left of the image.
type NormalizedPoint struct {
	X       float64
	Y       float64
	Clamped bool
}

type ScaleFactors struct {
	ImageToCSSX float64
	ImageToCSSY float64
}

type ActionKind string

const (
	ActionClick  ActionKind = "click"
	ActionType   ActionKind = "type"
	ActionScroll ActionKind = "scroll"
	ActionNoop   ActionKind = "noop"
)

func (k ActionKind) NeedsPoint() bool {
	return k == ActionClick || k == ActionType
}

type VisionAction struct {
	Point    NormalizedPoint
	HasPoint bool
	// Space is the coordinate space the raw values were read in.
	Space CoordinateSpace
	// Confidence is nil when the response carries none.
	Confidence  *float64
	Rationale   string
	Kind        ActionKind
	RawResponse string
}

// ClickTarget is a CSS-pixel offset from the captured element's top-left corner.
type ClickTarget struct {
	OffsetX float64
	OffsetY float64
}

func (t ClickTarget) Explain(p NormalizedPoint, s ScaleFactors, c *ScreenshotCapture) string {
	return fmt.Sprintf("normalized=(%.4f,%.4f) png=(%dx%d) css=(%.1fx%.1f) scale=(%.3f,%.3f) offset=(%.1f,%.1f)",
		p.X, p.Y, c.ImageWidth, c.ImageHeight, c.CSSWidth, c.CSSHeight, s.ImageToCSSX, s.ImageToCSSY, t.OffsetX, t.OffsetY)
}

type Decision struct {
	Action *VisionAction
	Scale  ScaleFactors
	// Target is nil for scroll/noop actions that carry no point.
	Target   *ClickTarget
	Attempts int
}

type ChatRole string

const (
	RoleSystem ChatRole = "system"
	RoleUser   ChatRole = "user"
)

type PromptMessage struct {
	Role ChatRole
	Text string
}

// VisionRequest is one image plus the prompt messages sent alongside it.
// The image is attached to the last user message.
type VisionRequest struct {
	Image     []byte
	MediaType string
	Messages  []PromptMessage
}
