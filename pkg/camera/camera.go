// Package camera owns the view transform and turns pointer input into
// interaction intents. The layout engine reads the camera but never writes
// it.
package camera

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/vanderheijden86/histviz/pkg/config"
	"github.com/vanderheijden86/histviz/pkg/model"
)

// Mode is the controller state.
type Mode int

const (
	// ModeAuto keeps the whole graph framed.
	ModeAuto Mode = iota
	// ModeManual follows the user until input has been quiet for a while.
	ModeManual
)

func (m Mode) String() string {
	if m == ModeManual {
		return "manual"
	}
	return "auto"
}

// IntentKind says what the host should do in response to pointer input.
type IntentKind int

const (
	IntentNone IntentKind = iota
	IntentPinNode
	IntentMoveNode
	IntentReleaseNode
	// IntentClick releases the node like IntentReleaseNode and also reports
	// a click on it.
	IntentClick
)

// Intent is the result of a pointer event.
type Intent struct {
	Kind   IntentKind
	NodeID string
	World  r2.Vec
}

// Controller is the camera state machine.
type Controller struct {
	cfg  config.CameraConfig
	cam  model.Camera
	mode Mode

	lastInput time.Time
	down      bool
	dragNode  string
	downAt    r2.Vec
	lastAt    r2.Vec
	travelled bool
}

// New returns a controller in auto mode with the default camera.
func New(cfg config.CameraConfig) *Controller {
	return &Controller{cfg: cfg, cam: model.DefaultCamera()}
}

// Camera returns the current camera.
func (c *Controller) Camera() model.Camera { return c.cam }

// Mode returns the current mode.
func (c *Controller) Mode() Mode { return c.mode }

// Dragging returns the id of the node being dragged, if any.
func (c *Controller) Dragging() string { return c.dragNode }

// Reset returns to auto mode and drops any gesture in progress.
func (c *Controller) Reset() {
	c.mode = ModeAuto
	c.down = false
	c.dragNode = ""
}

// Fit returns the camera that shows bounds inside vp with padding (a
// fraction of the viewport) on each side, zoom clamped to [minZoom, maxZoom].
func Fit(bounds r2.Box, vp model.Viewport, padding, minZoom, maxZoom float64) model.Camera {
	if vp.Area() == 0 || !model.Finite(bounds.Min) || !model.Finite(bounds.Max) {
		return model.DefaultCamera()
	}
	padding = math.Min(math.Max(padding, 0), 0.45)
	w := math.Max(bounds.Max.X-bounds.Min.X, 1)
	h := math.Max(bounds.Max.Y-bounds.Min.Y, 1)
	zoom := math.Min(vp.Width*(1-2*padding)/w, vp.Height*(1-2*padding)/h)
	return model.Camera{
		Zoom: clamp(zoom, minZoom, maxZoom),
		Pan:  r2.Scale(0.5, r2.Add(bounds.Min, bounds.Max)),
	}
}

// Update advances the camera one frame and reports whether it moved. In
// auto mode it eases toward the fit of bounds; manual mode falls back to
// auto once input has been quiet for the configured quiescence period.
func (c *Controller) Update(now time.Time, bounds r2.Box, vp model.Viewport) bool {
	if c.mode == ModeManual && !c.down && now.Sub(c.lastInput) >= c.cfg.Quiescence {
		c.mode = ModeAuto
	}
	if c.mode != ModeAuto {
		return false
	}

	target := Fit(bounds, vp, c.cfg.Padding, c.cfg.MinZoom, c.cfg.MaxZoom)
	s := clamp(c.cfg.Smoothing, 0, 1)
	if s == 0 {
		s = 1
	}
	next := model.Camera{
		Zoom: c.cam.Zoom + (target.Zoom-c.cam.Zoom)*s,
		Pan:  r2.Add(c.cam.Pan, r2.Scale(s, r2.Sub(target.Pan, c.cam.Pan))),
	}
	// snap once within a tenth of a pixel
	if math.Abs(next.Zoom-target.Zoom) < 1e-4*target.Zoom &&
		r2.Norm(r2.Sub(next.Pan, target.Pan))*target.Zoom < 0.1 {
		next = target
	}
	if next == c.cam {
		return false
	}
	c.cam = next
	return true
}

func (c *Controller) touch(now time.Time) {
	c.mode = ModeManual
	c.lastInput = now
}

// PointerDown starts a gesture. hit is the id of the node under the pointer
// or empty for the background.
func (c *Controller) PointerDown(now time.Time, screen r2.Vec, vp model.Viewport, hit string) Intent {
	c.touch(now)
	c.down = true
	c.downAt, c.lastAt = screen, screen
	c.travelled = false
	c.dragNode = hit
	if hit == "" {
		return Intent{}
	}
	return Intent{Kind: IntentPinNode, NodeID: hit, World: c.cam.ScreenToWorld(screen, vp)}
}

// PointerMove drags the held node or pans the view.
func (c *Controller) PointerMove(now time.Time, screen r2.Vec, vp model.Viewport) Intent {
	if !c.down {
		return Intent{}
	}
	c.touch(now)
	if r2.Norm(r2.Sub(screen, c.downAt)) > c.cfg.ClickSlop {
		c.travelled = true
	}
	delta := r2.Sub(screen, c.lastAt)
	c.lastAt = screen
	if c.dragNode != "" {
		return Intent{Kind: IntentMoveNode, NodeID: c.dragNode, World: c.cam.ScreenToWorld(screen, vp)}
	}
	c.cam.Pan = r2.Sub(c.cam.Pan, r2.Scale(1/c.cam.Zoom, delta))
	return Intent{}
}

// PointerUp ends the gesture. A node released without travelling beyond
// the click slop is reported as a click.
func (c *Controller) PointerUp(now time.Time, screen r2.Vec, vp model.Viewport) Intent {
	if !c.down {
		return Intent{}
	}
	c.touch(now)
	if r2.Norm(r2.Sub(screen, c.downAt)) > c.cfg.ClickSlop {
		c.travelled = true
	}
	id := c.dragNode
	c.down = false
	c.dragNode = ""
	if id == "" {
		return Intent{}
	}
	kind := IntentReleaseNode
	if !c.travelled {
		kind = IntentClick
	}
	return Intent{Kind: kind, NodeID: id, World: c.cam.ScreenToWorld(screen, vp)}
}

// Wheel zooms about the cursor by WheelStep^delta; positive delta zooms in.
func (c *Controller) Wheel(now time.Time, screen r2.Vec, vp model.Viewport, delta float64) {
	if delta == 0 || math.IsNaN(delta) || math.IsInf(delta, 0) {
		return
	}
	c.touch(now)
	anchor := c.cam.ScreenToWorld(screen, vp)
	zoom := clamp(c.cam.Zoom*math.Pow(c.cfg.WheelStep, delta), c.cfg.MinZoom, c.cfg.MaxZoom)
	c.cam.Zoom = zoom
	c.cam.Pan = r2.Sub(anchor, r2.Scale(1/zoom, r2.Sub(screen, vp.Center())))
}

func clamp(v, lo, hi float64) float64 {
	if hi > 0 && v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
