package camera

import (
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/vanderheijden86/histviz/pkg/config"
	"github.com/vanderheijden86/histviz/pkg/model"
	"github.com/vanderheijden86/histviz/pkg/testutil"
)

var (
	vp     = model.Viewport{Width: 800, Height: 600}
	t0     = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bounds = r2.Box{Min: r2.Vec{X: -100, Y: -50}, Max: r2.Vec{X: 300, Y: 150}}
)

func newController() *Controller {
	return New(config.DefaultConfig().Camera)
}

func TestFitCentresAndPads(t *testing.T) {
	cam := Fit(bounds, vp, 0.1, 0.01, 100)
	testutil.AssertNear(t, cam.Pan, r2.Vec{X: 100, Y: 50}, 1e-9)
	// width limited: 800*0.8/400 = 1.6, height 600*0.8/200 = 2.4
	if math.Abs(cam.Zoom-1.6) > 1e-9 {
		t.Errorf("zoom = %v, want 1.6", cam.Zoom)
	}
	for _, corner := range []r2.Vec{bounds.Min, bounds.Max} {
		s := cam.WorldToScreen(corner, vp)
		if s.X < 0 || s.X > vp.Width || s.Y < 0 || s.Y > vp.Height {
			t.Errorf("corner %v maps off screen to %v", corner, s)
		}
	}
}

func TestFitClampsZoom(t *testing.T) {
	point := r2.Box{Min: r2.Vec{X: 5, Y: 5}, Max: r2.Vec{X: 5, Y: 5}}
	if cam := Fit(point, vp, 0.1, 0.02, 20); cam.Zoom != 20 {
		t.Errorf("single point zoom = %v, want max 20", cam.Zoom)
	}
	huge := r2.Box{Max: r2.Vec{X: 1e9, Y: 1e9}}
	if cam := Fit(huge, vp, 0.1, 0.02, 20); cam.Zoom != 0.02 {
		t.Errorf("huge bounds zoom = %v, want min 0.02", cam.Zoom)
	}
	if cam := Fit(bounds, model.Viewport{}, 0.1, 0.02, 20); cam != model.DefaultCamera() {
		t.Error("degenerate viewport should give the default camera")
	}
}

func TestAutoModeConvergesToFit(t *testing.T) {
	c := newController()
	cfg := config.DefaultConfig().Camera
	want := Fit(bounds, vp, cfg.Padding, cfg.MinZoom, cfg.MaxZoom)

	frames := 0
	for c.Update(t0, bounds, vp) {
		frames++
		if frames > 500 {
			t.Fatal("camera never settled")
		}
	}
	if c.Camera() != want {
		t.Errorf("settled camera %+v, want %+v", c.Camera(), want)
	}
	if c.Update(t0, bounds, vp) {
		t.Error("settled camera reported movement")
	}
}

func TestManualModeHeldUntilQuiescence(t *testing.T) {
	c := newController()
	c.Wheel(t0, vp.Center(), vp, 3)
	if c.Mode() != ModeManual {
		t.Fatal("wheel did not enter manual mode")
	}
	cam := c.Camera()

	quiet := config.DefaultConfig().Camera.Quiescence
	if c.Update(t0.Add(quiet/2), bounds, vp) || c.Camera() != cam {
		t.Error("camera moved during manual mode")
	}
	c.Update(t0.Add(quiet), bounds, vp)
	if c.Mode() != ModeAuto {
		t.Error("controller did not return to auto after quiescence")
	}
}

func TestManualHeldWhilePointerDown(t *testing.T) {
	c := newController()
	c.PointerDown(t0, r2.Vec{X: 10, Y: 10}, vp, "")
	c.Update(t0.Add(time.Hour), bounds, vp)
	if c.Mode() != ModeManual {
		t.Error("auto mode resumed while the pointer was held")
	}
}

func TestWheelZoomsAboutCursor(t *testing.T) {
	c := newController()
	cursor := r2.Vec{X: 600, Y: 150}
	before := c.Camera().ScreenToWorld(cursor, vp)
	c.Wheel(t0, cursor, vp, 2)
	if c.Camera().Zoom <= 1 {
		t.Errorf("positive delta should zoom in, got %v", c.Camera().Zoom)
	}
	testutil.AssertNear(t, c.Camera().ScreenToWorld(cursor, vp), before, 1e-9)

	for i := 0; i < 200; i++ {
		c.Wheel(t0, cursor, vp, -5)
	}
	if z := c.Camera().Zoom; z != config.DefaultConfig().Camera.MinZoom {
		t.Errorf("zoom %v not clamped to minimum", z)
	}
}

func TestDragNodeIntents(t *testing.T) {
	c := newController()
	down := c.PointerDown(t0, r2.Vec{X: 400, Y: 300}, vp, "f1")
	if down.Kind != IntentPinNode || down.NodeID != "f1" {
		t.Fatalf("down intent = %+v", down)
	}
	move := c.PointerMove(t0, r2.Vec{X: 450, Y: 320}, vp)
	if move.Kind != IntentMoveNode || move.NodeID != "f1" {
		t.Fatalf("move intent = %+v", move)
	}
	testutil.AssertNear(t, move.World, c.Camera().ScreenToWorld(r2.Vec{X: 450, Y: 320}, vp), 1e-9)

	up := c.PointerUp(t0, r2.Vec{X: 450, Y: 320}, vp)
	if up.Kind != IntentReleaseNode || up.NodeID != "f1" {
		t.Errorf("up intent = %+v", up)
	}
	if c.Dragging() != "" {
		t.Error("drag state not cleared")
	}
}

func TestClickWithinSlop(t *testing.T) {
	c := newController()
	c.PointerDown(t0, r2.Vec{X: 100, Y: 100}, vp, "c2")
	c.PointerMove(t0, r2.Vec{X: 102, Y: 101}, vp)
	if up := c.PointerUp(t0, r2.Vec{X: 101, Y: 101}, vp); up.Kind != IntentClick || up.NodeID != "c2" {
		t.Errorf("expected click on c2, got %+v", up)
	}

	c.PointerDown(t0, r2.Vec{X: 100, Y: 100}, vp, "c2")
	c.PointerMove(t0, r2.Vec{X: 140, Y: 100}, vp)
	if up := c.PointerUp(t0, r2.Vec{X: 100, Y: 100}, vp); up.Kind != IntentReleaseNode {
		t.Errorf("a drag that returned to its start is not a click, got %+v", up)
	}
}

func TestBackgroundDragPans(t *testing.T) {
	c := newController()
	pan := c.Camera().Pan
	c.PointerDown(t0, r2.Vec{X: 100, Y: 100}, vp, "")
	if in := c.PointerMove(t0, r2.Vec{X: 130, Y: 80}, vp); in.Kind != IntentNone {
		t.Errorf("background drag produced %+v", in)
	}
	testutil.AssertNear(t, c.Camera().Pan, r2.Add(pan, r2.Vec{X: -30, Y: 20}), 1e-9)
	if up := c.PointerUp(t0, r2.Vec{X: 130, Y: 80}, vp); up.Kind != IntentNone {
		t.Errorf("background release produced %+v", up)
	}
}

func TestMoveWithoutDownIgnored(t *testing.T) {
	c := newController()
	if in := c.PointerMove(t0, r2.Vec{X: 1, Y: 1}, vp); in.Kind != IntentNone || c.Mode() != ModeAuto {
		t.Error("hover movement should not change camera state")
	}
}
