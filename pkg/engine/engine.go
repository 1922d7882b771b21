// Package engine wires the normalizer, LoD filter, layout, camera,
// highlight, offloader and renderer into a frame loop.
//
// All engine state sits behind one mutex. Host calls and frames serialize
// on it, so positions never change while a frame is being drawn, and a
// drag only ever touches the pinned node.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/vanderheijden86/histviz/pkg/camera"
	"github.com/vanderheijden86/histviz/pkg/config"
	hvdebug "github.com/vanderheijden86/histviz/pkg/debug"
	"github.com/vanderheijden86/histviz/pkg/highlight"
	"github.com/vanderheijden86/histviz/pkg/layout"
	"github.com/vanderheijden86/histviz/pkg/lod"
	"github.com/vanderheijden86/histviz/pkg/metrics"
	"github.com/vanderheijden86/histviz/pkg/model"
	"github.com/vanderheijden86/histviz/pkg/normalize"
	"github.com/vanderheijden86/histviz/pkg/offload"
	"github.com/vanderheijden86/histviz/pkg/render"
)

// ErrClosed is returned by Frame after Close.
var ErrClosed = errors.New("engine: closed")

// State is the rendering state of the view.
type State int

const (
	StateReady State = iota
	// StateUnsupported is terminal: the device cannot draw. Data,
	// simulation and controls keep working.
	StateUnsupported
	// StateLost means the last frame was dropped on a lost device.
	StateLost
)

func (s State) String() string {
	switch s {
	case StateUnsupported:
		return "unsupported"
	case StateLost:
		return "lost"
	default:
		return "ready"
	}
}

// Telemetry is a snapshot of engine counters.
type Telemetry struct {
	FPS          float64
	Nodes        int
	Edges        int
	VisibleNodes int
	VisibleEdges int
	LastFrame    time.Duration
	Frames       int64
	Ticks        int64
	Converged    bool
	Mode         string
	State        State
	Dropped      int64
	Errors       int64
	Generation   uint64
}

// ViewportInfo is passed to the viewport-change callback.
type ViewportInfo struct {
	Camera   model.Camera
	Viewport model.Viewport
	Bounds   r2.Box
}

type pendingTask struct {
	p    *offload.Pending
	task offload.Task
	in   offload.Input
}

// hitSlop widens node hit targets, in pixels.
const hitSlop = 3

// Engine is the interactive graph view.
type Engine struct {
	mu sync.Mutex

	cfg   config.Config
	opts  Options
	dev   render.Device
	pipe  *render.Pipeline
	strat layout.Strategy
	graph *layout.Graph
	cam   *camera.Controller
	hl    *highlight.Propagator
	off   *offload.Offloader
	loop  *Loop
	clock func() time.Time

	generation uint64
	pending    []pendingTask

	// LoD selection; node positions are read from graph every frame
	visibleIdx []int
	visible    lod.Result
	lodDirty   bool
	lodZoom    float64

	state       State
	tele        Telemetry
	lastFrameAt time.Time
	lastCam     model.Camera
	lastPointer r2.Vec

	onClick    func(id string)
	onViewport func(ViewportInfo)
	closed     bool
}

// New builds an engine drawing to dev. A device that cannot draw leaves
// the engine in StateUnsupported rather than failing.
func New(dev render.Device, cfg config.Config, opts ...Option) (*Engine, error) {
	o := defaultOptions(cfg)
	for _, opt := range opts {
		opt(&o)
	}
	if o.LayoutMode != "" {
		cfg.Layout.Mode = o.LayoutMode
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	strat, err := layout.New(cfg)
	if err != nil {
		return nil, err
	}
	style, err := render.StyleFrom(cfg.Render)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		opts:     o,
		dev:      dev,
		pipe:     render.NewPipeline(dev, style),
		strat:    strat,
		graph:    layout.NewGraph(model.Snapshot{}),
		cam:      camera.New(cfg.Camera),
		hl:       highlight.New(),
		off:      offload.New(cfg.Offload),
		clock:    time.Now,
		lodDirty: true,
	}
	e.opts.LayoutMode = strat.Mode()
	if err := e.pipe.Init(o.ViewportWidth, o.ViewportHeight); err != nil {
		if !errors.Is(err, render.ErrUnsupported) {
			e.off.Close()
			return nil, err
		}
		e.state = StateUnsupported
		hvdebug.Log("engine: rendering unsupported: %v", err)
	}
	return e, nil
}

func (e *Engine) viewport() model.Viewport {
	return model.Viewport{Width: float64(e.opts.ViewportWidth), Height: float64(e.opts.ViewportHeight)}
}

// SetSnapshot replaces the node set. Persisting nodes keep their position,
// velocity and pin state; removed nodes are gone from the next frame.
func (e *Engine) SetSnapshot(snap model.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	first := e.graph.Len() == 0
	g, stats := layout.Reconcile(e.graph, snap)
	e.graph = g
	e.generation++
	e.hl.SetGraph(g.Nodes, g.Edges)
	if id := e.cam.Dragging(); id != "" {
		if _, ok := g.IndexOf(id); !ok {
			e.cam.Reset()
		}
	}

	switch {
	case first || e.strat.Mode() == config.ModeTimeRadial:
		e.strat.Place(g)
	case stats.Added > 0 || stats.Removed > 0 || stats.EdgesChanged:
		e.strat.Reheat(e.cfg.Force.SnapshotReheat)
	}
	// visibleIdx indexes the old graph until refreshed
	e.refreshVisible()
	hvdebug.Log("engine: snapshot gen=%d kept=%d added=%d removed=%d dropped=%d edges_changed=%v",
		e.generation, stats.Kept, stats.Added, stats.Removed, stats.Dropped, stats.EdgesChanged)
}

// LoadRaw normalizes raw and applies it as the new snapshot.
func (e *Engine) LoadRaw(raw normalize.RawSnapshot) {
	e.SetSnapshot(normalize.Normalize(raw))
}

// SetOptions applies new host options. Changing the layout mode re-places
// every unpinned node.
func (e *Engine) SetOptions(o Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if o.LayoutMode == "" {
		o.LayoutMode = e.opts.LayoutMode
	}
	if o.ViewportWidth <= 0 || o.ViewportHeight <= 0 {
		o.ViewportWidth, o.ViewportHeight = e.opts.ViewportWidth, e.opts.ViewportHeight
	}
	if o.LayoutMode != e.opts.LayoutMode {
		cfg := e.cfg
		cfg.Layout.Mode = o.LayoutMode
		strat, err := layout.New(cfg)
		if err != nil {
			return err
		}
		e.cfg = cfg
		e.strat = strat
		e.generation++
		e.strat.Place(e.graph)
		e.lodDirty = true
	}
	if !o.equalFilters(e.opts) {
		e.lodDirty = true
	}
	resized := o.ViewportWidth != e.opts.ViewportWidth || o.ViewportHeight != e.opts.ViewportHeight
	e.opts = o
	e.opts.EdgeKindsVisible = append([]string(nil), o.EdgeKindsVisible...)
	if resized {
		e.resizeLocked(o.ViewportWidth, o.ViewportHeight)
	}
	if e.lodDirty {
		e.refreshVisible()
	}
	return nil
}

// Options returns the current options.
func (e *Engine) Options() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	o := e.opts
	o.EdgeKindsVisible = append([]string(nil), o.EdgeKindsVisible...)
	return o
}

// Relayout places the graph from scratch and restarts the simulation.
// Results of background work for the old layout are discarded.
func (e *Engine) Relayout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
	e.strat.Place(e.graph)
	e.strat.Reheat(1)
	e.refreshVisible()
}

// Resize changes the surface size.
func (e *Engine) Resize(width, height int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resizeLocked(width, height)
}

func (e *Engine) resizeLocked(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	e.opts.ViewportWidth, e.opts.ViewportHeight = width, height
	if e.state != StateUnsupported {
		e.dev.Resize(width, height)
	}
	e.lodDirty = true
}

// OnNodeClick registers fn for node clicks. fn runs outside the engine
// lock and may call back into the engine.
func (e *Engine) OnNodeClick(fn func(id string)) {
	e.mu.Lock()
	e.onClick = fn
	e.mu.Unlock()
}

// OnViewportChange registers fn for camera changes, called after the frame
// that moved the camera.
func (e *Engine) OnViewportChange(fn func(ViewportInfo)) {
	e.mu.Lock()
	e.onViewport = fn
	e.mu.Unlock()
}

// Frame runs one frame at now. Errors and panics inside the frame are
// recovered and counted; only ErrClosed is fatal to the caller's loop.
func (e *Engine) Frame(now time.Time) (err error) {
	var after []func()
	func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		defer func() {
			if r := recover(); r != nil {
				e.tele.Errors++
				err = fmt.Errorf("engine: frame panic: %v", r)
				hvdebug.Log("engine: recovered frame panic: %v\n%s", r, debug.Stack())
			}
		}()
		if e.closed {
			err = ErrClosed
			return
		}
		after, err = e.frameLocked(now)
	}()
	for _, fn := range after {
		fn()
	}
	return err
}

func (e *Engine) frameLocked(now time.Time) ([]func(), error) {
	start := time.Now()
	defer metrics.Timer(metrics.Frame)()
	var after []func()

	e.applyResults()

	vp := e.viewport()
	zoom := e.cam.Camera().Zoom
	if e.lodDirty || lod.FlagsFor(zoom) != lod.FlagsFor(e.lodZoom) || lod.LabelBudget(zoom) != lod.LabelBudget(e.lodZoom) {
		e.refreshLoD(zoom, vp)
	}

	if !e.strat.Converged() {
		e.strat.Tick(e.graph)
		e.tele.Ticks++
	}

	e.cam.Update(now, e.graph.Bounds(), vp)
	cam := e.cam.Camera()

	var frameErr error
	if e.state != StateUnsupported {
		nodes := make([]model.Node, len(e.visibleIdx))
		for i, idx := range e.visibleIdx {
			nodes[i] = e.graph.Nodes[idx]
		}
		_, err := e.pipe.Render(render.Frame{
			Nodes:     nodes,
			Edges:     e.visible.Edges,
			Labels:    e.visible.Labels,
			Flags:     e.visible.Flags,
			Camera:    cam,
			Viewport:  vp,
			Highlight: e.hl,
		})
		switch {
		case errors.Is(err, render.ErrContextLost):
			e.state = StateLost
			e.tele.Dropped++
		case err != nil:
			e.tele.Errors++
			frameErr = err
		default:
			e.state = StateReady
		}
	}

	if cam != e.lastCam {
		e.lastCam = cam
		if fn := e.onViewport; fn != nil {
			info := ViewportInfo{Camera: cam, Viewport: vp, Bounds: e.graph.Bounds()}
			after = append(after, func() { fn(info) })
		}
	}

	e.recordFrame(now, time.Since(start))
	return after, frameErr
}

// recordFrame updates the FPS moving average from frame timestamps.
func (e *Engine) recordFrame(now time.Time, took time.Duration) {
	if !e.lastFrameAt.IsZero() {
		if dt := now.Sub(e.lastFrameAt).Seconds(); dt > 0 {
			inst := 1 / dt
			if e.tele.FPS == 0 {
				e.tele.FPS = inst
			} else {
				e.tele.FPS = 0.9*e.tele.FPS + 0.1*inst
			}
		}
	}
	e.lastFrameAt = now
	e.tele.LastFrame = took
	e.tele.Frames++
}

// refreshVisible reruns the LoD pass at the current camera so hit testing
// and telemetry never see indices from a replaced graph.
func (e *Engine) refreshVisible() {
	e.refreshLoD(e.cam.Camera().Zoom, e.viewport())
}

func (e *Engine) refreshLoD(zoom float64, vp model.Viewport) {
	e.visible = lod.Filter(lod.Input{
		Nodes:     e.graph.Nodes,
		Edges:     e.graph.Edges,
		Zoom:      zoom,
		Viewport:  vp,
		Budget:    e.cfg.LoD,
		EdgeKinds: e.opts.EdgeKindsVisible,
		MaxEdges:  e.opts.MaxVisibleEdges,
	})
	e.visibleIdx = e.visibleIdx[:0]
	for _, n := range e.visible.Nodes {
		if i, ok := e.graph.IndexOf(n.ID); ok {
			e.visibleIdx = append(e.visibleIdx, i)
		}
	}
	e.lodZoom = zoom
	e.lodDirty = false
	hvdebug.LogIf(e.visible.DroppedNodes+e.visible.DroppedEdges > 0,
		"engine: lod dropped %d nodes, %d edges", e.visible.DroppedNodes, e.visible.DroppedEdges)
}

// applyResults consumes every settled task before the rest of the frame.
// Results from an older generation are discarded. A failed background task
// is retried once inline.
func (e *Engine) applyResults() {
	if len(e.pending) == 0 {
		return
	}
	keep := e.pending[:0]
	var retry []pendingTask
	for _, pt := range e.pending {
		res, err := pt.p.Result()
		if errors.Is(err, offload.ErrPending) {
			keep = append(keep, pt)
			continue
		}
		if err != nil {
			e.tele.Errors++
			hvdebug.Log("engine: %s failed: %v", pt.task.Name(), err)
			if inlineFallback(err) {
				retry = append(retry, pt)
			}
			continue
		}
		e.applyResult(res)
	}
	e.pending = keep
	for _, pt := range retry {
		ctx, cancel := e.inlineContext()
		p := e.off.RunInline(ctx, pt.task, pt.in, pt.p.Generation())
		cancel()
		if res, err := p.Result(); err == nil {
			e.applyResult(res)
		} else {
			hvdebug.Log("engine: inline %s failed: %v", pt.task.Name(), err)
		}
	}
}

// inlineFallback reports whether a failed background task should be rerun
// on the frame goroutine: task failures and background timeouts are,
// closing and caller cancellation are not.
func inlineFallback(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te *offload.TaskError
	return errors.As(err, &te) && te.Phase == "background"
}

// inlineContext bounds an inline rerun by the offload timeout.
func (e *Engine) inlineContext() (context.Context, context.CancelFunc) {
	if e.cfg.Offload.Timeout > 0 {
		return context.WithTimeout(context.Background(), e.cfg.Offload.Timeout)
	}
	return context.WithCancel(context.Background())
}

func (e *Engine) applyResult(res offload.Result) {
	if res.Generation != e.generation {
		hvdebug.Log("engine: discarding %s result from generation %d (now %d)", res.Task, res.Generation, e.generation)
		return
	}
	if res.Communities != nil {
		e.graph.SetCommunities(res.Communities)
		e.lodDirty = true
	}
	if res.Positions != nil {
		if n := e.graph.ApplyPositions(res.Positions); n > 0 {
			e.strat.Reheat(e.cfg.Force.ReleaseReheat)
		}
	}
}

func (e *Engine) submit(ctx context.Context, task offload.Task) *offload.Pending {
	in := offload.InputFrom(e.graph.Nodes, e.graph.Edges, e.cfg.Layout.Seed)
	p := e.off.Submit(ctx, task, in, e.generation)
	e.pending = append(e.pending, pendingTask{p: p, task: task, in: in})
	return p
}

// DetectCommunities starts community detection. The assignment is applied
// at the start of the first frame after it completes.
func (e *Engine) DetectCommunities(ctx context.Context) *offload.Pending {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submit(ctx, offload.Communities{Resolution: 1})
}

// RunAlternativeLayout computes an Eades layout in the background and
// moves unpinned nodes to it when it completes.
func (e *Engine) RunAlternativeLayout(ctx context.Context) *offload.Pending {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submit(ctx, offload.DefaultEades())
}

// inputTime timestamps pointer input on the same timeline as Frame so
// camera quiescence compares like with like. Before the first frame the
// engine clock is used.
func (e *Engine) inputTime() time.Time {
	if !e.lastFrameAt.IsZero() {
		return e.lastFrameAt
	}
	return e.clock()
}

// hitTest returns the id of the visible node under screen, preferring the
// closest centre.
func (e *Engine) hitTest(screen r2.Vec) string {
	cam := e.cam.Camera()
	vp := e.viewport()
	style := e.pipe.Style()
	best, bestDist := "", math.Inf(1)
	for _, idx := range e.visibleIdx {
		n := e.graph.Nodes[idx]
		d := r2.Norm(r2.Sub(cam.WorldToScreen(n.Pos, vp), screen))
		if d <= style.Radius(n)*cam.Zoom+hitSlop && d < bestDist {
			best, bestDist = n.ID, d
		}
	}
	return best
}

// PointerDown starts a drag on the node under (x, y) or a pan.
func (e *Engine) PointerDown(x, y float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	screen := r2.Vec{X: x, Y: y}
	e.lastPointer = screen
	in := e.cam.PointerDown(e.inputTime(), screen, e.viewport(), e.hitTest(screen))
	if in.Kind == camera.IntentPinNode {
		e.graph.SetPinned(in.NodeID, true)
		e.hl.Hover(in.NodeID)
	}
}

// PointerMove drags, pans, or updates hover.
func (e *Engine) PointerMove(x, y float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	screen := r2.Vec{X: x, Y: y}
	e.lastPointer = screen
	in := e.cam.PointerMove(e.inputTime(), screen, e.viewport())
	switch {
	case in.Kind == camera.IntentMoveNode:
		e.graph.MoveTo(in.NodeID, in.World)
		e.strat.Reheat(e.cfg.Force.ReleaseReheat)
	case e.cam.Dragging() == "":
		if id := e.hitTest(screen); id != "" {
			e.hl.Hover(id)
		} else {
			e.hl.Leave()
		}
	}
}

// PointerUp releases a dragged node. A press without travel is a click.
func (e *Engine) PointerUp(x, y float64) {
	var click func()
	func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		screen := r2.Vec{X: x, Y: y}
		e.lastPointer = screen
		click = e.release(e.cam.PointerUp(e.inputTime(), screen, e.viewport()))
	}()
	if click != nil {
		click()
	}
}

func (e *Engine) release(in camera.Intent) func() {
	if in.Kind != camera.IntentReleaseNode && in.Kind != camera.IntentClick {
		return nil
	}
	e.graph.SetPinned(in.NodeID, false)
	e.strat.Reheat(e.cfg.Force.ReleaseReheat)
	if in.Kind == camera.IntentClick && e.onClick != nil {
		fn, id := e.onClick, in.NodeID
		return func() { fn(id) }
	}
	return nil
}

// PointerLeave clears hover and ends any drag where the pointer left.
func (e *Engine) PointerLeave() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hl.Leave()
	if e.cam.Dragging() != "" {
		in := e.cam.PointerUp(e.inputTime(), e.lastPointer, e.viewport())
		if in.Kind == camera.IntentClick {
			in.Kind = camera.IntentReleaseNode
		}
		e.release(in)
	}
}

// Wheel zooms about (x, y); positive delta zooms in.
func (e *Engine) Wheel(x, y, delta float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cam.Wheel(e.inputTime(), r2.Vec{X: x, Y: y}, e.viewport(), delta)
}

// Telemetry returns a copy of the engine counters.
func (e *Engine) Telemetry() Telemetry {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.tele
	t.Nodes = e.graph.Len()
	t.Edges = len(e.graph.Edges)
	t.VisibleNodes = len(e.visibleIdx)
	t.VisibleEdges = len(e.visible.Edges)
	t.Converged = e.strat.Converged()
	t.Mode = e.strat.Mode()
	t.State = e.state
	t.Generation = e.generation
	return t
}

// Nodes returns a copy of the live nodes.
func (e *Engine) Nodes() []model.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Node(nil), e.graph.Nodes...)
}

// Snapshot returns a copy of the live graph.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Snapshot()
}

// Camera returns the current camera.
func (e *Engine) Camera() model.Camera {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cam.Camera()
}

// Highlight returns the hover state.
func (e *Engine) Highlight() highlight.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hl.State()
}

// Capture runs fn between frames with exclusive access to the engine, so
// a host can read the device surface while a Loop is running.
func (e *Engine) Capture(fn func(render.Device) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return fn(e.dev)
}

// Close stops the loop, discards in-flight background work and releases
// the device. Safe to call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	loop := e.loop
	e.loop = nil
	e.mu.Unlock()
	if loop != nil {
		loop.Stop()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.off.Close()
	e.pending = nil
	e.pipe.Release()
	e.dev.Release()
}
