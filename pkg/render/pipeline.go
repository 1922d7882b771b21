package render

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/vanderheijden86/histviz/pkg/debug"
	"github.com/vanderheijden86/histviz/pkg/highlight"
	"github.com/vanderheijden86/histviz/pkg/lod"
	"github.com/vanderheijden86/histviz/pkg/metrics"
	"github.com/vanderheijden86/histviz/pkg/model"
)

// Highlighter supplies per-element emphasis. *highlight.Propagator
// satisfies it.
type Highlighter interface {
	Emphasis(id string) highlight.Emphasis
	EdgeEmphasis(src, tgt string) highlight.Emphasis
}

// Frame is one frame's worth of visible state.
type Frame struct {
	Nodes     []model.Node
	Edges     []model.Edge
	Labels    map[string]string
	Flags     lod.Flags
	Camera    model.Camera
	Viewport  model.Viewport
	Highlight Highlighter
}

// FrameStats reports what a frame drew.
type FrameStats struct {
	Nodes       int
	Edges       int
	Labels      int
	Rings       int
	CulledNodes int
	CulledEdges int
}

type buffers struct {
	linePos, lineCol              Buffer
	pointPos, pointCol, pointSize Buffer
}

func (b buffers) all() []Buffer {
	return []Buffer{b.linePos, b.lineCol, b.pointPos, b.pointCol, b.pointSize}
}

// Pipeline turns frames into device draw calls.
type Pipeline struct {
	dev   Device
	style Style
	bufs  *buffers

	acquisitions int

	// reused across frames
	linePos, lineCol              []float32
	pointPos, pointCol, pointSize []float32
	overlay                       []overlayItem
}

type overlayItem struct {
	node     model.Node
	screen   r2.Vec
	radius   float64
	emphasis highlight.Emphasis
}

// NewPipeline returns a pipeline drawing to dev.
func NewPipeline(dev Device, style Style) *Pipeline {
	return &Pipeline{dev: dev, style: style}
}

// Init initialises the device. A device that cannot draw returns an error
// wrapping ErrUnsupported.
func (p *Pipeline) Init(width, height int) error {
	if err := p.dev.Init(width, height); err != nil {
		if errors.Is(err, ErrUnsupported) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return nil
}

// Style returns the pipeline style.
func (p *Pipeline) Style() Style { return p.style }

// Acquisitions counts how many times buffers were created. It only grows
// after a device loss.
func (p *Pipeline) Acquisitions() int { return p.acquisitions }

func (p *Pipeline) acquire() error {
	if p.bufs != nil {
		return nil
	}
	var handles [5]Buffer
	for i := range handles {
		b, err := p.dev.CreateBuffer()
		if err != nil {
			for _, h := range handles[:i] {
				p.dev.DeleteBuffer(h)
			}
			return fmt.Errorf("create buffer: %w", err)
		}
		handles[i] = b
	}
	p.bufs = &buffers{
		linePos: handles[0], lineCol: handles[1],
		pointPos: handles[2], pointCol: handles[3], pointSize: handles[4],
	}
	p.acquisitions++
	debug.Log("render: acquired buffers (acquisition %d)", p.acquisitions)
	return nil
}

// Release deletes the pipeline's buffers. Safe to call repeatedly; the next
// Render acquires new ones.
func (p *Pipeline) Release() {
	if p.bufs == nil {
		return
	}
	if !p.dev.Lost() {
		for _, b := range p.bufs.all() {
			p.dev.DeleteBuffer(b)
		}
	}
	p.bufs = nil
}

// drop forgets buffer handles without touching the device, after a loss.
func (p *Pipeline) drop() { p.bufs = nil }

// fail maps a device error onto the frame outcome. Context loss drops the
// handles so the next frame re-acquires.
func (p *Pipeline) fail(stage string, err error) error {
	if errors.Is(err, ErrContextLost) || p.dev.Lost() {
		p.drop()
		return ErrContextLost
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// Render draws one frame. It returns ErrContextLost when the device was
// lost before or during the frame; the frame is then dropped.
func (p *Pipeline) Render(f Frame) (FrameStats, error) {
	var stats FrameStats
	if p.dev.Lost() {
		p.drop()
		return stats, ErrContextLost
	}
	if err := p.acquire(); err != nil {
		return stats, p.fail("acquire", err)
	}

	p.build(f, &stats)

	stopUpload := metrics.Timer(metrics.BufferUpload)
	uploads := []struct {
		b    Buffer
		data []float32
	}{
		{p.bufs.linePos, p.linePos},
		{p.bufs.lineCol, p.lineCol},
		{p.bufs.pointPos, p.pointPos},
		{p.bufs.pointCol, p.pointCol},
		{p.bufs.pointSize, p.pointSize},
	}
	for _, u := range uploads {
		if err := p.dev.Upload(u.b, u.data); err != nil {
			stopUpload()
			return stats, p.fail("upload", err)
		}
	}
	stopUpload()

	stopDraw := metrics.Timer(metrics.DrawPass)
	p.dev.SetUniforms(Uniforms{Camera: f.Camera, Viewport: f.Viewport})
	p.dev.Begin(p.style.Background)
	if stats.Edges > 0 {
		err := p.dev.Draw(ProgramLines, DrawCall{
			Positions: p.bufs.linePos, Colors: p.bufs.lineCol, Count: 2 * stats.Edges,
		})
		if err != nil {
			stopDraw()
			return stats, p.fail("draw edges", err)
		}
	}
	if stats.Nodes > 0 {
		err := p.dev.Draw(ProgramPoints, DrawCall{
			Positions: p.bufs.pointPos, Colors: p.bufs.pointCol, Sizes: p.bufs.pointSize, Count: stats.Nodes,
		})
		if err != nil {
			stopDraw()
			return stats, p.fail("draw nodes", err)
		}
	}
	stopDraw()

	p.drawOverlay(f, &stats)

	if err := p.dev.Present(); err != nil {
		return stats, p.fail("present", err)
	}
	return stats, nil
}

// build fills the vertex arrays, culling anything outside the view.
func (p *Pipeline) build(f Frame, stats *FrameStats) {
	p.linePos = p.linePos[:0]
	p.lineCol = p.lineCol[:0]
	p.pointPos = p.pointPos[:0]
	p.pointCol = p.pointCol[:0]
	p.pointSize = p.pointSize[:0]
	p.overlay = p.overlay[:0]

	cam := f.Camera
	if cam.Zoom <= 0 {
		cam.Zoom = 1
	}
	view := cam.VisibleWorld(f.Viewport)
	margin := p.style.MaxRadius
	view.Min = r2.Sub(view.Min, r2.Vec{X: margin, Y: margin})
	view.Max = r2.Add(view.Max, r2.Vec{X: margin, Y: margin})

	emph := func(id string) highlight.Emphasis {
		if f.Highlight == nil {
			return highlight.None
		}
		return f.Highlight.Emphasis(id)
	}

	pos := make(map[string]r2.Vec, len(f.Nodes))
	for _, n := range f.Nodes {
		if !model.Finite(n.Pos) {
			continue
		}
		pos[n.ID] = n.Pos
	}

	for _, e := range f.Edges {
		a, okA := pos[e.Source]
		b, okB := pos[e.Target]
		if !okA || !okB {
			continue
		}
		if !segmentVisible(a, b, view) {
			stats.CulledEdges++
			continue
		}
		em := highlight.None
		if f.Highlight != nil {
			em = f.Highlight.EdgeEmphasis(e.Source, e.Target)
		}
		c := p.style.EdgeColor(e.Kind)
		alpha := edgeAlpha(e.Kind, em)
		p.linePos = append(p.linePos, float32(a.X), float32(a.Y), float32(b.X), float32(b.Y))
		for range 2 {
			p.lineCol = append(p.lineCol, float32(c.R), float32(c.G), float32(c.B), alpha)
		}
		stats.Edges++
	}

	for _, n := range f.Nodes {
		if _, ok := pos[n.ID]; !ok {
			continue
		}
		r := p.style.Radius(n)
		if n.Pos.X+r < view.Min.X || n.Pos.X-r > view.Max.X || n.Pos.Y+r < view.Min.Y || n.Pos.Y-r > view.Max.Y {
			stats.CulledNodes++
			continue
		}
		em := emph(n.ID)
		c := p.style.NodeColor(n)
		p.pointPos = append(p.pointPos, float32(n.Pos.X), float32(n.Pos.Y))
		p.pointCol = append(p.pointCol, float32(c.R), float32(c.G), float32(c.B), nodeAlpha(em))
		p.pointSize = append(p.pointSize, float32(r))
		stats.Nodes++

		screenR := r * cam.Zoom
		emphasised := em == highlight.Focus || em == highlight.Neighbor
		if emphasised || (f.Flags.ShowLabels && screenR >= p.style.LabelMinRadius) {
			p.overlay = append(p.overlay, overlayItem{
				node:     n,
				screen:   cam.WorldToScreen(n.Pos, f.Viewport),
				radius:   screenR,
				emphasis: em,
			})
		}
	}
}

// drawOverlay emits rings for emphasised nodes and labels in importance
// order up to MaxLabels.
func (p *Pipeline) drawOverlay(f Frame, stats *FrameStats) {
	defer metrics.Timer(metrics.OverlayPass)()

	items := p.overlay
	sort.SliceStable(items, func(i, j int) bool {
		ei, ej := items[i].emphasis, items[j].emphasis
		if ei != ej {
			return ei > ej
		}
		if items[i].node.Importance != items[j].node.Importance {
			return items[i].node.Importance > items[j].node.Importance
		}
		return items[i].node.ID < items[j].node.ID
	})

	ov := p.dev.Overlay()
	for _, it := range items {
		switch it.emphasis {
		case highlight.Focus:
			ov.Ring(it.screen, it.radius+3, 2, p.style.FocusRing)
			stats.Rings++
		case highlight.Neighbor:
			ov.Ring(it.screen, it.radius+2, 1.5, p.style.Neighbor)
			stats.Rings++
		}
		if stats.Labels >= p.style.MaxLabels {
			continue
		}
		text := labelFor(f, it.node)
		if text == "" {
			continue
		}
		ov.Label(r2.Vec{X: it.screen.X + it.radius + 3, Y: it.screen.Y}, text, p.style.Label)
		stats.Labels++
	}
}

func labelFor(f Frame, n model.Node) string {
	if s, ok := f.Labels[n.ID]; ok {
		return s
	}
	if n.Label != "" {
		return lod.TruncateLabel(n.Label, f.Camera.Zoom)
	}
	return n.ID
}

// segmentVisible is a conservative test: the segment's bounding box must
// overlap the view.
func segmentVisible(a, b r2.Vec, view r2.Box) bool {
	return math.Max(a.X, b.X) >= view.Min.X && math.Min(a.X, b.X) <= view.Max.X &&
		math.Max(a.Y, b.Y) >= view.Min.Y && math.Min(a.Y, b.Y) <= view.Max.Y
}
