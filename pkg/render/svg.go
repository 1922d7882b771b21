package render

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"math"

	svg "github.com/ajstarks/svgo"
	"gonum.org/v1/gonum/spatial/r2"
)

// SVGDevice renders frames as SVG documents. Bytes returns the last
// presented frame.
type SVGDevice struct {
	store    bufferStore
	width    int
	height   int
	uniforms Uniforms
	buf      bytes.Buffer
	canvas   *svg.SVG
	last     []byte
}

// NewSVGDevice returns an uninitialised SVG device.
func NewSVGDevice() *SVGDevice { return &SVGDevice{} }

func (d *SVGDevice) Init(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: surface %dx%d", ErrUnsupported, width, height)
	}
	d.width, d.height = width, height
	return nil
}

func (d *SVGDevice) CreateBuffer() (Buffer, error) { return d.store.create(), nil }

func (d *SVGDevice) DeleteBuffer(b Buffer) { d.store.delete(b) }

func (d *SVGDevice) Upload(b Buffer, data []float32) error { return d.store.upload(b, data) }

func (d *SVGDevice) SetUniforms(u Uniforms) { d.uniforms = u }

func (d *SVGDevice) Begin(clear color.RGBA) {
	d.buf.Reset()
	d.canvas = svg.New(&d.buf)
	d.canvas.Start(d.width, d.height)
	d.canvas.Rect(0, 0, d.width, d.height, fmt.Sprintf("fill:%s", css(clear)))
}

func (d *SVGDevice) Draw(p Program, call DrawCall) error {
	if d.canvas == nil {
		return fmt.Errorf("render: draw outside a frame")
	}
	pos, col, size, err := d.store.vertices(p, call)
	if err != nil {
		return err
	}
	cam, vp := d.uniforms.Camera, d.uniforms.Viewport
	screen := func(i int) (int, int) {
		s := cam.WorldToScreen(r2.Vec{X: float64(pos[2*i]), Y: float64(pos[2*i+1])}, vp)
		return int(math.Round(s.X)), int(math.Round(s.Y))
	}

	switch p {
	case ProgramLines:
		d.canvas.Group(`class="edges"`)
		for i := 0; i+1 < call.Count; i += 2 {
			x1, y1 := screen(i)
			x2, y2 := screen(i + 1)
			d.canvas.Line(x1, y1, x2, y2, fmt.Sprintf("stroke:%s;stroke-opacity:%.2f;stroke-width:1", cssAt(col, i), col[4*i+3]))
		}
		d.canvas.Gend()
	case ProgramPoints:
		d.canvas.Group(`class="nodes"`)
		for i := 0; i < call.Count; i++ {
			x, y := screen(i)
			r := max(1, int(math.Round(float64(size[i])*cam.Zoom)))
			d.canvas.Circle(x, y, r, fmt.Sprintf("fill:%s;fill-opacity:%.2f", cssAt(col, i), col[4*i+3]))
		}
		d.canvas.Gend()
	default:
		return fmt.Errorf("render: unknown program %d", p)
	}
	return nil
}

func (d *SVGDevice) Overlay() Overlay { return svgOverlay{d} }

func (d *SVGDevice) Present() error {
	if d.canvas == nil {
		return fmt.Errorf("render: present outside a frame")
	}
	d.canvas.End()
	d.last = append(d.last[:0], d.buf.Bytes()...)
	d.canvas = nil
	return nil
}

// Lost is always false; an SVG document cannot lose its context.
func (d *SVGDevice) Lost() bool { return false }

func (d *SVGDevice) Resize(width, height int) {
	if width > 0 && height > 0 {
		d.width, d.height = width, height
	}
}

func (d *SVGDevice) Release() {
	d.store.reset()
	d.canvas = nil
}

// Bytes returns the last presented document.
func (d *SVGDevice) Bytes() []byte { return d.last }

// WriteTo writes the last presented document to w.
func (d *SVGDevice) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(d.last)
	return int64(n), err
}

type svgOverlay struct{ d *SVGDevice }

func (o svgOverlay) Label(at r2.Vec, text string, c color.RGBA) {
	if o.d.canvas == nil {
		return
	}
	o.d.canvas.Text(int(math.Round(at.X)), int(math.Round(at.Y))+4, text,
		fmt.Sprintf("fill:%s;font-size:11px;font-family:monospace", css(c)))
}

func (o svgOverlay) Ring(at r2.Vec, radius, width float64, c color.RGBA) {
	if o.d.canvas == nil {
		return
	}
	o.d.canvas.Circle(int(math.Round(at.X)), int(math.Round(at.Y)), max(1, int(math.Round(radius))),
		fmt.Sprintf("fill:none;stroke:%s;stroke-width:%.1f", css(c), width))
}

func css(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// cssAt formats the straight (non-premultiplied) colour of vertex i.
func cssAt(col []float32, i int) string {
	c := col[4*i : 4*i+3]
	return fmt.Sprintf("#%02x%02x%02x", unit8(c[0]), unit8(c[1]), unit8(c[2]))
}
