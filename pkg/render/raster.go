package render

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"git.sr.ht/~sbinet/gg"
	"golang.org/x/image/font/basicfont"
	"gonum.org/v1/gonum/spatial/r2"
)

// RasterDevice draws into an in-memory RGBA image. Lose and Restore
// simulate a device reset for hosts and tests.
type RasterDevice struct {
	store    bufferStore
	dc       *gg.Context
	width    int
	height   int
	uniforms Uniforms
	lost     bool
	frames   int
}

// NewRasterDevice returns an uninitialised raster device.
func NewRasterDevice() *RasterDevice { return &RasterDevice{} }

// Init allocates the drawing surface.
func (d *RasterDevice) Init(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: surface %dx%d", ErrUnsupported, width, height)
	}
	d.width, d.height = width, height
	d.dc = gg.NewContext(width, height)
	d.dc.SetFontFace(basicfont.Face7x13)
	return nil
}

func (d *RasterDevice) CreateBuffer() (Buffer, error) {
	if d.lost {
		return 0, ErrContextLost
	}
	return d.store.create(), nil
}

func (d *RasterDevice) DeleteBuffer(b Buffer) { d.store.delete(b) }

func (d *RasterDevice) Upload(b Buffer, data []float32) error {
	if d.lost {
		return ErrContextLost
	}
	return d.store.upload(b, data)
}

func (d *RasterDevice) SetUniforms(u Uniforms) { d.uniforms = u }

func (d *RasterDevice) Begin(clear color.RGBA) {
	if d.dc == nil {
		return
	}
	d.dc.SetColor(clear)
	d.dc.Clear()
}

func (d *RasterDevice) Draw(p Program, call DrawCall) error {
	if d.lost {
		return ErrContextLost
	}
	if d.dc == nil {
		return fmt.Errorf("render: draw before init")
	}
	pos, col, size, err := d.store.vertices(p, call)
	if err != nil {
		return err
	}
	cam, vp := d.uniforms.Camera, d.uniforms.Viewport
	screen := func(i int) r2.Vec {
		return cam.WorldToScreen(r2.Vec{X: float64(pos[2*i]), Y: float64(pos[2*i+1])}, vp)
	}

	switch p {
	case ProgramLines:
		d.dc.SetLineWidth(1)
		for i := 0; i+1 < call.Count; i += 2 {
			a, b := screen(i), screen(i+1)
			d.dc.SetColor(rgba(col, i))
			d.dc.DrawLine(a.X, a.Y, b.X, b.Y)
			d.dc.Stroke()
		}
	case ProgramPoints:
		for i := 0; i < call.Count; i++ {
			c := screen(i)
			r := float64(size[i]) * cam.Zoom
			if r < 0.5 {
				r = 0.5
			}
			d.dc.SetColor(rgba(col, i))
			d.dc.DrawCircle(c.X, c.Y, r)
			d.dc.Fill()
		}
	default:
		return fmt.Errorf("render: unknown program %d", p)
	}
	return nil
}

func (d *RasterDevice) Overlay() Overlay { return rasterOverlay{d} }

func (d *RasterDevice) Present() error {
	if d.lost {
		return ErrContextLost
	}
	d.frames++
	return nil
}

func (d *RasterDevice) Lost() bool { return d.lost }

// Resize reallocates the surface. Buffers survive a resize.
func (d *RasterDevice) Resize(width, height int) {
	if width <= 0 || height <= 0 || (width == d.width && height == d.height) {
		return
	}
	d.width, d.height = width, height
	d.dc = gg.NewContext(width, height)
	d.dc.SetFontFace(basicfont.Face7x13)
}

// Release frees every buffer and the surface.
func (d *RasterDevice) Release() {
	d.store.reset()
	d.dc = nil
}

// Lose drops every buffer as a device reset would.
func (d *RasterDevice) Lose() {
	d.lost = true
	d.store.reset()
}

// Restore makes the device usable again. Old buffer handles stay invalid.
func (d *RasterDevice) Restore() { d.lost = false }

// Frames returns the number of presented frames.
func (d *RasterDevice) Frames() int { return d.frames }

// Buffers returns the number of live buffers.
func (d *RasterDevice) Buffers() int { return d.store.len() }

// Image returns the current surface.
func (d *RasterDevice) Image() image.Image {
	if d.dc == nil {
		return nil
	}
	return d.dc.Image()
}

// EncodePNG writes the current surface as PNG.
func (d *RasterDevice) EncodePNG(w io.Writer) error {
	if d.dc == nil {
		return fmt.Errorf("render: no surface")
	}
	return d.dc.EncodePNG(w)
}

// SavePNG writes the current surface to path, creating parent directories.
func (d *RasterDevice) SavePNG(path string) error {
	if d.dc == nil {
		return fmt.Errorf("render: no surface")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	return d.dc.SavePNG(path)
}

type rasterOverlay struct{ d *RasterDevice }

func (o rasterOverlay) Label(at r2.Vec, text string, c color.RGBA) {
	if o.d.dc == nil || o.d.lost {
		return
	}
	o.d.dc.SetColor(c)
	o.d.dc.DrawStringAnchored(text, at.X, at.Y, 0, 0.5)
}

func (o rasterOverlay) Ring(at r2.Vec, radius, width float64, c color.RGBA) {
	if o.d.dc == nil || o.d.lost {
		return
	}
	o.d.dc.SetColor(c)
	o.d.dc.SetLineWidth(width)
	o.d.dc.DrawCircle(at.X, at.Y, radius)
	o.d.dc.Stroke()
}
