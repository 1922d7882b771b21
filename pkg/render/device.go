// Package render draws the visible graph through a Device.
//
// A frame is drawn in two passes over five vertex buffers that are created
// once and re-uploaded every frame: line segments for edges, then circular
// point sprites for nodes. Labels and emphasis rings go through a separate
// overlay pass. Devices may be lost at any time; the pipeline drops the
// frame and re-acquires its buffers once the device is back.
package render

import (
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/vanderheijden86/histviz/pkg/model"
)

var (
	// ErrUnsupported means the device cannot draw at all. Terminal for the
	// view; the rest of the engine keeps running.
	ErrUnsupported = errors.New("render: device unsupported")
	// ErrContextLost means the device dropped its resources. The frame is
	// dropped and buffers are re-acquired on a later frame.
	ErrContextLost = errors.New("render: context lost")
)

// Buffer is a device-side vertex buffer handle.
type Buffer int

// Program selects the draw primitive.
type Program int

const (
	// ProgramLines draws one segment per vertex pair.
	ProgramLines Program = iota
	// ProgramPoints draws one filled circle per vertex.
	ProgramPoints
)

func (p Program) String() string {
	if p == ProgramPoints {
		return "points"
	}
	return "lines"
}

// DrawCall binds buffers to a program. Positions hold world-space xy pairs
// and Colors straight rgba in [0,1]. Sizes holds one world-space radius per
// vertex and is only read by ProgramPoints.
type DrawCall struct {
	Positions Buffer
	Colors    Buffer
	Sizes     Buffer
	Count     int
}

// Uniforms is per-frame state shared by every draw call.
type Uniforms struct {
	Camera   model.Camera
	Viewport model.Viewport
}

// Overlay draws screen-space decorations after the geometry passes.
type Overlay interface {
	Label(at r2.Vec, text string, c color.RGBA)
	Ring(at r2.Vec, radius, width float64, c color.RGBA)
}

// Device is the drawing backend.
type Device interface {
	Init(width, height int) error
	CreateBuffer() (Buffer, error)
	DeleteBuffer(Buffer)
	Upload(b Buffer, data []float32) error
	SetUniforms(Uniforms)
	Begin(clear color.RGBA)
	Draw(p Program, call DrawCall) error
	Overlay() Overlay
	Present() error
	Lost() bool
	Resize(width, height int)
	Release()
}

// bufferStore is the in-memory buffer table shared by the software devices.
// Handles are never reused, so a handle from before a reset stays invalid.
type bufferStore struct {
	data map[Buffer][]float32
	next Buffer
}

func (s *bufferStore) create() Buffer {
	if s.data == nil {
		s.data = make(map[Buffer][]float32)
	}
	s.next++
	s.data[s.next] = nil
	return s.next
}

func (s *bufferStore) upload(b Buffer, data []float32) error {
	buf, ok := s.data[b]
	if !ok {
		return fmt.Errorf("%w: unknown buffer %d", ErrContextLost, b)
	}
	s.data[b] = append(buf[:0], data...)
	return nil
}

func (s *bufferStore) get(b Buffer) ([]float32, error) {
	buf, ok := s.data[b]
	if !ok {
		return nil, fmt.Errorf("%w: unknown buffer %d", ErrContextLost, b)
	}
	return buf, nil
}

func (s *bufferStore) delete(b Buffer) { delete(s.data, b) }

func (s *bufferStore) reset() { s.data = nil }

func (s *bufferStore) len() int { return len(s.data) }

// vertices reads a draw call's buffers and checks their lengths against
// Count.
func (s *bufferStore) vertices(p Program, call DrawCall) (pos, col, size []float32, err error) {
	if pos, err = s.get(call.Positions); err != nil {
		return nil, nil, nil, err
	}
	if col, err = s.get(call.Colors); err != nil {
		return nil, nil, nil, err
	}
	if len(pos) < 2*call.Count || len(col) < 4*call.Count {
		return nil, nil, nil, fmt.Errorf("render: %s draw of %d vertices exceeds buffers", p, call.Count)
	}
	if p == ProgramPoints {
		if size, err = s.get(call.Sizes); err != nil {
			return nil, nil, nil, err
		}
		if len(size) < call.Count {
			return nil, nil, nil, fmt.Errorf("render: %s draw of %d vertices exceeds size buffer", p, call.Count)
		}
	}
	return pos, col, size, nil
}

func rgba(col []float32, i int) color.RGBA {
	c := col[4*i : 4*i+4]
	return color.RGBA{R: unit8(c[0] * c[3]), G: unit8(c[1] * c[3]), B: unit8(c[2] * c[3]), A: unit8(c[3])}
}

func unit8(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	default:
		return uint8(v*255 + 0.5)
	}
}
