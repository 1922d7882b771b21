package model

import "gonum.org/v1/gonum/spatial/r2"

// Viewport is the drawing surface size in pixels.
type Viewport struct {
	Width  float64
	Height float64
}

// Center returns the screen-space centre of the viewport.
func (v Viewport) Center() r2.Vec { return r2.Vec{X: v.Width / 2, Y: v.Height / 2} }

// Area returns Width*Height, or 0 for a degenerate viewport.
func (v Viewport) Area() float64 {
	if v.Width <= 0 || v.Height <= 0 {
		return 0
	}
	return v.Width * v.Height
}

// Camera maps world space onto the viewport. Pan is the world point shown
// at the viewport centre; Zoom is pixels per world unit and always > 0.
type Camera struct {
	Zoom float64
	Pan  r2.Vec
}

// DefaultCamera is the identity view centred on the origin.
func DefaultCamera() Camera { return Camera{Zoom: 1} }

// WorldToScreen converts a world position to pixel coordinates.
func (c Camera) WorldToScreen(p r2.Vec, vp Viewport) r2.Vec {
	return r2.Add(r2.Scale(c.Zoom, r2.Sub(p, c.Pan)), vp.Center())
}

// ScreenToWorld converts pixel coordinates to a world position.
func (c Camera) ScreenToWorld(s r2.Vec, vp Viewport) r2.Vec {
	z := c.Zoom
	if z <= 0 {
		z = 1
	}
	return r2.Add(r2.Scale(1/z, r2.Sub(s, vp.Center())), c.Pan)
}

// VisibleWorld returns the world-space rectangle covered by the viewport.
func (c Camera) VisibleWorld(vp Viewport) r2.Box {
	return r2.Box{
		Min: c.ScreenToWorld(r2.Vec{}, vp),
		Max: c.ScreenToWorld(r2.Vec{X: vp.Width, Y: vp.Height}, vp),
	}
}
