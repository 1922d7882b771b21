package engine

import (
	"slices"

	"github.com/vanderheijden86/histviz/pkg/config"
)

// Options are the host-tunable settings that may change at runtime.
type Options struct {
	LayoutMode       string
	EdgeKindsVisible []string // empty shows every kind
	MaxVisibleEdges  int      // 0 uses the LoD budget alone
	ViewportWidth    int
	ViewportHeight   int
}

// Option mutates Options at construction.
type Option func(*Options)

// WithLayoutMode selects force or time-radial layout.
func WithLayoutMode(mode string) Option {
	return func(o *Options) { o.LayoutMode = mode }
}

// WithEdgeKinds restricts visible edges to kinds.
func WithEdgeKinds(kinds ...string) Option {
	return func(o *Options) { o.EdgeKindsVisible = append([]string(nil), kinds...) }
}

// WithMaxVisibleEdges caps the visible edge count below the LoD budget.
func WithMaxVisibleEdges(n int) Option {
	return func(o *Options) { o.MaxVisibleEdges = n }
}

// WithViewport sets the initial surface size.
func WithViewport(width, height int) Option {
	return func(o *Options) {
		o.ViewportWidth = width
		o.ViewportHeight = height
	}
}

func defaultOptions(cfg config.Config) Options {
	return Options{
		LayoutMode:     cfg.Layout.Mode,
		ViewportWidth:  cfg.Viewport.Width,
		ViewportHeight: cfg.Viewport.Height,
	}
}

func (o Options) equalFilters(other Options) bool {
	return o.MaxVisibleEdges == other.MaxVisibleEdges && slices.Equal(o.EdgeKindsVisible, other.EdgeKindsVisible)
}
