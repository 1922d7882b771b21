package layout

import (
	"fmt"

	"github.com/vanderheijden86/histviz/pkg/config"
)

// TickStats summarizes one simulation step.
type TickStats struct {
	MaxDisplacement float64
	Alpha           float64
	Sanitized       int
}

// Strategy is a layout algorithm operating on a Graph in place.
type Strategy interface {
	// Mode returns the config name of the strategy.
	Mode() string
	// Place lays the graph out from scratch. Pinned nodes stay put.
	Place(g *Graph)
	// Tick advances the layout by one frame.
	Tick(g *Graph) TickStats
	// Converged reports whether further ticks would be no-ops.
	Converged() bool
	// Reheat re-excites the layout to at least alpha.
	Reheat(alpha float64)
}

// New returns the strategy for cfg.Layout.Mode.
func New(cfg config.Config) (Strategy, error) {
	switch cfg.Layout.Mode {
	case config.ModeForce, "":
		return NewForce(cfg.Force, cfg.Render, cfg.Layout.Seed), nil
	case config.ModeTimeRadial:
		return NewSpiral(cfg.Spiral), nil
	default:
		return nil, fmt.Errorf("unknown layout mode %q", cfg.Layout.Mode)
	}
}
