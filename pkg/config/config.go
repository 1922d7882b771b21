// Package config handles loading and saving histviz configuration.
//
// Configuration follows the XDG Base Directory specification:
//   - Config: ~/.config/histviz/config.yaml
//
// Every engine stage takes its section of Config by value. The file is
// unmarshalled over DefaultConfig, so keys absent from YAML keep defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const appName = "histviz"

// Layout modes.
const (
	ModeForce      = "force"
	ModeTimeRadial = "time-radial"
)

// Repulsion strategies for the force layout above ExactLimit.
const (
	RepulsionBarnesHut = "barnes-hut"
	RepulsionSampled   = "sampled"
)

// Node colouring schemes.
const (
	ColorByKind      = "kind"
	ColorByFolder    = "folder"
	ColorByCommunity = "community"
)

// LayoutConfig selects the layout strategy.
type LayoutConfig struct {
	Mode string `yaml:"mode"` // force, time-radial
	Seed uint64 `yaml:"seed"`
}

// SpringConfig is the rest length and stiffness for one edge kind.
type SpringConfig struct {
	Rest      float64 `yaml:"rest"`
	Stiffness float64 `yaml:"stiffness"`
}

// ForceConfig tunes the force simulation.
type ForceConfig struct {
	Chain             SpringConfig `yaml:"chain"`
	Touch             SpringConfig `yaml:"touch"`
	Other             SpringConfig `yaml:"other"`
	Repulsion         float64      `yaml:"repulsion"`
	Softening         float64      `yaml:"softening"`
	Centering         float64      `yaml:"centering"`
	Collision         float64      `yaml:"collision"`
	Damping           float64      `yaml:"damping"`
	AlphaDecay        float64      `yaml:"alpha_decay"`
	AlphaMin          float64      `yaml:"alpha_min"`
	MaxSpeed          float64      `yaml:"max_speed"`
	ConvergeThreshold float64      `yaml:"converge_threshold"`
	ExactLimit        int          `yaml:"exact_limit"`
	Strategy          string       `yaml:"strategy"` // barnes-hut, sampled
	Theta             float64      `yaml:"theta"`
	SampleSize        int          `yaml:"sample_size"`
	ReleaseReheat     float64      `yaml:"release_reheat"`
	SnapshotReheat    float64      `yaml:"snapshot_reheat"`
}

// SpiralConfig tunes the time-radial layout.
type SpiralConfig struct {
	InnerRadius  float64 `yaml:"inner_radius"`
	AngleStep    float64 `yaml:"angle_step"`
	ArmGap       float64 `yaml:"arm_gap"`
	BranchBase   float64 `yaml:"branch_base"`
	BranchStep   float64 `yaml:"branch_step"`
	TwigGap      float64 `yaml:"twig_gap"`
	MaxPerBranch int     `yaml:"max_per_branch"`
	Jitter       float64 `yaml:"jitter"`
}

// LoDConfig holds the static performance budgets.
type LoDConfig struct {
	BaseNodes       int     `yaml:"base_nodes"`
	BaseEdges       int     `yaml:"base_edges"`
	ReferenceWidth  float64 `yaml:"reference_width"`
	ReferenceHeight float64 `yaml:"reference_height"`
	MinScale        float64 `yaml:"min_scale"`
	MaxScale        float64 `yaml:"max_scale"`
}

// RenderConfig controls sprite sizing and the overlay.
type RenderConfig struct {
	MinRadius      float64 `yaml:"min_radius"`
	MaxRadius      float64 `yaml:"max_radius"`
	ColorBy        string  `yaml:"color_by"` // kind, folder, community
	MaxLabels      int     `yaml:"max_labels"`
	LabelMinRadius float64 `yaml:"label_min_radius"`
	Background     string  `yaml:"background"`
}

// CameraConfig tunes auto-fit and manual interaction.
type CameraConfig struct {
	Padding    float64       `yaml:"padding"`
	Smoothing  float64       `yaml:"smoothing"`
	MinZoom    float64       `yaml:"min_zoom"`
	MaxZoom    float64       `yaml:"max_zoom"`
	Quiescence time.Duration `yaml:"quiescence"`
	WheelStep  float64       `yaml:"wheel_step"`
	ClickSlop  float64       `yaml:"click_slop"`
}

// OffloadConfig controls background graph algorithms.
type OffloadConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold int           `yaml:"threshold"`
	Workers   int           `yaml:"workers"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ViewportConfig is the initial surface size.
type ViewportConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	FPS    int `yaml:"fps"`
}

// Config is the top-level configuration.
type Config struct {
	Layout   LayoutConfig   `yaml:"layout"`
	Force    ForceConfig    `yaml:"force"`
	Spiral   SpiralConfig   `yaml:"spiral"`
	LoD      LoDConfig      `yaml:"lod"`
	Render   RenderConfig   `yaml:"render"`
	Camera   CameraConfig   `yaml:"camera"`
	Offload  OffloadConfig  `yaml:"offload"`
	Viewport ViewportConfig `yaml:"viewport"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Layout: LayoutConfig{Mode: ModeForce, Seed: 1},
		Force: ForceConfig{
			Chain:             SpringConfig{Rest: 40, Stiffness: 0.08},
			Touch:             SpringConfig{Rest: 25, Stiffness: 0.03},
			Other:             SpringConfig{Rest: 60, Stiffness: 0.02},
			Repulsion:         1200,
			Softening:         25,
			Centering:         0.005,
			Collision:         0.5,
			Damping:           0.85,
			AlphaDecay:        0.985,
			AlphaMin:          0.001,
			MaxSpeed:          40,
			ConvergeThreshold: 0.05,
			ExactLimit:        1500,
			Strategy:          RepulsionBarnesHut,
			Theta:             0.8,
			SampleSize:        24,
			ReleaseReheat:     0.3,
			SnapshotReheat:    0.5,
		},
		Spiral: SpiralConfig{
			InnerRadius:  60,
			AngleStep:    0.35,
			ArmGap:       90,
			BranchBase:   18,
			BranchStep:   10,
			TwigGap:      8,
			MaxPerBranch: 6,
			Jitter:       30,
		},
		LoD: LoDConfig{
			BaseNodes:       20000,
			BaseEdges:       40000,
			ReferenceWidth:  1280,
			ReferenceHeight: 800,
			MinScale:        0.5,
			MaxScale:        4,
		},
		Render: RenderConfig{
			MinRadius:      2,
			MaxRadius:      14,
			ColorBy:        ColorByKind,
			MaxLabels:      200,
			LabelMinRadius: 4,
			Background:     "#0f1117",
		},
		Camera: CameraConfig{
			Padding:    0.1,
			Smoothing:  0.2,
			MinZoom:    0.02,
			MaxZoom:    20,
			Quiescence: 1500 * time.Millisecond,
			WheelStep:  1.1,
			ClickSlop:  4,
		},
		Offload: OffloadConfig{
			Enabled:   true,
			Threshold: 300,
			Workers:   2,
			Timeout:   30 * time.Second,
		},
		Viewport: ViewportConfig{Width: 1280, Height: 800, FPS: 60},
	}
}

// Validate reports every setting that would break an engine invariant.
func (c Config) Validate() error {
	var errs []error
	switch c.Layout.Mode {
	case ModeForce, ModeTimeRadial:
	default:
		errs = append(errs, fmt.Errorf("layout.mode: unknown mode %q", c.Layout.Mode))
	}
	if c.Force.Damping <= 0 || c.Force.Damping >= 1 {
		errs = append(errs, fmt.Errorf("force.damping must be in (0,1), got %v", c.Force.Damping))
	}
	if c.Force.AlphaDecay <= 0 || c.Force.AlphaDecay >= 1 {
		errs = append(errs, fmt.Errorf("force.alpha_decay must be in (0,1), got %v", c.Force.AlphaDecay))
	}
	switch c.Force.Strategy {
	case RepulsionBarnesHut, RepulsionSampled:
	default:
		errs = append(errs, fmt.Errorf("force.strategy: unknown strategy %q", c.Force.Strategy))
	}
	if c.Render.MinRadius <= 0 || c.Render.MaxRadius < c.Render.MinRadius {
		errs = append(errs, fmt.Errorf("render radius range [%v,%v] invalid", c.Render.MinRadius, c.Render.MaxRadius))
	}
	switch c.Render.ColorBy {
	case ColorByKind, ColorByFolder, ColorByCommunity:
	default:
		errs = append(errs, fmt.Errorf("render.color_by: unknown scheme %q", c.Render.ColorBy))
	}
	if c.Camera.MinZoom <= 0 || c.Camera.MaxZoom < c.Camera.MinZoom {
		errs = append(errs, fmt.Errorf("camera zoom range [%v,%v] invalid", c.Camera.MinZoom, c.Camera.MaxZoom))
	}
	if c.LoD.BaseNodes <= 0 || c.LoD.BaseEdges <= 0 {
		errs = append(errs, errors.New("lod budgets must be positive"))
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		errs = append(errs, fmt.Errorf("viewport %dx%d invalid", c.Viewport.Width, c.Viewport.Height))
	}
	return errors.Join(errs...)
}

// ConfigDir returns the XDG config directory for histviz.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName)
}

// ConfigPath returns the full path to config.yaml.
func ConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads the config file from the XDG config directory.
// Returns DefaultConfig if the file doesn't exist.
func Load() (Config, error) {
	path := ConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads config from a specific path, layering it over the defaults.
// Returns DefaultConfig if the file doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Layout.Mode = strings.ToLower(strings.TrimSpace(cfg.Layout.Mode))
	cfg.Render.ColorBy = strings.ToLower(strings.TrimSpace(cfg.Render.ColorBy))

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to the XDG config directory.
func Save(cfg Config) error {
	path := ConfigPath()
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the config to a specific path.
func SaveTo(cfg Config, path string) error {
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
