package render

import (
	"fmt"
	"image/color"
	"strconv"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/vanderheijden86/histviz/pkg/config"
	"github.com/vanderheijden86/histviz/pkg/highlight"
	"github.com/vanderheijden86/histviz/pkg/layout"
	"github.com/vanderheijden86/histviz/pkg/model"
)

// Style holds everything the pipeline needs to colour and size a frame.
type Style struct {
	Background     color.RGBA
	ColorBy        string
	MinRadius      float64
	MaxRadius      float64
	MaxLabels      int
	LabelMinRadius float64

	Kinds      map[model.NodeKind]colorful.Color
	Edges      map[model.EdgeKind]colorful.Color
	OtherEdge  colorful.Color
	Unassigned colorful.Color
	Label      color.RGBA
	FocusRing  color.RGBA
	Neighbor   color.RGBA
}

var (
	kindPalette = map[model.NodeKind]string{
		model.KindCommit: "#f2c14e",
		model.KindFile:   "#5fa8d3",
		model.KindFolder: "#7bc47f",
		model.KindOther:  "#b0a8b9",
	}
	edgePalette = map[model.EdgeKind]string{
		model.EdgeChain:   "#f2c14e",
		model.EdgeTouch:   "#6c7a96",
		model.EdgeRelated: "#9b7fc6",
	}
)

// StyleFrom builds a Style from the render section of the config.
func StyleFrom(cfg config.RenderConfig) (Style, error) {
	bg, err := colorful.Hex(cfg.Background)
	if err != nil {
		return Style{}, fmt.Errorf("render.background %q: %w", cfg.Background, err)
	}
	s := Style{
		Background:     opaque(bg),
		ColorBy:        cfg.ColorBy,
		MinRadius:      cfg.MinRadius,
		MaxRadius:      cfg.MaxRadius,
		MaxLabels:      cfg.MaxLabels,
		LabelMinRadius: cfg.LabelMinRadius,
		Kinds:          make(map[model.NodeKind]colorful.Color, len(kindPalette)),
		Edges:          make(map[model.EdgeKind]colorful.Color, len(edgePalette)),
		OtherEdge:      mustHex("#4a5061"),
		Unassigned:     mustHex("#6b6f7a"),
		Label:          color.RGBA{R: 0xe6, G: 0xe8, B: 0xee, A: 0xff},
		FocusRing:      color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
		Neighbor:       color.RGBA{R: 0xff, G: 0xd1, B: 0x66, A: 0xff},
	}
	for k, hex := range kindPalette {
		s.Kinds[k] = mustHex(hex)
	}
	for k, hex := range edgePalette {
		s.Edges[k] = mustHex(hex)
	}
	return s, nil
}

// DefaultStyle is StyleFrom applied to the default render config.
func DefaultStyle() Style {
	s, err := StyleFrom(config.DefaultConfig().Render)
	if err != nil {
		panic(err)
	}
	return s
}

// NodeColor returns the fill of n under the style's colouring scheme.
// Folder and community colours are spread over the hue circle by a stable
// hash of the group key.
func (s Style) NodeColor(n model.Node) colorful.Color {
	switch s.ColorBy {
	case config.ColorByFolder:
		if n.FolderGroup == "" {
			return s.Unassigned
		}
		return groupColor("folder:" + n.FolderGroup)
	case config.ColorByCommunity:
		if n.Community < 0 {
			return s.Unassigned
		}
		return groupColor("community:" + strconv.Itoa(n.Community))
	}
	if c, ok := s.Kinds[n.Kind]; ok {
		return c
	}
	return s.Kinds[model.KindOther]
}

// EdgeColor returns the stroke of an edge kind.
func (s Style) EdgeColor(kind model.EdgeKind) colorful.Color {
	if c, ok := s.Edges[kind]; ok {
		return c
	}
	return s.OtherEdge
}

// Radius returns the world-space sprite radius of n.
func (s Style) Radius(n model.Node) float64 {
	return layout.NodeRadius(n.Importance, s.MinRadius, s.MaxRadius)
}

func nodeAlpha(e highlight.Emphasis) float32 {
	if e == highlight.Dim {
		return 0.25
	}
	return 1
}

func edgeAlpha(kind model.EdgeKind, e highlight.Emphasis) float32 {
	switch e {
	case highlight.Focus:
		return 0.95
	case highlight.Dim:
		return 0.06
	}
	if kind == model.EdgeChain {
		return 0.7
	}
	return 0.35
}

func groupColor(key string) colorful.Color {
	h := layout.HashUnit(key, 'h')
	l := 0.55 + 0.1*layout.HashUnit(key, 'l')
	return colorful.Hsl(360*h, 0.6, l).Clamped()
}

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(err)
	}
	return c
}

func opaque(c colorful.Color) color.RGBA {
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}
