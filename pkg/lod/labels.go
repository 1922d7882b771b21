package lod

import "github.com/mattn/go-runewidth"

const ellipsis = "…"

// LabelBudget returns the number of display cells a label may use at zoom.
// A negative budget means the full text.
func LabelBudget(zoom float64) int {
	switch {
	case zoom >= 0.8:
		return -1
	case zoom >= 0.5:
		return 17
	case zoom >= LabelZoom:
		return 7
	default:
		return 2
	}
}

// TruncateLabel shortens s to the zoom budget, appending an ellipsis when
// text was cut. Width is measured in terminal cells so wide runes count
// double.
func TruncateLabel(s string, zoom float64) string {
	budget := LabelBudget(zoom)
	if budget < 0 || runewidth.StringWidth(s) <= budget {
		return s
	}
	return runewidth.Truncate(s, budget, "") + ellipsis
}
