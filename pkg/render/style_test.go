package render

import (
	"testing"

	"github.com/vanderheijden86/histviz/pkg/config"
	"github.com/vanderheijden86/histviz/pkg/model"
)

func defaultSpiral() config.SpiralConfig { return config.DefaultConfig().Spiral }

func TestStyleFromRejectsBadBackground(t *testing.T) {
	cfg := config.DefaultConfig().Render
	cfg.Background = "not-a-colour"
	if _, err := StyleFrom(cfg); err == nil {
		t.Error("expected an error for an invalid background")
	}
}

func TestNodeColorSchemes(t *testing.T) {
	s := DefaultStyle()
	commit := model.Node{ID: "c", Kind: model.KindCommit, FolderGroup: "pkg/a", Community: 2}
	file := model.Node{ID: "f", Kind: model.KindFile, FolderGroup: "pkg/a", Community: 3}

	if s.NodeColor(commit) == s.NodeColor(file) {
		t.Error("kind scheme should separate commits and files")
	}

	s.ColorBy = config.ColorByFolder
	if s.NodeColor(commit) != s.NodeColor(file) {
		t.Error("folder scheme should colour a shared folder alike")
	}
	if s.NodeColor(model.Node{}) != s.Unassigned {
		t.Error("node without folder should be unassigned")
	}

	s.ColorBy = config.ColorByCommunity
	if s.NodeColor(commit) == s.NodeColor(file) {
		t.Error("different communities should differ")
	}
	if s.NodeColor(model.Node{Community: -1}) != s.Unassigned {
		t.Error("unassigned community should use the unassigned colour")
	}
}

func TestGroupColorStable(t *testing.T) {
	if groupColor("folder:pkg") != groupColor("folder:pkg") {
		t.Error("group colour is not stable")
	}
}
