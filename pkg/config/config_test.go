package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Layout.Mode != ModeForce {
		t.Errorf("expected default mode %q, got %q", ModeForce, cfg.Layout.Mode)
	}
	if cfg.Force.Chain.Stiffness <= cfg.Force.Touch.Stiffness {
		t.Errorf("chain springs should be stiffer than touch springs: %v vs %v",
			cfg.Force.Chain.Stiffness, cfg.Force.Touch.Stiffness)
	}
	if cfg.Force.Damping >= 1 {
		t.Errorf("damping must be < 1, got %v", cfg.Force.Damping)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFrom_NonExistent(t *testing.T) {
	cfg, err := LoadFrom("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.LoD.BaseNodes != 20000 {
		t.Errorf("expected default config, got base nodes %d", cfg.LoD.BaseNodes)
	}
}

func TestLoadFrom_PartialOverridesKeepDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
layout:
  mode: Time-Radial
force:
  chain:
    rest: 55
spiral:
  arm_gap: 120
camera:
  quiescence: 2s
offload:
  threshold: 50
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Layout.Mode != ModeTimeRadial {
		t.Errorf("expected mode normalized to %q, got %q", ModeTimeRadial, cfg.Layout.Mode)
	}
	if cfg.Force.Chain.Rest != 55 {
		t.Errorf("expected chain rest 55, got %v", cfg.Force.Chain.Rest)
	}
	if cfg.Force.Chain.Stiffness != 0.08 {
		t.Errorf("expected default chain stiffness to survive, got %v", cfg.Force.Chain.Stiffness)
	}
	if cfg.Spiral.ArmGap != 120 || cfg.Spiral.InnerRadius != 60 {
		t.Errorf("unexpected spiral config %+v", cfg.Spiral)
	}
	if cfg.Camera.Quiescence != 2*time.Second {
		t.Errorf("expected quiescence 2s, got %v", cfg.Camera.Quiescence)
	}
	if cfg.Offload.Threshold != 50 || !cfg.Offload.Enabled {
		t.Errorf("unexpected offload config %+v", cfg.Offload)
	}
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("force: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFrom_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "layout:\n  mode: hexagonal\nforce:\n  damping: 1.5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadFrom(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "hexagonal") || !strings.Contains(err.Error(), "damping") {
		t.Errorf("expected both problems reported, got %v", err)
	}
}

func TestSaveTo_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Layout.Mode = ModeTimeRadial
	cfg.Render.ColorBy = "folder"

	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}
	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if loaded.Layout.Mode != ModeTimeRadial || loaded.Render.ColorBy != "folder" {
		t.Errorf("round trip lost values: %+v", loaded.Layout)
	}
}

func TestConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")
	if got := ConfigDir(); got != "/tmp/xdg-test/histviz" {
		t.Errorf("ConfigDir = %q", got)
	}
	if got := ConfigPath(); got != "/tmp/xdg-test/histviz/config.yaml" {
		t.Errorf("ConfigPath = %q", got)
	}
}
