// ABOUTME: Tests for YAML configuration loading
// ABOUTME: Covers defaults, overrides, validation and layout registry construction

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nainya/cmsengine/pkg/layout"
)

func TestLoadEmptyUsesDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Failed to load empty config: %v", err)
	}
	if cfg.Server.GrpcPort != 50051 || cfg.Database.Path != "cmsengine.db" {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
	if cfg.Resolver.MaxDepth != 256 {
		t.Errorf("Expected max depth 256, got %d", cfg.Resolver.MaxDepth)
	}
}

func TestLoadOverridesAndInlineLayouts(t *testing.T) {
	doc := `
server:
  grpc_port: 6000
  metrics_port: 0
database:
  path: /var/lib/cms/cms.db
resolver:
  max_depth: 0
layouts:
  - ref: default
    slots:
      sidebar: {inherit: true, merge: true, inheritable_types: [banner]}
      main: {}
`
	cfg, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Server.GrpcPort != 6000 || cfg.Server.MetricsPort != 0 {
		t.Errorf("Expected ports 6000/0, got %d/%d", cfg.Server.GrpcPort, cfg.Server.MetricsPort)
	}
	if cfg.Resolver.MaxDepth != 256 {
		t.Errorf("Expected zero max depth clamped to 256, got %d", cfg.Resolver.MaxDepth)
	}

	reg, err := cfg.Registry()
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	p, err := reg.Policy("default", "sidebar")
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if !p.MergeMode() || !p.Inheritable("banner") || p.Inheritable("text") {
		t.Errorf("Unexpected sidebar policy %+v", p)
	}
}

func TestLayoutsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layouts.yaml")
	body := "layouts:\n  - ref: landing\n    slots:\n      hero: {inherit: true}\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write layouts file: %v", err)
	}

	cfg := Default()
	cfg.LayoutsFile = path
	reg, err := cfg.Registry()
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	p, err := reg.Policy("landing", "hero")
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if p.MergeMode() {
		t.Error("Expected replace mode for hero")
	}

	cfg.LayoutsFile = filepath.Join(dir, "missing.yaml")
	if _, err := cfg.Registry(); !errors.Is(err, layout.ErrConfiguration) {
		t.Errorf("Expected configuration error for a missing file, got %v", err)
	}
}

func TestValidation(t *testing.T) {
	cases := []string{
		"server: {grpc_port: 70000}",
		"server: {metrics_port: -1}",
		"database: {path: \"\"}",
	}
	for _, doc := range cases {
		if _, err := Load(strings.NewReader(doc)); !errors.Is(err, ErrInvalid) {
			t.Errorf("Expected ErrInvalid for %q, got %v", doc, err)
		}
	}

	if _, err := Load(strings.NewReader("server: [")); err == nil {
		t.Error("Expected decode error for malformed YAML")
	}
}
