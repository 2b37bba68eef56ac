package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_FullConfig(t *testing.T) {
	content := `
server:
  port: 9000
  title: "Spleen atlas"
data:
  datasets:
    spleen: "/data/spleen/cells.csv.gz"
    tonsil: "/data/tonsil/cells.tsv"
  default_dataset: spleen
cache:
  frame_size_mb: 64
viewer:
  index_kind: quadtree
  min_scale: 5
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.Title != "Spleen atlas" {
		t.Errorf("unexpected title: %q", cfg.Server.Title)
	}
	if cfg.Data.DefaultDataset != "spleen" {
		t.Errorf("expected default dataset spleen, got %q", cfg.Data.DefaultDataset)
	}
	if cfg.Cache.FrameSizeMB != 64 {
		t.Errorf("expected frame cache 64MB, got %d", cfg.Cache.FrameSizeMB)
	}
	if cfg.Viewer.IndexKind != "quadtree" {
		t.Errorf("expected quadtree index, got %q", cfg.Viewer.IndexKind)
	}
	if cfg.Viewer.MinScale != 5 {
		t.Errorf("expected min_scale 5, got %v", cfg.Viewer.MinScale)
	}

	ids := cfg.Data.DatasetIDs()
	if len(ids) != 2 || ids[0] != "spleen" {
		t.Errorf("unexpected dataset ids: %v", ids)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
data:
  datasets:
    test: "/test/cells.csv"
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Data.DefaultDataset != "test" {
		t.Errorf("expected sole dataset as default, got %q", cfg.Data.DefaultDataset)
	}
	if cfg.Cache.FrameSizeMB != 256 {
		t.Errorf("expected default frame cache 256, got %d", cfg.Cache.FrameSizeMB)
	}
	if cfg.Render.LODThreshold != 160 {
		t.Errorf("expected default LOD threshold 160, got %v", cfg.Render.LODThreshold)
	}
	if cfg.Render.Colormap != "expression" {
		t.Errorf("expected default colormap, got %q", cfg.Render.Colormap)
	}
	if cfg.Viewer.FitFraction != 0.44 {
		t.Errorf("expected default fit fraction 0.44, got %v", cfg.Viewer.FitFraction)
	}
	if cfg.Viewer.IndexKind != "grid" {
		t.Errorf("expected default grid index, got %q", cfg.Viewer.IndexKind)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server: [broken"), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected YAML parse error")
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
