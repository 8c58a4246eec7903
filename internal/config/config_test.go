package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/phylonn/internal/codes"
	"github.com/samcharles93/phylonn/internal/metrics"
	"github.com/samcharles93/phylonn/internal/seqmodel"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
model:
  pkeep: 0.5
  f1_average: macro
hierarchy:
  codebooks_per_level: 9
  n_phylolevels: 3
permuter:
  kind: shuffle
  seed: 11
cond:
  kind: label
  phylo_level: 1
  ancestry: [[0, 0], [1, 0], [2, 1]]
backbone:
  classes: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := codes.Hierarchy{CodebooksPerLevel: 9, PhyloLevels: 3, NonAttrLevels: 2, CodebookSize: 16, EmbedDim: 3}
	if diff := cmp.Diff(want, cfg.Hierarchy); diff != "" {
		t.Fatalf("hierarchy (-want +got):\n%s", diff)
	}
	if cfg.Model.TopK != seqmodel.DefaultTopK {
		t.Fatalf("top_k default lost: %d", cfg.Model.TopK)
	}
	if cfg.Permuter.Kind != "shuffle" || cfg.Permuter.Seed != 11 {
		t.Fatalf("unexpected permuter %+v", cfg.Permuter)
	}

	sm, err := cfg.SeqModel()
	if err != nil {
		t.Fatalf("SeqModel: %v", err)
	}
	if sm.Strategy != seqmodel.StrategyPhylo || sm.PKeep != 0.5 || sm.F1Average != metrics.Macro {
		t.Fatalf("unexpected seqmodel config %+v", sm)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"pkeep above one", func(c *Config) { c.Model.PKeep = 1.5 }},
		{"negative pkeep", func(c *Config) { c.Model.PKeep = -0.1 }},
		{"unknown strategy", func(c *Config) { c.Model.Strategy = "diffusion" }},
		{"unknown average", func(c *Config) { c.Model.F1Average = "weighted" }},
		{"unknown permuter", func(c *Config) { c.Permuter.Kind = "zigzag" }},
		{"unknown cond", func(c *Config) { c.Cond.Kind = "bbox" }},
		{"level without ancestry", func(c *Config) { c.Cond.Kind = CondLabel; c.Cond.PhyloLevel = 0 }},
		{"level out of range", func(c *Config) {
			c.Cond.Kind = CondLabel
			c.Cond.PhyloLevel = 2
			c.Cond.Ancestry = [][]int{{0, 0}}
		}},
		{"ancestry shorter than classes", func(c *Config) {
			c.Cond = Cond{Kind: CondLabel, PhyloLevel: 1, Ancestry: [][]int{{0, 0}, {0, 1}, {1, 2}, {1, 3}}}
			c.Backbone.Classes = 8
		}},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero hidden", func(c *Config) { c.Transformer.Hidden = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestValidateHierarchy(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Hierarchy.PhyloLevels = 0
	if err := cfg.Validate(); !errors.Is(err, codes.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Checkpoint.IgnoreKeys = []string{"loss."}
	cfg.Cond = Cond{Kind: CondLabel, PhyloLevel: 0, Ancestry: [][]int{{0}, {0}, {1}}}
	cfg.Backbone.Classes = 3
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Parallel()
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("expected defaults (-want +got):\n%s", diff)
	}
	if _, err := Load(writeConfig(t, "model: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPermuterSpecDefaultsPositions(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Permuter.Kind = "level_major"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := cfg.PermuterSpec().Positions; got != cfg.Hierarchy.CodebooksPerLevel {
		t.Fatalf("positions = %d, want %d", got, cfg.Hierarchy.CodebooksPerLevel)
	}
}
