// Package config loads the YAML run configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/phylonn/internal/codes"
	"github.com/samcharles93/phylonn/internal/metrics"
	"github.com/samcharles93/phylonn/internal/permute"
	"github.com/samcharles93/phylonn/internal/seqmodel"
)

var ErrInvalid = errors.New("config: invalid")

// Condition stage kinds.
const (
	CondUnconditional = "unconditional"
	CondFirstStage    = "first_stage"
	CondLabel         = "label"
)

// Config is the phylonn configuration file. Fields missing from the file
// keep their Default values.
type Config struct {
	Model       Model           `yaml:"model"`
	Hierarchy   codes.Hierarchy `yaml:"hierarchy"`
	Permuter    permute.Spec    `yaml:"permuter"`
	Cond        Cond            `yaml:"cond"`
	Backbone    Backbone        `yaml:"backbone"`
	Transformer Transformer     `yaml:"transformer"`
	Checkpoint  Checkpoint      `yaml:"checkpoint"`
	Logging     Logging         `yaml:"logging"`
	Server      Server          `yaml:"server"`
	RunStore    RunStore        `yaml:"runstore"`
}

type Model struct {
	Strategy           string  `yaml:"strategy"`
	PKeep              float64 `yaml:"pkeep"`
	TopK               int     `yaml:"top_k"`
	MonitorEvery       int     `yaml:"monitor_every"`
	DownsampleCondSize int     `yaml:"downsample_cond_size"`
	F1Average          string  `yaml:"f1_average"`
	Seed               int64   `yaml:"seed"`
}

// Cond selects the condition stage. PhyloLevel and Ancestry only apply to
// the label kind; a negative PhyloLevel conditions on the raw label.
type Cond struct {
	Kind       string  `yaml:"kind"`
	SOSToken   int     `yaml:"sos_token"`
	PhyloLevel int     `yaml:"phylo_level"`
	Ancestry   [][]int `yaml:"ancestry,omitempty"`
}

type Backbone struct {
	ImageSize int   `yaml:"image_size"`
	Channels  int   `yaml:"channels"`
	Seed      int64 `yaml:"seed"`
	// Classes sizes the monitoring classifier; zero disables it.
	Classes int `yaml:"classes"`
}

// Transformer sizes the bigram transformer. A zero BlockSize is derived
// from the hierarchy and the condition length.
type Transformer struct {
	Hidden    int   `yaml:"hidden"`
	BlockSize int   `yaml:"block_size"`
	Seed      int64 `yaml:"seed"`
}

type Checkpoint struct {
	Path       string   `yaml:"path"`
	IgnoreKeys []string `yaml:"ignore_keys,omitempty"`
	Strict     bool     `yaml:"strict"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Server struct {
	Address string `yaml:"address"`
}

type RunStore struct {
	Path string `yaml:"path"`
}

// Default returns a configuration that runs end to end with the toy models.
func Default() Config {
	return Config{
		Model: Model{
			Strategy:           seqmodel.StrategyPhylo.String(),
			PKeep:              1,
			TopK:               seqmodel.DefaultTopK,
			MonitorEvery:       seqmodel.DefaultMonitorEvery,
			DownsampleCondSize: -1,
			F1Average:          metrics.Micro.String(),
		},
		Hierarchy: codes.Hierarchy{
			CodebooksPerLevel: 4,
			PhyloLevels:       2,
			NonAttrLevels:     2,
			CodebookSize:      16,
			EmbedDim:          3,
		},
		Permuter:    permute.Spec{Kind: "identity"},
		Cond:        Cond{Kind: CondUnconditional, PhyloLevel: -1},
		Backbone:    Backbone{ImageSize: 16, Channels: 3, Seed: 1, Classes: 8},
		Transformer: Transformer{Hidden: 32, Seed: 2},
		Checkpoint:  Checkpoint{Strict: true},
		Logging:     Logging{Level: "info", Format: "auto"},
		Server:      Server{Address: "127.0.0.1:8090"},
	}
}

// Load reads path over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load for an optional file: an empty path or a missing
// file yields Default.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Path returns the default config location (~/.config/phylonn/config.yaml).
func Path() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "phylonn", "config.yaml")
}

func (c Config) Validate() error {
	if err := c.Hierarchy.Validate(); err != nil {
		return err
	}
	if _, err := seqmodel.ParseStrategy(c.Model.Strategy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := metrics.ParseAverage(c.Model.F1Average); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Model.PKeep < 0 || c.Model.PKeep > 1 {
		return fmt.Errorf("%w: pkeep %v outside [0, 1]", ErrInvalid, c.Model.PKeep)
	}
	if _, err := permute.New(c.PermuterSpec()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.Cond.Kind {
	case CondUnconditional, CondFirstStage:
	case CondLabel:
		if c.Cond.PhyloLevel >= 0 {
			if c.Cond.PhyloLevel >= c.Hierarchy.PhyloLevels {
				return fmt.Errorf("%w: cond.phylo_level %d outside %d phylo levels", ErrInvalid, c.Cond.PhyloLevel, c.Hierarchy.PhyloLevels)
			}
			if len(c.Cond.Ancestry) == 0 {
				return fmt.Errorf("%w: cond.phylo_level needs an ancestry table", ErrInvalid)
			}
			// the classifier's predictions go through the same table
			if len(c.Cond.Ancestry) < c.Backbone.Classes {
				return fmt.Errorf("%w: ancestry has %d rows for %d backbone classes", ErrInvalid, len(c.Cond.Ancestry), c.Backbone.Classes)
			}
		}
	default:
		return fmt.Errorf("%w: unknown cond.kind %q", ErrInvalid, c.Cond.Kind)
	}
	if c.Cond.SOSToken < 0 {
		return fmt.Errorf("%w: negative sos_token", ErrInvalid)
	}
	if c.Backbone.ImageSize <= 0 || c.Backbone.Channels <= 0 {
		return fmt.Errorf("%w: backbone image_size and channels must be positive", ErrInvalid)
	}
	if c.Backbone.Classes < 0 {
		return fmt.Errorf("%w: negative backbone.classes", ErrInvalid)
	}
	if c.Transformer.Hidden <= 0 || c.Transformer.BlockSize < 0 {
		return fmt.Errorf("%w: transformer hidden must be positive and block_size non-negative", ErrInvalid)
	}
	switch c.Logging.Format {
	case "", "auto", "json", "pretty", "text":
	default:
		return fmt.Errorf("%w: unknown logging.format %q", ErrInvalid, c.Logging.Format)
	}
	return nil
}

// SeqModel converts the model section into sequence model hyperparameters.
func (c Config) SeqModel() (seqmodel.Config, error) {
	strategy, err := seqmodel.ParseStrategy(c.Model.Strategy)
	if err != nil {
		return seqmodel.Config{}, err
	}
	avg, err := metrics.ParseAverage(c.Model.F1Average)
	if err != nil {
		return seqmodel.Config{}, err
	}
	return seqmodel.Config{
		Strategy:           strategy,
		PKeep:              c.Model.PKeep,
		DownsampleCondSize: c.Model.DownsampleCondSize,
		TopK:               c.Model.TopK,
		MonitorEvery:       c.Model.MonitorEvery,
		F1Average:          avg,
		Seed:               c.Model.Seed,
	}, nil
}

// PermuterSpec returns the permuter section with level_major positions
// defaulting to codebooks_per_level.
func (c Config) PermuterSpec() permute.Spec {
	spec := c.Permuter
	if spec.Kind == "level_major" && spec.Positions == 0 {
		spec.Positions = c.Hierarchy.CodebooksPerLevel
	}
	return spec
}
