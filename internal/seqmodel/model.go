// Package seqmodel models the flattened code sequence of a VQ backbone with
// an autoregressive transformer: it composes target and conditioning
// sequences, computes the training loss, samples new codes and decodes them
// back to images.
package seqmodel

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/samcharles93/phylonn/internal/codes"
	"github.com/samcharles93/phylonn/internal/logger"
	"github.com/samcharles93/phylonn/internal/metrics"
	"github.com/samcharles93/phylonn/internal/permute"
	"github.com/samcharles93/phylonn/internal/stage"
)

var (
	ErrContextExceeded = errors.New("seqmodel: sequence exceeds transformer block size")
	ErrEmptyCondition  = errors.New("seqmodel: conditioning sequence is empty")
	ErrConfig          = errors.New("seqmodel: invalid configuration")
	ErrEmptyBatch      = errors.New("seqmodel: empty batch")
)

// Strategy selects how the target sequence is composed from the backbone.
type Strategy int

const (
	// StrategyGeneric models the single code grid of a plain backbone.
	StrategyGeneric Strategy = iota
	// StrategyPhylo models phylo codes followed by non-phylo codes.
	StrategyPhylo
)

func (s Strategy) String() string {
	switch s {
	case StrategyGeneric:
		return "generic"
	case StrategyPhylo:
		return "phylo"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "phylo":
		return StrategyPhylo, nil
	case "generic":
		return StrategyGeneric, nil
	default:
		return 0, fmt.Errorf("%w: unknown strategy %q", ErrConfig, s)
	}
}

// Config holds the sequence model hyperparameters.
type Config struct {
	Strategy Strategy
	// PKeep is the probability of keeping a target code during training.
	// PKeep <= 0 also switches sampling to the single-shot path.
	PKeep float64
	// DownsampleCondSize resizes conditioning images to a square of this
	// size before the condition stage runs. Non-positive disables it.
	DownsampleCondSize int
	TopK               int
	MonitorEvery       int
	F1Average          metrics.Average
	Seed               int64
}

const (
	DefaultTopK         = 100
	DefaultMonitorEvery = 100
)

// Deps are the collaborators of a Model. Backbone is required for
// StrategyGeneric and Phylo for StrategyPhylo. Classifier is optional; the
// classification monitor is skipped without it.
type Deps struct {
	Backbone    stage.Backbone
	Phylo       stage.PhyloBackbone
	Classifier  stage.Classifier
	Cond        stage.CondStage
	Transformer stage.Transformer
	Permuter    permute.Permuter
	Logger      logger.Logger
	Metrics     *metrics.Tracker
}

// Model is the conditional code-sequence transformer. A Model is not safe
// for concurrent use.
type Model struct {
	cfg     Config
	comp    composer
	cond    stage.CondStage
	tr      stage.Transformer
	perm    permute.Permuter
	cls     stage.Classifier
	log     logger.Logger
	tracker *metrics.Tracker
	rng     *rand.Rand
	level   int
	leveled bool
}

// New validates the configuration and wires the collaborators.
func New(cfg Config, deps Deps) (*Model, error) {
	if cfg.PKeep < 0 || cfg.PKeep > 1 {
		return nil, fmt.Errorf("%w: pkeep %v outside [0, 1]", ErrConfig, cfg.PKeep)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MonitorEvery <= 0 {
		cfg.MonitorEvery = DefaultMonitorEvery
	}
	if deps.Cond == nil || deps.Transformer == nil {
		return nil, fmt.Errorf("%w: condition stage and transformer are required", ErrConfig)
	}
	if deps.Permuter == nil {
		deps.Permuter = permute.Identity{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewTracker()
	}

	m := &Model{
		cfg:     cfg,
		cond:    deps.Cond,
		tr:      deps.Transformer,
		perm:    deps.Permuter,
		cls:     deps.Classifier,
		log:     deps.Logger.With("component", "seqmodel"),
		tracker: deps.Metrics,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}

	switch cfg.Strategy {
	case StrategyGeneric:
		if deps.Backbone == nil {
			return nil, fmt.Errorf("%w: generic strategy needs a backbone", ErrConfig)
		}
		m.comp = genericComposer{backbone: deps.Backbone}
	case StrategyPhylo:
		if deps.Phylo == nil {
			return nil, fmt.Errorf("%w: phylo strategy needs a phylo backbone", ErrConfig)
		}
		h := deps.Phylo.Hierarchy()
		if err := h.Validate(); err != nil {
			return nil, err
		}
		pc := &phyloComposer{backbone: deps.Phylo, h: h, conv: codes.Converter{CodebooksPerLevel: h.CodebooksPerLevel}, level: -1}
		if lc, ok := deps.Cond.(stage.LeveledCond); ok {
			if level, ok := lc.Level(); ok {
				if level < 0 || level >= h.PhyloLevels {
					return nil, fmt.Errorf("%w: condition level %d outside %d phylo levels", ErrConfig, level, h.PhyloLevels)
				}
				pc.level = level
				m.level, m.leveled = level, true
			}
		}
		m.comp = pc
	default:
		return nil, fmt.Errorf("%w: unknown strategy %d", ErrConfig, cfg.Strategy)
	}
	return m, nil
}

// Config returns the normalised configuration.
func (m *Model) Config() Config { return m.cfg }

// Metrics returns the tracker the steps log into.
func (m *Model) Metrics() *metrics.Tracker { return m.tracker }

// Info describes the model for inspection and the HTTP API.
type Info struct {
	Strategy     string           `json:"strategy"`
	BlockSize    int              `json:"block_size"`
	VocabSize    int              `json:"vocab_size"`
	TargetLength int              `json:"target_length,omitempty"`
	CondLevel    *int             `json:"cond_level,omitempty"`
	Hierarchy    *codes.Hierarchy `json:"hierarchy,omitempty"`
	PKeep        float64          `json:"pkeep"`
	TopK         int              `json:"top_k"`
}

func (m *Model) Info() Info {
	info := Info{
		Strategy:     m.cfg.Strategy.String(),
		BlockSize:    m.tr.BlockSize(),
		VocabSize:    m.tr.VocabSize(),
		TargetLength: m.comp.targetLength(),
		PKeep:        m.cfg.PKeep,
		TopK:         m.cfg.TopK,
	}
	if pc, ok := m.comp.(*phyloComposer); ok {
		h := pc.h
		info.Hierarchy = &h
	}
	if m.leveled {
		level := m.level
		info.CondLevel = &level
	}
	return info
}
