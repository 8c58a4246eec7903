package inference

import (
	"context"
	"fmt"

	"github.com/samcharles93/phylonn/internal/checkpoint"
	"github.com/samcharles93/phylonn/internal/config"
	"github.com/samcharles93/phylonn/internal/logger"
	"github.com/samcharles93/phylonn/internal/permute"
	"github.com/samcharles93/phylonn/internal/seqmodel"
	"github.com/samcharles93/phylonn/internal/stage"
	"github.com/samcharles93/phylonn/internal/toy"
)

// Checkpoint prefixes of the two parameterised collaborators.
const (
	PrefixTransformer = "transformer"
	PrefixFirstStage  = "first_stage_model"
)

// Loader builds a sequence model and its toy collaborators from a
// configuration, restoring parameters from the configured checkpoint.
type Loader struct {
	Config config.Config
	Logger logger.Logger
}

type LoadResult struct {
	Engine      *EngineImpl
	Model       *seqmodel.Model
	Backbone    *toy.Backbone
	Classifier  *toy.Classifier
	Transformer *toy.Bigram
	Permuter    permute.Permuter
	// Restored reports key mismatches per prefix of a non-strict load.
	Restored map[string]checkpoint.LoadResult
}

func (l Loader) Load(ctx context.Context) (*LoadResult, error) {
	cfg := l.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := l.Logger
	if log == nil {
		log = logger.FromContext(ctx)
	}
	smCfg, err := cfg.SeqModel()
	if err != nil {
		return nil, err
	}

	perm, err := permute.New(cfg.PermuterSpec())
	if err != nil {
		return nil, err
	}
	backbone, err := toy.NewBackbone(toy.BackboneConfig{
		Hierarchy: cfg.Hierarchy,
		ImageSize: cfg.Backbone.ImageSize,
		Channels:  cfg.Backbone.Channels,
		Seed:      cfg.Backbone.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("build backbone: %w", err)
	}
	var classifier *toy.Classifier
	if cfg.Backbone.Classes > 0 {
		classifier = &toy.Classifier{Backbone: backbone, Classes: cfg.Backbone.Classes}
	}

	cond, shape, err := buildCond(cfg, backbone)
	if err != nil {
		return nil, err
	}
	block := cfg.Transformer.BlockSize
	if block == 0 {
		block = shape.condLen + shape.targetLen - 1
	}
	transformer, err := toy.NewBigram(shape.vocab, cfg.Transformer.Hidden, block, cfg.Transformer.Seed)
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}

	res := &LoadResult{
		Backbone:    backbone,
		Classifier:  classifier,
		Transformer: transformer,
		Permuter:    perm,
	}
	if cfg.Checkpoint.Path != "" {
		if res.Restored, err = restore(cfg.Checkpoint, log, res); err != nil {
			return nil, err
		}
	}

	deps := seqmodel.Deps{
		Cond:        cond,
		Transformer: transformer,
		Permuter:    perm,
		Logger:      log,
	}
	if classifier != nil {
		deps.Classifier = classifier
	}
	if smCfg.Strategy == seqmodel.StrategyPhylo {
		deps.Phylo = backbone
	} else {
		deps.Backbone = backbone
	}
	model, err := seqmodel.New(smCfg, deps)
	if err != nil {
		return nil, err
	}
	res.Model = model
	res.Engine = NewEngine(model, cfg.Backbone.ImageSize, cfg.Backbone.Channels)
	log.Debug("model loaded", "strategy", smCfg.Strategy, "block_size", block, "vocab_size", shape.vocab, "cond", cfg.Cond.Kind)
	return res, nil
}

// StateDict returns the parameters of the loaded collaborators under their
// checkpoint prefixes.
func (r *LoadResult) StateDict() checkpoint.StateDict {
	out := make(checkpoint.StateDict)
	for prefix, m := range r.modules() {
		for name, t := range checkpoint.Collect(m) {
			out[prefix+"."+name] = t
		}
	}
	return out
}

func (r *LoadResult) modules() map[string]checkpoint.Module {
	return map[string]checkpoint.Module{
		PrefixTransformer: r.Transformer,
		PrefixFirstStage:  r.Backbone,
	}
}

func restore(cc config.Checkpoint, log logger.Logger, r *LoadResult) (map[string]checkpoint.LoadResult, error) {
	sd, err := checkpoint.Load(cc.Path)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	sd = sd.Filter(cc.IgnoreKeys, log)
	out := make(map[string]checkpoint.LoadResult)
	for prefix, m := range r.modules() {
		lr, err := checkpoint.Apply(m, sd.Sub(prefix), cc.Strict)
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", prefix, err)
		}
		if len(lr.Missing) > 0 || len(lr.Unexpected) > 0 {
			log.Warn("checkpoint keys did not line up", "prefix", prefix, "missing", lr.Missing, "unexpected", lr.Unexpected)
		}
		out[prefix] = lr
	}
	log.Info("restored checkpoint", "path", cc.Path)
	return out, nil
}

type seqShape struct {
	condLen   int
	targetLen int
	vocab     int
}

// buildCond builds the condition stage and sizes the transformer so that
// both the conditioning and the target codes fit its vocabulary and block.
func buildCond(cfg config.Config, backbone *toy.Backbone) (stage.CondStage, seqShape, error) {
	h := cfg.Hierarchy
	shape := seqShape{condLen: 1, targetLen: h.SequenceLength(), vocab: h.CodebookSize}
	grow := func(n int) {
		if n > shape.vocab {
			shape.vocab = n
		}
	}

	switch cfg.Cond.Kind {
	case config.CondUnconditional:
		grow(cfg.Cond.SOSToken + 1)
		return stage.SOSProvider{Token: cfg.Cond.SOSToken}, shape, nil
	case config.CondFirstStage:
		shape.condLen = h.SequenceLength()
		return stage.FirstStageCond{Backbone: backbone}, shape, nil
	case config.CondLabel:
		grow(cfg.Backbone.Classes)
		grow(len(cfg.Cond.Ancestry))
		if cfg.Cond.PhyloLevel < 0 {
			return stage.LabelCond{}, shape, nil
		}
		mapper, err := stage.NewPhyloMapper(cfg.Cond.PhyloLevel, cfg.Cond.Ancestry)
		if err != nil {
			return nil, seqShape{}, err
		}
		grow(mapper.NumClasses())
		if cfg.Model.Strategy != seqmodel.StrategyGeneric.String() {
			shape.targetLen = h.CodebooksPerLevel * (cfg.Cond.PhyloLevel + 1)
		}
		return stage.LabelCond{PhyloMapper: mapper}, shape, nil
	default:
		return nil, seqShape{}, fmt.Errorf("%w: unknown cond kind %q", config.ErrInvalid, cfg.Cond.Kind)
	}
}
