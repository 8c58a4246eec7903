package seqmodel

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/phylonn/internal/logger"
	"github.com/samcharles93/phylonn/internal/permute"
	"github.com/samcharles93/phylonn/internal/stage"
	"github.com/samcharles93/phylonn/internal/tensor"
	"github.com/samcharles93/phylonn/internal/toy"
)

func TestSharedStepMonitorsOnSchedule(t *testing.T) {
	t.Parallel()
	mapper, err := stage.NewPhyloMapper(1, ancestry())
	if err != nil {
		t.Fatalf("NewPhyloMapper: %v", err)
	}
	bb := newBackbone(t)
	m := newPhyloModel(t,
		withCond(stage.LabelCond{PhyloMapper: mapper}),
		withClassifier(toy.Classifier{Backbone: bb, Classes: 4}),
		func(c *Config, _ *Deps) { c.MonitorEvery = 2 },
	)
	b := testBatch(3)
	ctx := context.Background()

	res, err := m.TrainingStep(ctx, b, 0)
	if err != nil {
		t.Fatalf("TrainingStep: %v", err)
	}
	if !res.Monitored {
		t.Fatal("batch 0 should be monitored")
	}
	for _, f1 := range []float64{res.F1Samples, res.F1Det} {
		if f1 < 0 || f1 > 1 {
			t.Fatalf("F1 %v out of range", f1)
		}
	}
	if res.Loss <= 0 {
		t.Fatalf("loss %v should be positive", res.Loss)
	}

	res, err = m.ValidationStep(ctx, b, 1)
	if err != nil {
		t.Fatalf("ValidationStep: %v", err)
	}
	if res.Monitored {
		t.Fatal("batch 1 should not be monitored")
	}

	tr := m.Metrics()
	if tr.Count("train/loss") != 1 || tr.Count("val/loss") != 1 {
		t.Fatal("losses were not tracked per split")
	}
	if tr.Count("train/f1_samples_nopix") != 1 || tr.Count("train/f1_x_sample_det") != 1 {
		t.Fatal("F1 values were not tracked")
	}
	if tr.Count("val/f1_x_sample_det") != 0 {
		t.Fatal("unmonitored batch logged F1")
	}
}

func TestSharedStepSkipsMonitorWithoutResources(t *testing.T) {
	t.Parallel()
	bb := newBackbone(t)
	ctx := context.Background()

	noClassifier := newPhyloModel(t)
	res, err := noClassifier.TrainingStep(ctx, testBatch(2), 0)
	if err != nil || res.Monitored {
		t.Fatalf("without classifier: res=%+v err=%v", res, err)
	}

	noTruth := newPhyloModel(t, withClassifier(toy.Classifier{Backbone: bb, Classes: 4}))
	b := testBatch(2)
	b.Labels = nil
	res, err = noTruth.TrainingStep(ctx, b, 0)
	if err != nil || res.Monitored {
		t.Fatalf("without truth: res=%+v err=%v", res, err)
	}
}

type failingClassifier struct{}

func (failingClassifier) Classify([]tensor.Image) ([]int, error) {
	return nil, errors.New("head offline")
}

func (failingClassifier) NumClasses() int { return 2 }

func TestSharedStepMonitorErrorsDoNotFailStep(t *testing.T) {
	t.Parallel()
	m := newPhyloModel(t, withClassifier(failingClassifier{}), func(_ *Config, d *Deps) { d.Logger = logger.Discard() })
	res, err := m.TrainingStep(context.Background(), testBatch(2), 0)
	if err != nil {
		t.Fatalf("TrainingStep: %v", err)
	}
	if res.Monitored {
		t.Fatal("failed monitor reported as monitored")
	}
	if res.Loss <= 0 {
		t.Fatalf("loss %v should still be computed", res.Loss)
	}
}

func TestLogImages(t *testing.T) {
	t.Parallel()
	m := newPhyloModel(t)
	out, err := m.LogImages(context.Background(), testBatch(6), LogOptions{})
	if err != nil {
		t.Fatalf("LogImages: %v", err)
	}
	for _, key := range []string{"inputs", "reconstructions", "samples_nopix", "samples_det"} {
		imgs, ok := out[key]
		if !ok {
			t.Fatalf("missing %q", key)
		}
		if len(imgs) != 4 {
			t.Fatalf("%s has %d images, want 4", key, len(imgs))
		}
	}
	if _, err := m.LogImages(context.Background(), stage.Batch{}, LogOptions{}); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestGenerateKeepsCodesOutsideRestrictedTarget(t *testing.T) {
	t.Parallel()
	mapper, err := stage.NewPhyloMapper(0, ancestry())
	if err != nil {
		t.Fatalf("NewPhyloMapper: %v", err)
	}
	m := newPhyloModel(t, withCond(stage.LabelCond{PhyloMapper: mapper}), withPermuter(permute.Identity{}))
	b := testBatch(3)

	gen, err := m.Generate(context.Background(), b, SampleOptions{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(gen.Codes) != 3 || len(gen.Codes[0]) != 4 {
		t.Fatalf("unexpected code shape %d x %d", len(gen.Codes), len(gen.Codes[0]))
	}
	if len(gen.Images) != 3 {
		t.Fatalf("got %d images, want 3", len(gen.Images))
	}

	split, _ := newBackbone(t).EncodePhylo(b.Images)
	h := testHierarchy()
	for i, seq := range gen.Native {
		if len(seq) != h.SequenceLength() {
			t.Fatalf("native %d has length %d", i, len(seq))
		}
		for pos := 0; pos < h.CodebooksPerLevel; pos++ {
			if seq[pos*h.PhyloLevels] != gen.Codes[i][pos] {
				t.Fatalf("element %d position %d: sampled code not placed at level 0", i, pos)
			}
			for lvl := 1; lvl < h.PhyloLevels; lvl++ {
				if seq[pos*h.PhyloLevels+lvl] != split.PhyloIdx[i][pos*h.PhyloLevels+lvl] {
					t.Fatalf("element %d position %d level %d: code not taken from input", i, pos, lvl)
				}
			}
		}
		if diff := cmp.Diff(split.NonPhyloIdx[i], seq[h.PhyloCodes():]); diff != "" {
			t.Fatalf("non-phylo codes changed (-want +got):\n%s", diff)
		}
	}

	if _, err := m.Generate(context.Background(), stage.Batch{}, SampleOptions{}); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}
