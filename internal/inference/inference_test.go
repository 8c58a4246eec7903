package inference

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/phylonn/internal/checkpoint"
	"github.com/samcharles93/phylonn/internal/config"
	"github.com/samcharles93/phylonn/internal/logger"
	"github.com/samcharles93/phylonn/internal/stage"
	"github.com/samcharles93/phylonn/internal/tensor"
)

func load(t *testing.T, cfg config.Config) *LoadResult {
	t.Helper()
	res, err := Loader{Config: cfg, Logger: logger.Discard()}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return res
}

func TestLoadDefaultSizesTransformer(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	res := load(t, cfg)
	h := cfg.Hierarchy
	info := res.Engine.Info()
	if info.BlockSize != h.SequenceLength() {
		t.Fatalf("block size %d, want %d", info.BlockSize, h.SequenceLength())
	}
	if info.VocabSize != h.CodebookSize {
		t.Fatalf("vocab size %d, want %d", info.VocabSize, h.CodebookSize)
	}
	if info.Strategy != "phylo" || info.Hierarchy == nil {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestLoadCondKinds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		mutate     func(*config.Config)
		wantBlock  int
		wantVocab  int
		wantTarget int
	}{
		{
			name:       "first stage",
			mutate:     func(c *config.Config) { c.Cond.Kind = config.CondFirstStage },
			wantBlock:  16 + 16 - 1,
			wantVocab:  16,
			wantTarget: 16,
		},
		{
			name: "label restricted",
			mutate: func(c *config.Config) {
				c.Cond = config.Cond{Kind: config.CondLabel, PhyloLevel: 0, Ancestry: [][]int{{0, 0}, {0, 1}, {1, 2}}}
				c.Backbone.Classes = 3
			},
			wantBlock:  4,
			wantVocab:  16,
			wantTarget: 4,
		},
		{
			name: "large sos token",
			mutate: func(c *config.Config) {
				c.Cond.SOSToken = 20
			},
			wantBlock:  16,
			wantVocab:  21,
			wantTarget: 16,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tt.mutate(&cfg)
			info := load(t, cfg).Model.Info()
			if info.BlockSize != tt.wantBlock || info.VocabSize != tt.wantVocab || info.TargetLength != tt.wantTarget {
				t.Fatalf("got block %d vocab %d target %d, want %d %d %d",
					info.BlockSize, info.VocabSize, info.TargetLength, tt.wantBlock, tt.wantVocab, tt.wantTarget)
			}
		})
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	src := load(t, cfg)
	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := checkpoint.Save(path, src.StateDict(), "F32"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cfg.Transformer.Seed = 99
	cfg.Backbone.Seed = 98
	fresh := load(t, cfg)
	if cmp.Equal(src.StateDict(), fresh.StateDict()) {
		t.Fatal("different seeds produced identical parameters")
	}
	cfg.Checkpoint.Path = path
	restored := load(t, cfg)
	if diff := cmp.Diff(src.StateDict(), restored.StateDict()); diff != "" {
		t.Fatalf("restored parameters differ (-want +got):\n%s", diff)
	}
}

func TestCheckpointIgnoreKeys(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	src := load(t, cfg)
	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := checkpoint.Save(path, src.StateDict(), "F32"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cfg.Checkpoint.Path = path
	cfg.Checkpoint.IgnoreKeys = []string{PrefixTransformer + ".head"}

	if _, err := (Loader{Config: cfg, Logger: logger.Discard()}).Load(context.Background()); !errors.Is(err, checkpoint.ErrKeyMismatch) {
		t.Fatalf("strict load: expected ErrKeyMismatch, got %v", err)
	}

	cfg.Checkpoint.Strict = false
	res := load(t, cfg)
	want := []string{"head.bias", "head.weight"}
	if diff := cmp.Diff(want, res.Restored[PrefixTransformer].Missing); diff != "" {
		t.Fatalf("missing keys (-want +got):\n%s", diff)
	}
}

func TestEngineSample(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	res := load(t, cfg)
	ctx := context.Background()

	out, err := res.Engine.Sample(ctx, &Request{N: 3, Seed: 5, Stochastic: true, TopK: 4})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if out.Stats.Samples != 3 || out.Stats.CodesGenerated != 3*cfg.Hierarchy.SequenceLength() {
		t.Fatalf("unexpected stats %+v", out.Stats)
	}
	if len(out.Generation.Images) != 3 {
		t.Fatalf("got %d images", len(out.Generation.Images))
	}
	again, err := res.Engine.Sample(ctx, &Request{N: 3, Seed: 5, Stochastic: true, TopK: 4})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if diff := cmp.Diff(out.Generation.Codes, again.Generation.Codes); diff != "" {
		t.Fatalf("same seed gave different codes (-first +second):\n%s", diff)
	}
}

func TestEngineSampleConcurrent(t *testing.T) {
	t.Parallel()
	res := load(t, config.Default())
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = res.Engine.Sample(context.Background(), &Request{N: 2, Seed: int64(i), Stochastic: true})
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
}

func TestEngineRejects(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Cond = config.Cond{Kind: config.CondLabel, PhyloLevel: -1}
	res := load(t, cfg)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *Request
		want error
	}{
		{"too many", &Request{N: MaxSamples + 1}, ErrBadRequest},
		{"label count", &Request{N: 2, Labels: []int{1}}, ErrBadRequest},
		{"negative top k", &Request{TopK: -1}, ErrBadRequest},
		{"labels required", &Request{N: 1}, stage.ErrNoLabels},
	}
	for _, tt := range tests {
		if _, err := res.Engine.Sample(ctx, tt.req); !errors.Is(err, tt.want) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}

	img := tensor.NewImage(cfg.Backbone.Channels, 16, 16)
	if _, err := res.Engine.Sample(ctx, &Request{Images: []tensor.Image{img}, Labels: []int{2}}); err != nil {
		t.Fatalf("labelled sample: %v", err)
	}
	_ = res.Engine.Close()
	if _, err := res.Engine.Sample(ctx, &Request{Labels: []int{1}}); err == nil {
		t.Fatal("expected error from closed engine")
	}
}
