package inference

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/samcharles93/phylonn/internal/seqmodel"
	"github.com/samcharles93/phylonn/internal/stage"
	"github.com/samcharles93/phylonn/internal/tensor"
)

// MaxSamples caps the batch of a single request.
const MaxSamples = 64

var ErrBadRequest = errors.New("inference: bad request")

// EngineImpl serialises requests onto one sequence model.
type EngineImpl struct {
	mu        sync.Mutex
	model     *seqmodel.Model
	imageSize int
	channels  int
	closed    bool
}

func NewEngine(model *seqmodel.Model, imageSize, channels int) *EngineImpl {
	return &EngineImpl{model: model, imageSize: imageSize, channels: channels}
}

func (e *EngineImpl) Info() seqmodel.Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model.Info()
}

func (e *EngineImpl) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *EngineImpl) Sample(ctx context.Context, req *Request) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	b, err := e.batch(req)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("inference: engine is closed")
	}

	start := time.Now()
	gen, err := e.model.Generate(ctx, b, seqmodel.SampleOptions{
		Temperature: req.Temperature,
		TopK:        req.TopK,
		Stochastic:  req.Stochastic,
		Rand:        rand.New(rand.NewSource(req.Seed)),
	})
	if err != nil {
		return nil, err
	}
	stats := Stats{Samples: len(gen.Codes), Duration: time.Since(start)}
	for _, seq := range gen.Codes {
		stats.CodesGenerated += len(seq)
	}
	if s := stats.Duration.Seconds(); s > 0 {
		stats.CodesPerSecond = float64(stats.CodesGenerated) / s
	}
	return &Result{Generation: gen, Stats: stats}, nil
}

func (e *EngineImpl) batch(req *Request) (stage.Batch, error) {
	n := len(req.Images)
	if n == 0 {
		n = req.N
		if n == 0 {
			n = max(len(req.Labels), 1)
		}
	}
	switch {
	case n < 0 || n > MaxSamples:
		return stage.Batch{}, fmt.Errorf("%w: n must be in [1, %d], got %d", ErrBadRequest, MaxSamples, n)
	case req.Labels != nil && len(req.Labels) != n:
		return stage.Batch{}, fmt.Errorf("%w: %d labels for %d samples", ErrBadRequest, len(req.Labels), n)
	case req.TopK < 0:
		return stage.Batch{}, fmt.Errorf("%w: negative top_k", ErrBadRequest)
	}
	images := req.Images
	if len(images) == 0 {
		images = make([]tensor.Image, n)
		for i := range images {
			images[i] = tensor.NewImage(e.channels, e.imageSize, e.imageSize)
		}
	}
	return stage.Batch{Images: images, Labels: req.Labels}, nil
}
