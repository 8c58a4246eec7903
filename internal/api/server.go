// Package api serves the sampling HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/phylonn/internal/inference"
	"github.com/samcharles93/phylonn/internal/logger"
	"github.com/samcharles93/phylonn/internal/seqmodel"
	"github.com/samcharles93/phylonn/internal/stage"
	"github.com/samcharles93/phylonn/internal/version"
)

// ServerConfig describes the images the engine expects.
type ServerConfig struct {
	ImageSize int
	Channels  int
	// DefaultTopK applies when a stochastic request leaves top_k unset.
	DefaultTopK int
}

type Server struct {
	engine inference.Engine
	store  *SampleStore
	cfg    ServerConfig
	log    logger.Logger
	clock  func() time.Time
}

func NewServer(engine inference.Engine, store *SampleStore, cfg ServerConfig, log logger.Logger) *Server {
	if store == nil {
		store = NewSampleStore(0)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		engine: engine,
		store:  store,
		cfg:    cfg,
		log:    log,
		clock:  time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/model", s.handleModel)
	e.POST("/v1/samples", s.handleCreateSample)
	e.GET("/v1/samples/:id", s.handleGetSample)
	e.DELETE("/v1/samples/:id", s.handleDeleteSample)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

func (s *Server) handleModel(c *echo.Context) error {
	if s.engine == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "engine not configured", "")
	}
	return c.JSON(http.StatusOK, s.engine.Info())
}

func (s *Server) handleCreateSample(c *echo.Context) error {
	if s.engine == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "engine not configured", "")
	}
	req, err := decodeJSON[SampleRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	inferReq, err := s.toInferenceRequest(req)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	result, err := s.engine.Sample(c.Request().Context(), inferReq)
	if err != nil {
		return s.writeSampleError(c, err)
	}
	resp := SampleResponse{
		ID:        newSampleID(),
		Object:    "sample",
		CreatedAt: s.clock().Unix(),
		Codes:     result.Generation.Codes,
		Native:    result.Generation.Native,
		Latent:    result.Generation.Latent,
		Usage:     usageFromStats(result.Stats),
	}
	if req.IncludeImages {
		if resp.Images, err = encodeImages(result.Generation.Images); err != nil {
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
		}
	}
	if req.Store == nil || *req.Store {
		s.store.Put(resp)
	}
	s.log.Debug("sampled", "id", resp.ID, "samples", resp.Usage.Samples, "codes", resp.Usage.CodesGenerated)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetSample(c *echo.Context) error {
	id := c.Param("id")
	resp, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, fmt.Sprintf("sample %s not found", id))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteSample(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, fmt.Sprintf("sample %s not found", id))
	}
	return c.JSON(http.StatusOK, DeleteResponse{ID: id, Object: "sample.deleted", Deleted: true})
}

func (s *Server) toInferenceRequest(req SampleRequest) (*inference.Request, error) {
	images, err := decodeImages(req.Images, s.cfg.Channels, s.cfg.ImageSize)
	if err != nil {
		return nil, err
	}
	out := &inference.Request{
		Images:     images,
		Labels:     req.Labels,
		N:          req.N,
		Stochastic: true,
	}
	if req.Seed != nil {
		out.Seed = *req.Seed
	} else {
		out.Seed = s.clock().UnixNano()
	}
	if req.Stochastic != nil {
		out.Stochastic = *req.Stochastic
	}
	if req.Temperature != nil {
		if *req.Temperature <= 0 {
			return nil, newInvalidRequest("temperature must be positive")
		}
		out.Temperature = *req.Temperature
	}
	switch {
	case req.TopK != nil:
		out.TopK = *req.TopK
	case out.Stochastic:
		out.TopK = s.cfg.DefaultTopK
	}
	if len(images) > 0 && req.N != 0 && req.N != len(images) {
		return nil, newInvalidRequest(fmt.Sprintf("n is %d but %d images were sent", req.N, len(images)))
	}
	return out, nil
}

func (s *Server) writeSampleError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, inference.ErrBadRequest),
		errors.Is(err, stage.ErrNoLabels),
		errors.Is(err, stage.ErrUnknownLabel),
		errors.Is(err, seqmodel.ErrEmptyCondition):
		return writeBadRequest(c, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return writeError(c, http.StatusServiceUnavailable, "cancelled", err.Error(), "")
	default:
		s.log.Error("sample failed", "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
	}
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
