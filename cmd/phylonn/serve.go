package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/phylonn/internal/api"
	"github.com/samcharles93/phylonn/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		keep        int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the sampling API",
		Flags: append(modelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8090",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "keep",
				Usage:       "number of samples kept for GET /v1/samples/:id",
				Value:       256,
				Destination: &keep,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg, res, err := loadModel(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = res.Engine.Close() }()
			if !cmd.IsSet("addr") && cfg.Server.Address != "" {
				addr = cfg.Server.Address
			}

			server := api.NewServer(res.Engine, api.NewSampleStore(int(keep)), api.ServerConfig{
				ImageSize:   cfg.Backbone.ImageSize,
				Channels:    cfg.Backbone.Channels,
				DefaultTopK: cfg.Model.TopK,
			}, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
