package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-rehearse/internal/config"
	"github.com/teslashibe/go-rehearse/internal/log"
	"github.com/teslashibe/go-rehearse/pkg/coach"
	"github.com/teslashibe/go-rehearse/pkg/face"
	"github.com/teslashibe/go-rehearse/pkg/face/yunet"
	"github.com/teslashibe/go-rehearse/pkg/inference"
	"github.com/teslashibe/go-rehearse/pkg/server"
	"github.com/teslashibe/go-rehearse/pkg/session"
	"github.com/teslashibe/go-rehearse/pkg/store"
)

func newServeCmd(g *globals) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rehearsal HTTP and websocket service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := log.Component("rehearse")
	logger.Info("starting rehearse", "version", version, "store", cfg.Store.Backend, "inference", cfg.Inference.Provider)

	st, err := store.New(ctx, cfg.Store, log.L())
	if err != nil {
		return err
	}
	defer st.Close()

	provider, err := inference.New(cfg.Inference, log.L())
	if err != nil {
		return err
	}
	if provider != nil {
		defer provider.Close()
	} else {
		logger.Warn("no inference provider configured, feedback uses fallback text")
	}

	catalog, err := session.LoadCatalog(cfg.Server.ScenariosFile)
	if err != nil {
		return err
	}

	var landmarks face.LandmarkSource
	if cfg.Face.ModelPath != "" {
		ycfg := yunet.DefaultConfig()
		ycfg.ModelPath = cfg.Face.ModelPath
		det, err := yunet.New(ycfg)
		switch {
		case errors.Is(err, face.ErrModelUnavailable):
			logger.Warn("face model unavailable, accepting client landmarks only", "error", err)
		case err != nil:
			return err
		default:
			landmarks = det
			defer det.Close()
		}
	}

	srv := server.New(server.OptionsFromConfig(*cfg, version), server.Deps{
		Store:      st,
		Catalog:    catalog,
		Coach:      coach.New(provider, log.L()),
		Aggregator: session.NewAggregator(st, cfg.Session.BaselineCategory, log.L()),
		Landmarks:  landmarks,
		Logger:     log.L(),
	})

	err = srv.ListenAndServe(ctx, cfg.Server.Addr)
	logger.Info("rehearse stopped")
	return err
}
