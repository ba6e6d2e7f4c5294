package cmd

import (
	"context"
	_ "embed"
	"os"
	"os/signal"
	"syscall"
	"time"

	"raygate/internal/api"
	"raygate/internal/engine"
	"raygate/internal/ops"
	"raygate/internal/storage"
	"raygate/internal/subscription"
	logg "raygate/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (

	//go:embed version.txt
	version string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "serve the raygate ops API",
		Run:   serve,
	}
)

func serve(_ *cobra.Command, _ []string) {
	cfg := resolveConfig()

	logger := logg.New(cfg.Logger).Desugar()
	zap.ReplaceGlobals(logger)

	zap.S().Infow("starting raygate", "version", version)

	appStorage, err := storage.NewAppStorage("raygate")
	if err != nil {
		zap.S().Fatalw("couldn't initialize storage", "error", err)
	}

	store, err := storage.NewStore(appStorage)
	if err != nil {
		zap.S().Fatalw("couldn't open document store", "error", err)
	}

	supervisor := engine.NewSupervisor(store, cfg.Engine.DefaultBinary)
	prober := engine.NewProber(supervisor, engine.NewPortAllocator())
	if cfg.Engine.ProbeURL != "" {
		prober.ProbeURL = cfg.Engine.ProbeURL
	}
	if cfg.Engine.MaxTestWorkers > 0 {
		prober.MaxWorkers = cfg.Engine.MaxTestWorkers
	}
	subService := subscription.NewService(time.Duration(cfg.Engine.FetchTimeoutS) * time.Second)

	opsAPI := ops.New(store, supervisor, prober, subService,
		time.Duration(cfg.Engine.ProbeTimeoutS)*time.Second)

	server := api.NewServer(cfg.API.ListenAddr, opsAPI)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		zap.S().Errorw("ops API stopped", "error", err)
	case sig := <-stop:
		zap.S().Infow("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			zap.S().Warnw("ops API shutdown failed", "error", err)
		}
	}

	supervisor.ShutdownAll()
	zap.S().Info("shutdown complete")
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
