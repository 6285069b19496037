package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rzzdr/bond-oas-engine/internal/store"
	"github.com/rzzdr/bond-oas-engine/internal/stream"
	"github.com/rzzdr/bond-oas-engine/internal/websocket"
	"github.com/rzzdr/bond-oas-engine/pkg/api"
	"github.com/rzzdr/bond-oas-engine/pkg/metrics"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, plus the websocket hub and stream worker when enabled",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.GetLogger("main.serve")
		log.Infow("Starting OAS engine", "version", version, "environment", cfg.App.Environment)

		rt, err := bootstrap(log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		g, gctx := errgroup.WithContext(ctx)

		var hub *websocket.Hub
		var publisher stream.Publisher
		if cfg.WebSocket.Enabled {
			hub = websocket.NewHub()
			publisher = hub
			g.Go(func() error {
				hub.Run(gctx)
				return nil
			})
		}

		server := api.NewServer(cfg.API, api.Deps{
			Engine:   rt.engine,
			Bonds:    store.NewInMemoryBondStore(),
			Curves:   store.NewInMemoryCurveStore(),
			Hub:      hub,
			Recorder: rt.recorder,
			Gatherer: rt.registry,
		})
		g.Go(server.Start)
		stopOnDone(gctx, g, log, "API server", server.Stop)

		if cfg.Metrics.Prometheus.Enabled {
			prom := metrics.NewPrometheusServer(cfg.Metrics.Prometheus.Port, rt.registry)
			g.Go(prom.Start)
			stopOnDone(gctx, g, log, "metrics server", prom.Stop)
		}

		if cfg.Kafka.Enabled {
			worker := stream.NewKafkaWorker(cfg.Kafka, rt.engine, publisher, rt.recorder)
			g.Go(func() error {
				defer worker.Close()
				return worker.Run(gctx)
			})
		}

		err = g.Wait()
		log.Info("Shutdown complete")
		return err
	},
}

// stopOnDone schedules a graceful stop bounded by the shutdown timeout once
// ctx is done
func stopOnDone(ctx context.Context, g *errgroup.Group, log *logger.Logger, name string, stop func(context.Context) error) {
	g.Go(func() error {
		<-ctx.Done()
		timeout := cfg.API.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := stop(sctx); err != nil {
			log.Errorw("Shutdown error", "component", name, "error", err)
		}
		return nil
	})
}
