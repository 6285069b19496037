package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rzzdr/bond-oas-engine/internal/stream"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume valuation requests from Kafka without the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.GetLogger("main.worker")
		if !cfg.Kafka.Enabled {
			return errors.New("kafka.enabled is false")
		}
		rt, err := bootstrap(log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		worker := stream.NewKafkaWorker(cfg.Kafka, rt.engine, nil, rt.recorder)
		defer func() {
			if err := worker.Close(); err != nil {
				log.Errorw("Worker close error", "error", err)
			}
		}()
		return worker.Run(ctx)
	},
}
