// oas-engine serves bond OAS valuations over HTTP, websocket and Kafka.
package main

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rzzdr/bond-oas-engine/config"
	"github.com/rzzdr/bond-oas-engine/internal/engine"
	"github.com/rzzdr/bond-oas-engine/internal/license"
	"github.com/rzzdr/bond-oas-engine/pkg/metrics"
	"github.com/rzzdr/bond-oas-engine/pkg/utils/logger"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
)

var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "oas-engine",
	Short:         "Option-adjusted spread valuation engine for bonds",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			path = config.GetConfigPath()
		}
		var err error
		if cfg, err = config.Load(path); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.App.LogLevel = lvl
		}
		logger.Init(cfg.App.LogLevel, cfg.App.Environment)
		if cfg.App.Environment == "production" {
			gin.SetMode(gin.ReleaseMode)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: $OAS_CONFIG_PATH or ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(keygenCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("oas-engine %s (%s)\n", version, commit)
	},
}

// runtime holds the collaborators shared by serve and worker
type runtime struct {
	registry *prometheus.Registry
	recorder *metrics.Recorder
	engine   *engine.Engine
}

// bootstrap authorizes the license gate from config and builds the engine.
// A missing key leaves the gate closed; every licensed call then fails.
func bootstrap(log *logger.Logger) (*runtime, error) {
	gate := license.NewGate([]byte(cfg.License.Secret))
	key, err := cfg.License.ResolveKey()
	if err != nil {
		return nil, err
	}
	if key != "" {
		if err := gate.Authorize(cfg.License.User, key); err != nil {
			return nil, fmt.Errorf("license rejected: %w", err)
		}
	} else {
		log.Warn("No license key configured, valuation calls will be refused")
	}

	reg := metrics.NewRegistry()
	rec := metrics.NewRecorder(reg)
	eng, err := engine.New(cfg.Engine, gate, nil, rec)
	if err != nil {
		return nil, err
	}
	return &runtime{registry: reg, recorder: rec, engine: eng}, nil
}
