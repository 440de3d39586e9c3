package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-circuit/internal/config"
	"github.com/23skdu/longbow-circuit/internal/logger"
	"github.com/23skdu/longbow-circuit/internal/monitoring"
)

var (
	cfgPath     string
	logLevel    string
	logFormat   string
	metricsAddr string

	// cfg is loaded once per invocation by the root pre-run hook.
	cfg *config.Config

	monitor = monitoring.NewHealthMonitor()
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "circuitbench",
		Short: "Transplant compiled programs into a transformer runtime and build circuit benchmarks",
		Long: `circuitbench loads a hand-compiled transformer program, transplants its
weights into the generic runtime, checks the two agree layer by layer, and
assembles the datasets and metrics used to score circuit discovery.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") {
				cfg.Logging.Level = logLevel
			}
			if flags.Changed("log-format") {
				cfg.Logging.Format = logFormat
			}
			if flags.Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			logger.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
			if cfg.MetricsAddr != "" {
				serveMetrics(cfg.MetricsAddr)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&cfgPath, "config", "c", "circuitbench.yaml", "Path to YAML config (missing file uses defaults)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "console", "Log format: console or json")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics (empty disables)")

	root.AddCommand(newTransplantCmd(), newDatasetCmd(), newRunCmd(), newCatalogCmd())
	return root
}

// serveMetrics exposes /metrics and the health routes in the background.
func serveMetrics(addr string) {
	go func() {
		if err := monitor.Start(addr); err != nil {
			logger.Log.Error("metrics server error", "error", err)
		}
	}()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
