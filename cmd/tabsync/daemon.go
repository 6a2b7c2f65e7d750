package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mkadlec/tabsync/internal/engine"
	"github.com/mkadlec/tabsync/internal/logging"
	"github.com/mkadlec/tabsync/internal/metrics"
	"github.com/mkadlec/tabsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Watch the configured directory and sync continuously (foreground)",
	Long: `Start the sync daemon in the foreground.

The daemon will:
  1. Run one initial sync over every enabled mapping
  2. Watch the configured directory tree for changes
  3. Debounce rapid changes and sync each settled file
  4. Create a bucket whenever a new subdirectory appears

Stop it with Ctrl+C or SIGTERM; in-flight uploads get a short grace
period to finish.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		mustCredentials(cfg)

		logger := logging.Setup(logging.Options{
			Level:   cfg.DefaultSettings.LogLevel,
			File:    cfg.DefaultSettings.LogFile,
			Console: true,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		gw := newClient(cfg, logger)
		if err := gw.VerifyToken(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error verifying storage token: %v\n", err)
			os.Exit(1)
		}

		reg := mustOpenRegistry(cfg)
		defer reg.Close()

		var m *metrics.Metrics
		if addr := cfg.DefaultSettings.MetricsListen; addr != "" {
			var promReg *prometheus.Registry
			m, promReg = metrics.New()
			go metrics.Serve(ctx, addr, promReg, logger)
		}

		fmt.Printf("%s Watching %s\n", ui.RenderAccent("👁"), cfg.DefaultSettings.WatchedDirectory)
		fmt.Printf("   Mappings: %d\n", len(cfg.Mappings))
		fmt.Printf("   State: %s\n", cfg.DefaultSettings.StateDir)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		eng := engine.New(cfg, reg, gw, logger, m)
		if err := eng.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Daemon stopped\n", ui.RenderPass("✓"))
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
