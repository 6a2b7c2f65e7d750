package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkadlec/tabsync/internal/config"
	"github.com/mkadlec/tabsync/internal/engine"
	"github.com/mkadlec/tabsync/internal/logging"
	"github.com/mkadlec/tabsync/internal/ui"
)

var syncFile string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass and exit",
	Long: `Sync every enabled mapping once, without starting the watcher.

With --file, only the mapping for that file is synced. Files whose
remote table already matches are skipped.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		mustCredentials(cfg)

		logger := logging.Setup(logging.Options{
			Level:   cfg.DefaultSettings.LogLevel,
			File:    cfg.DefaultSettings.LogFile,
			Console: true,
		})

		ctx := context.Background()
		gw := newClient(cfg, logger)
		if err := gw.VerifyToken(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error verifying storage token: %v\n", err)
			os.Exit(1)
		}
		reg := mustOpenRegistry(cfg)
		defer reg.Close()

		eng := engine.New(cfg, reg, gw, logger, nil)
		start := time.Now()

		if syncFile != "" {
			abs, err := filepath.Abs(syncFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			m, ok := cfg.MappingFor(abs)
			if !ok {
				fmt.Fprintf(os.Stderr, "Error: no enabled mapping for %s\n", abs)
				os.Exit(1)
			}
			fmt.Printf("%s Syncing %s...\n", ui.RenderAccent("🔄"), abs)
			eng.SyncMapping(ctx, m)
		} else {
			fmt.Printf("%s Syncing %d mappings...\n", ui.RenderAccent("🔄"), enabledCount(cfg))
			eng.InitialSync(ctx)
		}

		fmt.Printf("%s Sync pass complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
	},
}

func enabledCount(cfg *config.Config) int {
	n := 0
	for i := range cfg.Mappings {
		if cfg.Mappings[i].IsEnabled() {
			n++
		}
	}
	return n
}

func init() {
	syncCmd.Flags().StringVar(&syncFile, "file", "", "sync only the mapping for this file")
	rootCmd.AddCommand(syncCmd)
}
