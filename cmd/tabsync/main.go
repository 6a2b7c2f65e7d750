// tabsync watches a directory of CSV files and keeps remote storage tables
// in sync with them.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mkadlec/tabsync/internal/config"
	"github.com/mkadlec/tabsync/internal/registry"
	"github.com/mkadlec/tabsync/internal/storage"
)

const version = "0.3.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "tabsync",
	Short:   "Sync local CSV files to remote tabular storage",
	Version: version,
	Long: `tabsync watches a local directory and pushes CSV changes to remote
tabular storage.

Each configured mapping ties one file to one bucket/table and a sync mode:

  full_load    replace the whole table on every change (default)
  incremental  upsert only appended rows, by primary key
  streaming    post new lines to an HTTP endpoint in batches

Run 'tabsync init' to create a config file, 'tabsync setup' for an
interactive walkthrough, then 'tabsync daemon' to start watching.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml)")
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func mustCredentials(cfg *config.Config) {
	if err := cfg.RequireCredentials(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Set them in the environment or a .env file in the working directory\n")
		os.Exit(1)
	}
}

func newClient(cfg *config.Config, logger zerolog.Logger) *storage.Client {
	return storage.NewClient(storage.ClientConfig{
		StackURL:             cfg.StackURL,
		Token:                cfg.APIToken,
		CompressionThreshold: cfg.CompressionThreshold(),
		RequestsPerSecond:    cfg.DefaultSettings.RequestsPerSecond,
	}, logger)
}

func mustOpenRegistry(cfg *config.Config) *registry.Registry {
	reg, err := registry.Open(cfg.DefaultSettings.StateDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening state registry: %v\n", err)
		os.Exit(1)
	}
	return reg
}

func configFileOrDefault() string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(".", "config.yaml")
}
