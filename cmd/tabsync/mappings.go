package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkadlec/tabsync/internal/config"
	"github.com/mkadlec/tabsync/internal/storage"
	"github.com/mkadlec/tabsync/internal/ui"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured mappings",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		if len(cfg.Mappings) == 0 {
			fmt.Printf("%s No mappings configured\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Add one with 'tabsync add'\n")
			return
		}
		fmt.Printf("\n%s Mappings\n\n", ui.RenderAccent("📋"))
		for i := range cfg.Mappings {
			m := &cfg.Mappings[i]
			state := ui.RenderPass("enabled")
			if !m.IsEnabled() {
				state = ui.RenderDim("disabled")
			}
			fmt.Printf("%s → %s [%s] %s\n", m.FilePath, storage.TableID(m.BucketID, m.TableID), m.SyncMode, state)
			if m.SyncMode == config.ModeIncremental {
				fmt.Printf("   primary key: %s\n", strings.Join(m.Options.PrimaryKey, ", "))
			}
			if m.SyncMode == config.ModeStreaming {
				fmt.Printf("   endpoint: %s (batch %d)\n", m.Options.StreamingEndpoint, m.Options.BatchSize)
			}
		}
		fmt.Println()
	},
}

var (
	addBucket   string
	addTable    string
	addMode     string
	addPK       []string
	addEndpoint string
	addBatch    int
)

var addCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Add a file mapping to the config",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		abs, err := filepath.Abs(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if _, exists := cfg.MappingFor(abs); exists {
			fmt.Fprintf(os.Stderr, "Error: %s is already mapped\n", abs)
			os.Exit(1)
		}

		table := addTable
		if table == "" {
			base := filepath.Base(abs)
			table = storage.SanitizeBucketName(strings.TrimSuffix(base, filepath.Ext(base)))
		}
		m := config.Mapping{
			FilePath: abs,
			BucketID: addBucket,
			TableID:  table,
			SyncMode: config.SyncMode(addMode),
			Options: config.Options{
				PrimaryKey:        addPK,
				StreamingEndpoint: addEndpoint,
				BatchSize:         addBatch,
			},
		}
		if err := m.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg.Mappings = append(cfg.Mappings, m)
		if err := cfg.Save(configFileOrDefault()); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Mapped %s → %s [%s]\n", ui.RenderPass("✓"), abs, storage.TableID(m.BucketID, m.TableID), m.SyncMode)
	},
}

var (
	editBucket   string
	editTable    string
	editMode     string
	editPK       []string
	editEndpoint string
	editBatch    int
	editEnabled  bool
)

var editCmd = &cobra.Command{
	Use:   "edit <file>",
	Short: "Update an existing file mapping in place",
	Long: `Change fields of an existing mapping. Only the flags given are
updated; everything else keeps its current value. The remote table is
not touched.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		abs, err := filepath.Abs(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		var m *config.Mapping
		for i := range cfg.Mappings {
			if cfg.Mappings[i].FilePath == abs {
				m = &cfg.Mappings[i]
				break
			}
		}
		if m == nil {
			fmt.Fprintf(os.Stderr, "Error: no mapping for %s\n", abs)
			os.Exit(1)
		}

		f := cmd.Flags()
		if f.Changed("bucket") {
			m.BucketID = editBucket
		}
		if f.Changed("table") {
			m.TableID = editTable
		}
		if f.Changed("mode") {
			m.SyncMode = config.SyncMode(editMode)
		}
		if f.Changed("primary-key") {
			m.Options.PrimaryKey = editPK
		}
		if f.Changed("endpoint") {
			m.Options.StreamingEndpoint = editEndpoint
		}
		if f.Changed("batch-size") {
			m.Options.BatchSize = editBatch
		}
		if f.Changed("enabled") {
			enabled := editEnabled
			m.Enabled = &enabled
		}

		if err := m.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := cfg.Save(configFileOrDefault()); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Updated %s → %s [%s]\n", ui.RenderPass("✓"), abs, storage.TableID(m.BucketID, m.TableID), m.SyncMode)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <file>",
	Short: "Remove a file mapping from the config",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		abs, err := filepath.Abs(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		kept := cfg.Mappings[:0]
		removed := false
		for _, m := range cfg.Mappings {
			if m.FilePath == abs {
				removed = true
				continue
			}
			kept = append(kept, m)
		}
		if !removed {
			fmt.Fprintf(os.Stderr, "Error: no mapping for %s\n", abs)
			os.Exit(1)
		}
		cfg.Mappings = kept
		if err := cfg.Save(configFileOrDefault()); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Removed mapping for %s\n", ui.RenderPass("✓"), abs)
		fmt.Printf("   The remote table was left in place\n")
	},
}

func init() {
	addCmd.Flags().StringVar(&addBucket, "bucket", "", "bucket name (required)")
	addCmd.Flags().StringVar(&addTable, "table", "", "table name (default derived from the file name)")
	addCmd.Flags().StringVar(&addMode, "mode", string(config.ModeFullLoad), "sync mode: full_load, incremental or streaming")
	addCmd.Flags().StringSliceVar(&addPK, "primary-key", nil, "primary key columns (incremental mode)")
	addCmd.Flags().StringVar(&addEndpoint, "endpoint", "", "events endpoint URL (streaming mode)")
	addCmd.Flags().IntVar(&addBatch, "batch-size", 0, "streaming batch size")
	_ = addCmd.MarkFlagRequired("bucket")

	editCmd.Flags().StringVar(&editBucket, "bucket", "", "bucket name")
	editCmd.Flags().StringVar(&editTable, "table", "", "table name")
	editCmd.Flags().StringVar(&editMode, "mode", "", "sync mode: full_load, incremental or streaming")
	editCmd.Flags().StringSliceVar(&editPK, "primary-key", nil, "primary key columns (incremental mode)")
	editCmd.Flags().StringVar(&editEndpoint, "endpoint", "", "events endpoint URL (streaming mode)")
	editCmd.Flags().IntVar(&editBatch, "batch-size", 0, "streaming batch size")
	editCmd.Flags().BoolVar(&editEnabled, "enabled", true, "enable or disable the mapping")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
}
