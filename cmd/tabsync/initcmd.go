package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mkadlec/tabsync/internal/config"
	"github.com/mkadlec/tabsync/internal/ui"
)

var initWatchDir string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Long: `Create a commented starter config.yaml in the current directory
(or at --config). Refuses to overwrite an existing file.

Credentials never live in the config file; put STORAGE_STACK_URL and
STORAGE_API_TOKEN in the environment or a .env file next to it.`,
	Run: func(cmd *cobra.Command, args []string) {
		path := configFileOrDefault()
		watched, err := filepath.Abs(initWatchDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := config.WriteTemplate(path, watched); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		fmt.Printf("   Watched directory: %s\n", watched)
		fmt.Printf("   Next: add mappings with 'tabsync add', then 'tabsync daemon'\n")
	},
}

func init() {
	initCmd.Flags().StringVar(&initWatchDir, "dir", ".", "directory to watch")
	rootCmd.AddCommand(initCmd)
}
