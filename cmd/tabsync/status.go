package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkadlec/tabsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-mapping sync state",
	Long: `Display the persisted sync state for every mapping.

Shows the last successful sync time, synced line counts and any
consecutive failures since the last success.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		reg := mustOpenRegistry(cfg)
		defer reg.Close()

		states, err := reg.All()
		if err != nil {
			cmd.PrintErrf("Error reading state: %v\n", err)
			return
		}
		byPath := make(map[string]int, len(states))
		for i, st := range states {
			byPath[st.FilePath] = i
		}

		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Watched: %s\n", cfg.DefaultSettings.WatchedDirectory)
		fmt.Printf("State:   %s\n\n", cfg.DefaultSettings.StateDir)

		for i := range cfg.Mappings {
			m := &cfg.Mappings[i]
			idx, synced := byPath[m.FilePath]
			switch {
			case !m.IsEnabled():
				fmt.Printf("%s %s (disabled)\n", ui.RenderDim("○"), m.FilePath)
			case !synced:
				fmt.Printf("%s %s never synced\n", ui.RenderWarn("⚠"), m.FilePath)
			default:
				st := states[idx]
				mark := ui.RenderPass("✓")
				if st.ConsecutiveFailures > 0 {
					mark = ui.RenderError("✗")
				}
				fmt.Printf("%s %s\n", mark, m.FilePath)
				fmt.Printf("   last sync: %s, lines: %d", st.LastSyncAt.Format(time.RFC3339), st.LastLineCount)
				if st.ConsecutiveFailures > 0 {
					fmt.Printf(", failures: %d", st.ConsecutiveFailures)
				}
				fmt.Println()
			}
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
