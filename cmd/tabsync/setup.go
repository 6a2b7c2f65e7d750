package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mkadlec/tabsync/internal/config"
	"github.com/mkadlec/tabsync/internal/ui"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive first-time setup",
	Long: `Walk through first-time setup: pick the watched directory, enter
storage credentials and write config.yaml plus an optional .env file.`,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			watchDir = "."
			stackURL string
			token    string
			writeEnv = true
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Directory to watch").
					Description("CSV files under this directory can be mapped to tables").
					Value(&watchDir).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("directory is required")
						}
						return nil
					}),
				huh.NewInput().
					Title("Storage stack URL").
					Placeholder("https://connection.example.com").
					Value(&stackURL).
					Validate(func(s string) error {
						if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
							return fmt.Errorf("must be an http(s) URL")
						}
						return nil
					}),
				huh.NewInput().
					Title("Storage API token").
					EchoMode(huh.EchoModePassword).
					Value(&token).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("token is required")
						}
						return nil
					}),
			),
			huh.NewGroup(
				huh.NewConfirm().
					Title("Write credentials to .env?").
					Description("Otherwise export them in your shell before running tabsync").
					Value(&writeEnv),
			),
		)
		if err := form.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Setup aborted: %v\n", err)
			os.Exit(1)
		}

		watched, err := filepath.Abs(watchDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfgPath := configFileOrDefault()
		if err := config.WriteTemplate(cfgPath, watched); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), cfgPath)

		if writeEnv {
			env := fmt.Sprintf("%s=%s\n%s=%s\n", config.EnvStackURL, stackURL, config.EnvAPIToken, token)
			envPath := filepath.Join(filepath.Dir(cfgPath), ".env")
			if err := os.WriteFile(envPath, []byte(env), 0o600); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing .env: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), envPath)
		} else {
			fmt.Printf("   export %s and %s before running tabsync\n", config.EnvStackURL, config.EnvAPIToken)
		}
		fmt.Printf("\nNext: map a file with 'tabsync add', then start 'tabsync daemon'\n")
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
