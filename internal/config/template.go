package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Template builds a starter configuration for the given watched directory.
func Template(watchedDir string) *Config {
	enabled := true
	return &Config{
		DefaultSettings: Settings{
			WatchedDirectory:       watchedDir,
			LogLevel:               "info",
			LogFile:                "tabsync.log",
			CompressionThresholdMB: 50,
			MaxRetries:             3,
			InitialRetryDelay:      1,
			MaxRetryDelay:          30,
			RetryBackoff:           2,
			DebounceSeconds:        2,
			Concurrency:            4,
		},
		Mappings: []Mapping{
			{
				FilePath: filepath.Join(watchedDir, "sales", "daily.csv"),
				BucketID: "sales",
				TableID:  "daily",
				SyncMode: ModeFullLoad,
				Enabled:  &enabled,
			},
		},
	}
}

// WriteTemplate writes a starter config file. It refuses to overwrite an
// existing file.
func WriteTemplate(path, watchedDir string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	data, err := yaml.Marshal(Template(watchedDir))
	if err != nil {
		return fmt.Errorf("marshal config template: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config template: %w", err)
	}
	return nil
}

// Save writes the configuration back to path. Used by the mapping management
// commands after add/delete.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
