package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mkadlec/tabsync/internal/config"
)

func TestEditCmdUpdatesOnlyGivenFlags(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "data")
	if err := os.MkdirAll(watched, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfgFile := filepath.Join(dir, "config.yaml")
	if err := config.WriteTemplate(cfgFile, watched); err != nil {
		t.Fatalf("write template: %v", err)
	}

	prev := configPath
	configPath = cfgFile
	t.Cleanup(func() { configPath = prev })

	target := filepath.Join(watched, "sales", "daily.csv")
	fl := editCmd.Flags()
	if err := fl.Set("mode", "incremental"); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if err := fl.Set("primary-key", "id"); err != nil {
		t.Fatalf("set primary-key: %v", err)
	}
	editCmd.Run(editCmd, []string{target})

	cfg, err := config.Load(cfgFile)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if len(cfg.Mappings) != 1 {
		t.Fatalf("mappings = %d, want 1", len(cfg.Mappings))
	}
	m := cfg.Mappings[0]
	if m.SyncMode != config.ModeIncremental {
		t.Errorf("sync mode = %q, want incremental", m.SyncMode)
	}
	if len(m.Options.PrimaryKey) != 1 || m.Options.PrimaryKey[0] != "id" {
		t.Errorf("primary key = %v, want [id]", m.Options.PrimaryKey)
	}
	if m.BucketID != "sales" || m.TableID != "daily" {
		t.Errorf("bucket/table changed: %s.%s", m.BucketID, m.TableID)
	}
	if !m.IsEnabled() {
		t.Error("mapping should remain enabled when --enabled is not given")
	}
}
