package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

const validConfig = `
default_settings:
  watched_directory: /data/watched
  log_level: info
  max_retries: 3
  initial_retry_delay: 1
  max_retry_delay: 30
  retry_backoff: 2
upload:
  compression_threshold_mb: 50
mappings:
  - file_path: /data/watched/sales/daily.csv
    bucket_id: sales
    table_id: daily
    sync_mode: full_load
  - file_path: /data/watched/events.log
    bucket_id: events
    table_id: stream
    sync_mode: streaming
    options:
      streaming_endpoint: https://stream.example.com/events
`

// TestLoad_Valid verifies a well-formed config loads with defaults applied.
func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DefaultSettings.WatchedDirectory != "/data/watched" {
		t.Errorf("WatchedDirectory = %q", cfg.DefaultSettings.WatchedDirectory)
	}
	if len(cfg.Mappings) != 2 {
		t.Fatalf("len(Mappings) = %d, want 2", len(cfg.Mappings))
	}
	if !cfg.Mappings[0].IsEnabled() {
		t.Error("mapping without enabled key should default to enabled")
	}
	if cfg.Mappings[1].Options.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want default %d", cfg.Mappings[1].Options.BatchSize, DefaultBatchSize)
	}
	if cfg.DefaultSettings.StateDir == "" {
		t.Error("StateDir should default under the watched directory")
	}
}

// TestLoad_RetryPolicy verifies retry settings convert into a policy.
func TestLoad_RetryPolicy(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	p := cfg.RetryPolicy()
	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.InitialDelay != time.Second {
		t.Errorf("InitialDelay = %v, want 1s", p.InitialDelay)
	}
	if p.Backoff != 2.0 {
		t.Errorf("Backoff = %v, want 2.0", p.Backoff)
	}
}

// TestLoad_CompressionThreshold verifies MB-to-bytes conversion.
func TestLoad_CompressionThreshold(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got := cfg.CompressionThreshold(); got != 50*1024*1024 {
		t.Errorf("CompressionThreshold() = %d, want 50MB", got)
	}
}

// TestLoad_DuplicateFilePath verifies duplicate enabled file paths are
// rejected.
func TestLoad_DuplicateFilePath(t *testing.T) {
	dup := `
default_settings:
  watched_directory: /data/watched
mappings:
  - file_path: /data/watched/a.csv
    bucket_id: sales
    table_id: one
  - file_path: /data/watched/a.csv
    bucket_id: sales
    table_id: two
`
	_, err := Load(writeConfig(t, dup))
	if err == nil {
		t.Fatal("Load() should reject duplicate file_path")
	}
	if !strings.Contains(err.Error(), "mapped twice") {
		t.Errorf("error = %v", err)
	}
}

// TestLoad_DuplicateDisabledAllowed verifies a disabled duplicate is fine.
func TestLoad_DuplicateDisabledAllowed(t *testing.T) {
	dup := `
default_settings:
  watched_directory: /data/watched
mappings:
  - file_path: /data/watched/a.csv
    bucket_id: sales
    table_id: one
  - file_path: /data/watched/a.csv
    bucket_id: sales
    table_id: two
    enabled: false
`
	if _, err := Load(writeConfig(t, dup)); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
}

// TestLoad_BadIdentifiers verifies id pattern enforcement.
func TestLoad_BadIdentifiers(t *testing.T) {
	cases := []struct{ name, bucket, table string }{
		{"upper-case bucket", "Sales", "daily"},
		{"leading digit table", "sales", "1daily"},
		{"empty bucket", "", "daily"},
		{"spaces", "my bucket", "daily"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := Mapping{
				FilePath: "/data/a.csv",
				BucketID: tc.bucket,
				TableID:  tc.table,
				SyncMode: ModeFullLoad,
			}
			if err := m.Validate(); err == nil {
				t.Errorf("Validate() accepted bucket=%q table=%q", tc.bucket, tc.table)
			}
		})
	}
}

// TestLoad_IncrementalRequiresPrimaryKey verifies mode option checks.
func TestLoad_IncrementalRequiresPrimaryKey(t *testing.T) {
	m := Mapping{
		FilePath: "/data/a.csv",
		BucketID: "sales",
		TableID:  "daily",
		SyncMode: ModeIncremental,
	}
	if err := m.Validate(); err == nil {
		t.Error("incremental mapping without primary_key should fail validation")
	}

	m.Options.PrimaryKey = []string{"id"}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
}

// TestLoad_StreamingRequiresEndpoint verifies streaming option checks.
func TestLoad_StreamingRequiresEndpoint(t *testing.T) {
	m := Mapping{
		FilePath: "/data/events.log",
		BucketID: "events",
		TableID:  "stream",
		SyncMode: ModeStreaming,
	}
	if err := m.Validate(); err == nil {
		t.Error("streaming mapping without endpoint should fail validation")
	}
}

// TestLoad_UnsupportedEncoding verifies only UTF-8 is accepted.
func TestLoad_UnsupportedEncoding(t *testing.T) {
	bad := `
csv_dialect:
  encoding: latin-1
default_settings:
  watched_directory: /data/watched
mappings: []
`
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatal("Load() should reject non-UTF-8 encoding")
	}
}

// TestRequireCredentials verifies the credential check reads the env.
func TestRequireCredentials(t *testing.T) {
	cfg := &Config{}
	if err := cfg.RequireCredentials(); err == nil {
		t.Error("RequireCredentials() should fail with no credentials")
	}

	cfg.StackURL = "https://connection.example.com"
	cfg.APIToken = "secret"
	if err := cfg.RequireCredentials(); err != nil {
		t.Errorf("RequireCredentials() failed: %v", err)
	}
}

// TestWriteTemplate verifies init writes a loadable config once.
func TestWriteTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := WriteTemplate(path, "/data/watched"); err != nil {
		t.Fatalf("WriteTemplate() failed: %v", err)
	}
	if err := WriteTemplate(path, "/data/watched"); err == nil {
		t.Error("WriteTemplate() should refuse to overwrite")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of template failed: %v", err)
	}
	if len(cfg.Mappings) != 1 {
		t.Errorf("template has %d mappings, want 1", len(cfg.Mappings))
	}
}

// TestMappingFor verifies enabled-path lookup.
func TestMappingFor(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if _, ok := cfg.MappingFor("/data/watched/sales/daily.csv"); !ok {
		t.Error("MappingFor() should find the configured path")
	}
	if _, ok := cfg.MappingFor("/data/watched/other.csv"); ok {
		t.Error("MappingFor() should not match unknown paths")
	}
}
