package config

import (
	"fmt"
	"path/filepath"
	"regexp"
)

// SyncMode selects the strategy used to push a file's changes to storage.
type SyncMode string

const (
	// ModeFullLoad replaces the whole table on every change. Default.
	ModeFullLoad SyncMode = "full_load"
	// ModeIncremental upserts appended rows by primary key.
	ModeIncremental SyncMode = "incremental"
	// ModeStreaming posts new lines of a text file to an HTTP endpoint in
	// batches.
	ModeStreaming SyncMode = "streaming"
)

// Valid reports whether the mode is one of the known strategies.
func (m SyncMode) Valid() bool {
	switch m {
	case ModeFullLoad, ModeIncremental, ModeStreaming:
		return true
	}
	return false
}

// Options carries mode-specific mapping settings.
type Options struct {
	// PrimaryKey names the upsert key columns. Required for incremental.
	PrimaryKey []string `mapstructure:"primary_key" yaml:"primary_key,omitempty"`
	// BatchSize bounds streaming batches. Defaults to DefaultBatchSize.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size,omitempty"`
	// StreamingEndpoint is the HTTP sink for streaming mode. Required for
	// streaming.
	StreamingEndpoint string `mapstructure:"streaming_endpoint" yaml:"streaming_endpoint,omitempty"`
}

// DefaultBatchSize is the streaming batch size when none is configured.
const DefaultBatchSize = 1000

// Mapping ties a local file to a remote bucket/table.
type Mapping struct {
	FilePath string   `mapstructure:"file_path" yaml:"file_path"`
	BucketID string   `mapstructure:"bucket_id" yaml:"bucket_id"`
	TableID  string   `mapstructure:"table_id" yaml:"table_id"`
	SyncMode SyncMode `mapstructure:"sync_mode" yaml:"sync_mode"`
	// Enabled defaults to true when omitted from the config file.
	Enabled *bool   `mapstructure:"enabled" yaml:"enabled,omitempty"`
	Options Options `mapstructure:"options" yaml:"options,omitempty"`
}

// IsEnabled reports whether the mapping participates in syncing.
func (m *Mapping) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Key returns the unique identity of the mapping, its absolute file path.
func (m *Mapping) Key() string {
	return m.FilePath
}

// identPattern restricts bucket and table ids the same way the storage
// service does: lower-case, starting with a letter, dashes and underscores
// allowed.
var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Validate checks the mapping in isolation. Cross-mapping invariants (unique
// file paths) are checked by Config.Validate.
func (m *Mapping) Validate() error {
	if m.FilePath == "" {
		return fmt.Errorf("mapping: file_path is required")
	}
	if !filepath.IsAbs(m.FilePath) {
		return fmt.Errorf("mapping %s: file_path must be absolute", m.FilePath)
	}
	if m.BucketID == "" || !identPattern.MatchString(m.BucketID) {
		return fmt.Errorf("mapping %s: bucket_id %q must be lower-case [a-z][a-z0-9_-]*", m.FilePath, m.BucketID)
	}
	if m.TableID == "" || !identPattern.MatchString(m.TableID) {
		return fmt.Errorf("mapping %s: table_id %q must be lower-case [a-z][a-z0-9_-]*", m.FilePath, m.TableID)
	}
	if m.SyncMode == "" {
		m.SyncMode = ModeFullLoad
	}
	if !m.SyncMode.Valid() {
		return fmt.Errorf("mapping %s: unknown sync_mode %q", m.FilePath, m.SyncMode)
	}
	if m.SyncMode == ModeIncremental && len(m.Options.PrimaryKey) == 0 {
		return fmt.Errorf("mapping %s: incremental mode requires options.primary_key", m.FilePath)
	}
	if m.SyncMode == ModeStreaming && m.Options.StreamingEndpoint == "" {
		return fmt.Errorf("mapping %s: streaming mode requires options.streaming_endpoint", m.FilePath)
	}
	if m.Options.BatchSize < 0 {
		return fmt.Errorf("mapping %s: batch_size must be positive", m.FilePath)
	}
	if m.Options.BatchSize == 0 {
		m.Options.BatchSize = DefaultBatchSize
	}
	return nil
}
