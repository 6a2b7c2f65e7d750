// Package storage talks to the remote tabular storage service.
//
// The Gateway interface is the engine's only view of the service: existence
// checks, bucket/table creation, data loads and streaming posts. The concrete
// HTTP client lives in this package too; tests substitute a fake.
//
// Buckets live in the "in" stage and are addressed as "in.c-<name>", the
// service's id scheme.
package storage

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/mkadlec/tabsync/internal/inspect"
)

// Stage is the storage stage all synced buckets belong to.
const Stage = "in"

// BucketID builds the full remote bucket id from a configured bucket name.
func BucketID(name string) string {
	return fmt.Sprintf("%s.c-%s", Stage, name)
}

// TableID builds the full remote table id.
func TableID(bucket, table string) string {
	return fmt.Sprintf("%s.%s", BucketID(bucket), table)
}

// SanitizeBucketName converts a directory name into a valid bucket name:
// lower-case, with runs of non-alphanumerics collapsed to single underscores.
func SanitizeBucketName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	parts := strings.FieldsFunc(b.String(), func(r rune) bool { return r == '_' })
	return strings.Join(parts, "_")
}

// Gateway is the capability surface the sync engine requires from remote
// storage. All calls block until the service responds and surface classified
// errors: APIError for non-2xx responses, TransportError for network
// failures.
type Gateway interface {
	// BucketExists reports whether the bucket exists in the "in" stage.
	BucketExists(ctx context.Context, bucket string) (bool, error)

	// CreateBucket creates the bucket in the "in" stage.
	CreateBucket(ctx context.Context, bucket string) error

	// TableExists reports whether the table exists in the bucket.
	TableExists(ctx context.Context, bucket, table string) (bool, error)

	// CreateTable creates the table with the file's header as its schema
	// and loads the full file as initial contents.
	CreateTable(ctx context.Context, bucket, table string, header, primaryKey []string, filePath string, dialect inspect.Dialect) error

	// ReplaceTableData replaces the table's entire contents with the file.
	ReplaceTableData(ctx context.Context, bucket, table string, filePath string, dialect inspect.Dialect) error

	// AppendRows upserts rows into the table keyed by primaryKey. The
	// first row must be the header.
	AppendRows(ctx context.Context, bucket, table string, rows [][]string, primaryKey []string) error

	// PostStreamEvents submits a batch of newline-delimited events to the
	// streaming endpoint.
	PostStreamEvents(ctx context.Context, endpoint string, batch []string) error
}
