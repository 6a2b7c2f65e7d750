package engine

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mkadlec/tabsync/internal/config"
	"github.com/mkadlec/tabsync/internal/inspect"
	"github.com/mkadlec/tabsync/internal/registry"
	"github.com/mkadlec/tabsync/internal/storage"
)

// Strategy turns a mapping plus its persisted state into the remote
// operations that bring the table in line with the file. Strategies never
// talk to the network themselves; they only decide.
type Strategy interface {
	Plan(m *config.Mapping, st *registry.SyncState, header []string, dialect inspect.Dialect) (Plan, error)
}

// ForMode returns the strategy implementing the given sync mode.
func ForMode(mode config.SyncMode) (Strategy, error) {
	switch mode {
	case config.ModeFullLoad:
		return fullLoad{}, nil
	case config.ModeIncremental:
		return incremental{}, nil
	case config.ModeStreaming:
		return streaming{}, nil
	default:
		return nil, fmt.Errorf("no strategy for sync mode %q", mode)
	}
}

// creationPlan builds the first-sync plan shared by full_load and
// incremental: ensure the bucket, create the table from the full file.
func creationPlan(m *config.Mapping, header []string, dialect inspect.Dialect) (Plan, error) {
	total, hash, err := countAndHash(m.FilePath)
	if err != nil {
		return Plan{}, err
	}
	bucket := m.BucketID
	ops := []Op{
		{
			Name: "ensure bucket " + bucket,
			Call: func(ctx context.Context, gw storage.Gateway) error {
				exists, err := gw.BucketExists(ctx, bucket)
				if err != nil {
					return err
				}
				if exists {
					return nil
				}
				return gw.CreateBucket(ctx, bucket)
			},
		},
		{
			Name: "create table " + storage.TableID(bucket, m.TableID),
			Call: func(ctx context.Context, gw storage.Gateway) error {
				return gw.CreateTable(ctx, bucket, m.TableID, header, m.Options.PrimaryKey, m.FilePath, dialect)
			},
		},
	}
	return Plan{
		Ops: ops,
		Final: &registry.SyncState{
			FilePath:       m.FilePath,
			LastHeader:     header,
			TableCreated:   true,
			LastLineCount:  total,
			LastPrefixHash: hash,
		},
	}, nil
}

// fullLoad replaces the table's contents with the file on every change.
type fullLoad struct{}

func (fullLoad) Plan(m *config.Mapping, st *registry.SyncState, header []string, dialect inspect.Dialect) (Plan, error) {
	if st == nil || !st.TableCreated {
		return creationPlan(m, header, dialect)
	}
	if !inspect.HeadersEqual(st.LastHeader, header) {
		return Plan{}, &HeaderMismatchError{FilePath: m.FilePath, Stored: st.LastHeader, Current: header}
	}
	total, hash, err := countAndHash(m.FilePath)
	if err != nil {
		return Plan{}, err
	}
	op := Op{
		Name: "replace table " + storage.TableID(m.BucketID, m.TableID),
		Call: func(ctx context.Context, gw storage.Gateway) error {
			return gw.ReplaceTableData(ctx, m.BucketID, m.TableID, m.FilePath, dialect)
		},
	}
	return Plan{
		Ops: []Op{op},
		Final: &registry.SyncState{
			FilePath:       m.FilePath,
			LastHeader:     header,
			TableCreated:   true,
			LastLineCount:  total,
			LastPrefixHash: hash,
		},
	}, nil
}

// incremental appends only the rows added since the last sync. When the file
// was rewritten rather than appended to, it falls back to a full replace.
type incremental struct{}

func (incremental) Plan(m *config.Mapping, st *registry.SyncState, header []string, dialect inspect.Dialect) (Plan, error) {
	if st == nil || !st.TableCreated {
		return creationPlan(m, header, dialect)
	}
	if !inspect.HeadersEqual(st.LastHeader, header) {
		return Plan{}, &HeaderMismatchError{FilePath: m.FilePath, Stored: st.LastHeader, Current: header}
	}

	scan, err := scanLines(m.FilePath, st.LastLineCount)
	if err != nil {
		return Plan{}, err
	}
	next := &registry.SyncState{
		FilePath:       m.FilePath,
		LastHeader:     header,
		TableCreated:   true,
		LastLineCount:  scan.Total,
		LastPrefixHash: scan.FullHash,
	}

	appended := scan.Total > st.LastLineCount &&
		scan.PrefixHash != "" && scan.PrefixHash == st.LastPrefixHash
	if appended {
		rows, err := parseRows(scan.Tail, dialect)
		if err != nil {
			return Plan{}, fmt.Errorf("parse appended rows of %s: %w", m.FilePath, err)
		}
		op := Op{
			Name: "append rows to " + storage.TableID(m.BucketID, m.TableID),
			Call: func(ctx context.Context, gw storage.Gateway) error {
				return gw.AppendRows(ctx, m.BucketID, m.TableID, append([][]string{header}, rows...), m.Options.PrimaryKey)
			},
		}
		return Plan{Ops: []Op{op}, Final: next}, nil
	}

	if scan.Total == st.LastLineCount && scan.FullHash == st.LastPrefixHash {
		// Touched but unchanged.
		return Plan{}, nil
	}

	// Shrunk or rewritten in place: the append position is gone.
	op := Op{
		Name: "replace table " + storage.TableID(m.BucketID, m.TableID),
		Call: func(ctx context.Context, gw storage.Gateway) error {
			return gw.ReplaceTableData(ctx, m.BucketID, m.TableID, m.FilePath, dialect)
		},
	}
	return Plan{Ops: []Op{op}, Final: next}, nil
}

// streaming ships new lines to an events endpoint in fixed-size batches,
// checkpointing after each batch. Files without headers are expected; the
// stored header stays empty.
type streaming struct{}

func (streaming) Plan(m *config.Mapping, st *registry.SyncState, _ []string, _ inspect.Dialect) (Plan, error) {
	var boundary int64
	var lastHash string
	if st != nil {
		boundary = st.LastLineCount
		lastHash = st.LastPrefixHash
	}
	scan, err := scanLines(m.FilePath, 0)
	if err != nil {
		return Plan{}, err
	}
	lines := scan.Tail
	cum := cumulativeHashes(lines)

	from := boundary
	if boundary > int64(len(lines)) || (boundary > 0 && cum[boundary] != lastHash) {
		// Rotated or truncated: resend from the start.
		from = 0
	}
	pending := lines[from:]
	if len(pending) == 0 {
		return Plan{}, nil
	}

	batchSize := m.Options.BatchSize
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}
	endpoint := m.Options.StreamingEndpoint

	var plan Plan
	for start := 0; start < len(pending); start += batchSize {
		end := min(start+batchSize, len(pending))
		batch := pending[start:end]
		sent := from + int64(end)
		plan.Ops = append(plan.Ops, Op{
			Name: fmt.Sprintf("stream %d events from %s", len(batch), m.FilePath),
			Call: func(ctx context.Context, gw storage.Gateway) error {
				return gw.PostStreamEvents(ctx, endpoint, batch)
			},
			Commit: &registry.SyncState{
				FilePath:       m.FilePath,
				LastLineCount:  sent,
				LastPrefixHash: cum[sent],
			},
		})
	}
	return plan, nil
}

// cumulativeHashes returns, for each i, the SHA-256 over the first i lines.
func cumulativeHashes(lines []string) []string {
	h := sha256.New()
	cum := make([]string, len(lines)+1)
	cum[0] = hex.EncodeToString(h.Sum(nil))
	for i, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
		cum[i+1] = hex.EncodeToString(h.Sum(nil))
	}
	return cum
}

// parseRows decodes raw CSV lines using the detected dialect.
func parseRows(lines []string, dialect inspect.Dialect) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	r.Comma = dialect.Delimiter
	r.FieldsPerRecord = -1
	return r.ReadAll()
}
