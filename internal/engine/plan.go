package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mkadlec/tabsync/internal/registry"
	"github.com/mkadlec/tabsync/internal/storage"
)

// HeaderMismatchError reports that a file's current header no longer matches
// the schema its remote table was created with. The sync is abandoned and the
// remote table left untouched; the mapping stays active for future corrected
// files.
type HeaderMismatchError struct {
	FilePath string
	Stored   []string
	Current  []string
}

func (e *HeaderMismatchError) Error() string {
	return fmt.Sprintf("header of %s changed from %v to %v; remote table left untouched",
		e.FilePath, e.Stored, e.Current)
}

// IsHeaderMismatch reports whether err is (or wraps) a HeaderMismatchError.
func IsHeaderMismatch(err error) bool {
	var hme *HeaderMismatchError
	return errors.As(err, &hme)
}

// Op is a single remote operation within a plan.
type Op struct {
	// Name identifies the operation in logs and retry messages.
	Name string
	// Call performs the remote work.
	Call func(ctx context.Context, gw storage.Gateway) error
	// Commit, when non-nil, is persisted as soon as this op succeeds.
	// Streaming uses it to checkpoint per batch so a later failure
	// re-sends only the unsent remainder.
	Commit *registry.SyncState
}

// Plan is the ordered list of remote operations a strategy decided on, plus
// the state to commit once all of them succeeded.
type Plan struct {
	Ops []Op
	// Final is committed after the last op. Nil means no state change.
	Final *registry.SyncState
}

// Empty reports whether the plan carries no remote work.
func (p Plan) Empty() bool { return len(p.Ops) == 0 }
