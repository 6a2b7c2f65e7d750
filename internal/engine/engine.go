// Package engine runs the sync loop: it consumes debounced filesystem
// events, plans the remote operations per mapping and executes them with
// retries, committing durable state only after success.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mkadlec/tabsync/internal/config"
	"github.com/mkadlec/tabsync/internal/debounce"
	"github.com/mkadlec/tabsync/internal/inspect"
	"github.com/mkadlec/tabsync/internal/metrics"
	"github.com/mkadlec/tabsync/internal/registry"
	"github.com/mkadlec/tabsync/internal/retry"
	"github.com/mkadlec/tabsync/internal/storage"
	"github.com/mkadlec/tabsync/internal/watch"
)

// DefaultShutdownGrace bounds how long in-flight remote calls may run after
// a shutdown signal before their contexts are force-canceled.
const DefaultShutdownGrace = 10 * time.Second

// Engine wires the watcher, debouncer, strategies, retry executor and
// registry together.
type Engine struct {
	cfg     *config.Config
	reg     *registry.Registry
	gw      storage.Gateway
	exec    *retry.Executor
	logger  zerolog.Logger
	metrics *metrics.Metrics

	// ShutdownGrace is how long Run lets in-flight operations finish.
	ShutdownGrace time.Duration

	// opCtx outlives the run context so a shutdown abandons backoff
	// chains immediately but lets the current attempt complete.
	opCtx context.Context
}

// New builds an engine. metrics may be nil when no metrics endpoint is
// configured.
func New(cfg *config.Config, reg *registry.Registry, gw storage.Gateway, logger zerolog.Logger, m *metrics.Metrics) *Engine {
	exec := retry.NewExecutor(cfg.RetryPolicy(), logger)
	if m != nil {
		exec.OnRetry = func(string, int, error, time.Duration) { m.RetriesTotal.Inc() }
	}
	return &Engine{
		cfg:           cfg,
		reg:           reg,
		gw:            gw,
		exec:          exec,
		logger:        logger,
		metrics:       m,
		ShutdownGrace: DefaultShutdownGrace,
		opCtx:         context.Background(),
	}
}

// Run watches the configured directory and syncs until ctx is canceled.
// On cancellation it stops accepting events, drains pending work and gives
// in-flight operations ShutdownGrace to finish.
func (e *Engine) Run(ctx context.Context) error {
	root := e.cfg.DefaultSettings.WatchedDirectory
	if err := ensureDir(root); err != nil {
		return err
	}

	opCtx, opCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer opCancel()
	e.opCtx = opCtx

	e.InitialSync(ctx)

	w, err := watch.New(root, e.logger)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	deb := debounce.New(e.cfg.DebounceWindow(), 256)

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for n := range w.Notifications() {
			deb.Notify(n.Path, eventKind(n.Op))
		}
	}()

	workers := e.cfg.DefaultSettings.Concurrency
	if workers <= 0 {
		workers = 1
	}
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			for ev := range deb.Events() {
				e.handle(ctx, ev)
				deb.Done(ev.Path)
			}
			return nil
		})
	}

	e.logger.Info().Str("dir", root).Int("workers", workers).Msg("watching")
	<-ctx.Done()
	e.logger.Info().Msg("shutting down")

	if err := w.Stop(); err != nil {
		e.logger.Warn().Err(err).Msg("watcher stop")
	}
	<-forwardDone
	deb.Close()

	grace := time.AfterFunc(e.ShutdownGrace, opCancel)
	err = g.Wait()
	grace.Stop()
	return err
}

// InitialSync runs one sync over every enabled mapping whose file exists.
// Missed changes from downtime are caught here; untouched files plan to a
// no-op.
func (e *Engine) InitialSync(ctx context.Context) {
	for i := range e.cfg.Mappings {
		m := &e.cfg.Mappings[i]
		if !m.IsEnabled() {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if _, err := os.Stat(m.FilePath); err != nil {
			e.logger.Debug().Str("file", m.FilePath).Msg("mapped file absent, skipping initial sync")
			continue
		}
		e.SyncMapping(ctx, m)
	}
}

// handle routes one debounced event.
func (e *Engine) handle(ctx context.Context, ev debounce.Event) {
	if ctx.Err() != nil {
		// Drained during shutdown. Not a sync failure; the next start's
		// initial pass covers whatever was pending.
		e.logger.Debug().Str("path", ev.Path).Msg("dropping event during shutdown")
		return
	}
	if ev.Kind == debounce.DirCreated {
		e.ensureBucketForDir(ctx, ev.Path)
		return
	}
	m, ok := e.cfg.MappingFor(ev.Path)
	if !ok {
		e.logger.Debug().Str("path", ev.Path).Msg("no mapping for changed file")
		return
	}
	e.SyncMapping(ctx, m)
}

// SyncMapping runs one full sync of a mapping: inspect, plan, execute,
// commit. Concurrent syncs of the same mapping are serialized; a queued
// change observed mid-sync is handled by the debouncer's requeue.
func (e *Engine) SyncMapping(ctx context.Context, m *config.Mapping) {
	log := e.logger.With().
		Str("file", m.FilePath).
		Str("table", storage.TableID(m.BucketID, m.TableID)).
		Str("mode", string(m.SyncMode)).
		Logger()

	unlock := e.reg.Lock(m.FilePath)
	defer unlock()

	start := time.Now()
	st, err := e.reg.State(m.FilePath)
	if err != nil {
		log.Error().Err(err).Msg("load sync state")
		return
	}

	dialect := inspect.DefaultDialect()
	var header []string
	if m.SyncMode != config.ModeStreaming {
		dialect, header, err = inspect.File(m.FilePath, e.cfg.CSVDialect.Candidates())
		if err != nil {
			e.fail(log, m, err, "header inspection failed")
			return
		}
	}

	strat, err := ForMode(m.SyncMode)
	if err != nil {
		e.fail(log, m, err, "plan sync")
		return
	}
	plan, err := strat.Plan(m, st, header, dialect)
	if err != nil {
		if IsHeaderMismatch(err) && e.metrics != nil {
			e.metrics.HeaderMismatches.Inc()
		}
		e.fail(log, m, err, "plan sync")
		return
	}
	if plan.Empty() {
		log.Debug().Msg("no remote work needed")
		return
	}

	for _, op := range plan.Ops {
		err := e.exec.Do(ctx, op.Name, func(context.Context) error {
			return op.Call(e.opCtx, e.gw)
		})
		if err != nil {
			// Exhausted retries and fatal errors read differently in the
			// log even though the mapping outcome is the same.
			if retry.IsExhausted(err) {
				e.fail(log, m, err, "sync failed, retries exhausted")
			} else {
				e.fail(log, m, err, "sync failed")
			}
			return
		}
		if op.Commit != nil {
			if err := e.reg.Commit(op.Commit); err != nil {
				log.Error().Err(err).Msg("commit checkpoint")
				return
			}
		}
	}
	if plan.Final != nil {
		if err := e.reg.Commit(plan.Final); err != nil {
			log.Error().Err(err).Msg("commit sync state")
			return
		}
	}

	if e.metrics != nil {
		e.metrics.SyncsTotal.WithLabelValues(string(m.SyncMode), "success").Inc()
		e.metrics.SyncDuration.WithLabelValues(string(m.SyncMode)).Observe(time.Since(start).Seconds())
	}
	log.Info().Int("ops", len(plan.Ops)).Dur("took", time.Since(start)).Msg("sync complete")
}

// fail records a failed sync without touching last-good state.
func (e *Engine) fail(log zerolog.Logger, m *config.Mapping, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	if rerr := e.reg.RecordFailure(m.FilePath); rerr != nil {
		log.Error().Err(rerr).Msg("record failure")
	}
	if e.metrics != nil {
		e.metrics.SyncsTotal.WithLabelValues(string(m.SyncMode), "error").Inc()
	}
}

// ensureBucketForDir creates a bucket named after a newly created directory
// under the watched root. Files inside it still need explicit mappings.
func (e *Engine) ensureBucketForDir(ctx context.Context, path string) {
	name := storage.SanitizeBucketName(filepath.Base(path))
	if name == "" {
		return
	}
	log := e.logger.With().Str("dir", path).Str("bucket", storage.BucketID(name)).Logger()
	err := e.exec.Do(ctx, "ensure bucket "+storage.BucketID(name), func(context.Context) error {
		exists, err := e.gw.BucketExists(e.opCtx, name)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		return e.gw.CreateBucket(e.opCtx, name)
	})
	if err != nil {
		log.Error().Err(err).Msg("ensure bucket for new directory")
		return
	}
	log.Info().Msg("bucket ready for new directory")
}

func eventKind(op watch.Op) debounce.Kind {
	switch op {
	case watch.OpDirCreated:
		return debounce.DirCreated
	case watch.OpFileCreated:
		return debounce.FileCreated
	default:
		return debounce.FileModified
	}
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("watched path %s is not a directory", dir)
	}
	// A stat alone cannot tell whether the sync state directory can be
	// created under it later.
	f, err := os.CreateTemp(dir, ".tabsync-write-*")
	if err != nil {
		return fmt.Errorf("watched directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}
