package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	stdsync "sync"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/scrybble-go/internal/config"
	"github.com/tonimelisma/scrybble-go/internal/sync"
	"github.com/tonimelisma/scrybble-go/internal/vault"
)

// syncRuntime is everything sync and request need: the session, the ledger,
// and a queue writing into the vault, fed by a reconciler.
type syncRuntime struct {
	session    *Session
	ledger     *sync.Ledger
	queue      *sync.Queue
	reconciler *sync.Reconciler
	progress   *progressPrinter
	logger     *slog.Logger
}

// newSyncRuntime opens the ledger and wires the queue. The session is not
// validated here; callers decide when to require a login.
func newSyncRuntime(ctx context.Context, cc *CLIContext) (*syncRuntime, error) {
	cfg, logger := cc.Cfg, cc.Logger

	sess, err := newSession(cfg, logger)
	if err != nil {
		return nil, err
	}

	ledgerPath := config.LedgerPath()
	if ledgerPath == "" {
		sess.Close()
		return nil, errors.New("cannot determine ledger path: no home directory")
	}

	ledger, err := sync.OpenLedger(ctx, ledgerPath, logger)
	if err != nil {
		sess.Close()
		return nil, err
	}

	progress := newProgressPrinter(os.Stderr, cc.Flags.Quiet)

	queue := sync.NewQueue(schedulerConfig(cfg), sync.QueueDeps{
		API:          sess.Client,
		Vault:        vault.NewStore(cfg.VaultDir, logger),
		Recorder:     ledger,
		Logger:       logger,
		Reauth:       sess.Engine.RefreshToken,
		OnFailure:    progress.failed,
		OnDownloaded: progress.downloaded,
	})

	reconciler := sync.NewReconciler(sess.Client, ledger, queue, logger)
	reconciler.Reauth = sess.Engine.RefreshToken

	return &syncRuntime{
		session:    sess,
		ledger:     ledger,
		queue:      queue,
		reconciler: reconciler,
		progress:   progress,
		logger:     logger,
	}, nil
}

// schedulerConfig derives the queue settings from the queue keys.
func schedulerConfig(cfg *config.Config) sync.SchedulerConfig {
	return sync.SchedulerConfig{
		BusyBudget:     cfg.BusyBudget,
		TickInterval:   cfg.TickIntervalDuration(),
		MaxAttempts:    cfg.MaxAttempts,
		MaxBackoff:     cfg.MaxBackoffDuration(),
		SyncFolder:     cfg.SyncFolder,
		MaxArchiveSize: cfg.MaxArchiveBytes(),
	}
}

func (rt *syncRuntime) Close() {
	rt.queue.Wait()
	rt.session.Close()

	if err := rt.ledger.Close(); err != nil {
		rt.logger.Warn("closing ledger", slog.String("error", err.Error()))
	}
}

// progressPrinter shows each followed file's stage as it changes and keeps
// the tally for the final summary.
type progressPrinter struct {
	w     io.Writer
	quiet bool

	mu            stdsync.Mutex
	followed      map[string]bool
	downloadCount int
	failures      []string
}

func newProgressPrinter(w io.Writer, quiet bool) *progressPrinter {
	return &progressPrinter{w: w, quiet: quiet, followed: make(map[string]bool)}
}

// follow prints the stages of path's jobs until one ends. Following a path
// twice is a no-op.
func (p *progressPrinter) follow(q *sync.Queue, path string) {
	p.mu.Lock()
	if p.followed[path] {
		p.mu.Unlock()
		return
	}

	p.followed[path] = true
	p.mu.Unlock()

	q.Subscribe(path, func(j *sync.Job, state sync.JobState) {
		p.printf("%s: %s\n", j.Filename, state.Stage())

		if state.Terminal() {
			p.mu.Lock()
			delete(p.followed, path)
			p.mu.Unlock()

			q.Unsubscribe(path)
		}
	})
}

func (p *progressPrinter) printf(format string, args ...any) {
	if p.quiet {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, format, args...)
}

func (p *progressPrinter) failed(_ *sync.Job, err *sync.JobError) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures = append(p.failures, err.Error())

	// Failures show even in quiet mode.
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

func (p *progressPrinter) downloaded(_ *sync.Job, files []string) {
	p.mu.Lock()
	p.downloadCount++
	p.mu.Unlock()

	for _, f := range files {
		p.printf("  wrote %s\n", f)
	}
}

// finish prints the summary and reports whether anything failed.
func (p *progressPrinter) finish() error {
	p.mu.Lock()
	downloaded, failed := p.downloadCount, len(p.failures)
	p.mu.Unlock()

	p.printf("Downloaded %d, failed %d.\n", downloaded, failed)

	if failed > 0 {
		return fmt.Errorf("%w: %d failed", errSyncIncomplete, failed)
	}

	return nil
}

// watchConfig reloads the config file when it changes on disk or on SIGHUP.
// Only the sync folder and the change-list interval apply live; other keys
// need a restart.
func watchConfig(ctx context.Context, holder *config.Holder, cc *CLIContext, q *sync.Queue, logger *slog.Logger) error {
	hup := reloadSignals(ctx)

	var events <-chan fsnotify.Event

	var watchErrs <-chan error

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config file watching unavailable, SIGHUP still reloads",
			slog.String("error", err.Error()))
	} else {
		defer watcher.Close()

		// Watch the directory: editors replace the file by rename.
		if addErr := watcher.Add(filepath.Dir(holder.Path())); addErr != nil {
			logger.Warn("cannot watch config directory, SIGHUP still reloads",
				slog.String("path", holder.Path()),
				slog.String("error", addErr.Error()),
			)
		} else {
			events, watchErrs = watcher.Events, watcher.Errors
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			logger.Info("SIGHUP received, reloading config")
			reloadConfig(holder, cc, q, logger)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			if filepath.Clean(ev.Name) != filepath.Clean(holder.Path()) ||
				!ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}

			logger.Debug("config file changed", slog.String("op", ev.Op.String()))
			reloadConfig(holder, cc, q, logger)
		case werr, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}

			logger.Warn("config watcher error", slog.String("error", werr.Error()))
		}
	}
}

// reloadConfig re-reads the file and reapplies the env and flag overrides.
// A broken file keeps the previous config.
func reloadConfig(holder *config.Holder, cc *CLIContext, q *sync.Queue, logger *slog.Logger) {
	cfg, err := config.LoadOrDefault(holder.Path())
	if err == nil {
		config.ApplyOverrides(cfg, cc.Env, cc.CLI)
		err = config.ValidateResolved(cfg)
	}

	if err != nil {
		logger.Warn("config reload failed, keeping previous config",
			slog.String("path", holder.Path()),
			slog.String("error", err.Error()),
		)

		return
	}

	old := holder.Config()
	holder.Update(cfg)

	if cfg.SyncFolder != old.SyncFolder {
		q.SetSyncFolder(cfg.SyncFolder)
	}

	if cfg.VaultDir != old.VaultDir || cfg.ServerURL() != old.ServerURL() {
		logger.Warn("vault_dir and server changes take effect after a restart")
	}

	logger.Info("config reloaded",
		slog.String("sync_folder", cfg.SyncFolder),
		slog.String("delta_interval", cfg.DeltaInterval),
	)
}
