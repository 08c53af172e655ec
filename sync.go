package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/scrybble-go/internal/config"
)

// errSyncIncomplete marks a run in which at least one file failed. main maps
// it to exitPartialFailure so scripts can tell it apart from a crash.
var errSyncIncomplete = errors.New("some files could not be synced")

const exitPartialFailure = 2

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download new and updated documents into the vault",
		Long: `Fetch the server's list of rendered documents, download every file that is
new or has a newer sync than the copy in the vault, and wait until all
downloads finish.

With --watch, keep running: check for changes every delta_interval, reload the
config file when it changes or on SIGHUP, and stop on SIGINT/SIGTERM.`,
		RunE: runSync,
	}

	cmd.Flags().Bool("watch", false, "keep syncing until interrupted")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	watch, err := cmd.Flags().GetBool("watch")
	if err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), logger)

	if watch {
		// Take the lock before touching the ledger so a second watcher
		// fails fast.
		cleanup, pidErr := writePIDFile(config.PIDPath())
		if pidErr != nil {
			return pidErr
		}
		defer cleanup()
	}

	rt, err := newSyncRuntime(ctx, cc)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.session.requireAuth(ctx); err != nil {
		return err
	}

	if watch {
		return runWatch(ctx, cc, rt)
	}

	return runSyncOnce(ctx, cc, rt)
}

// runSyncOnce reconciles once and drains the queue.
func runSyncOnce(ctx context.Context, cc *CLIContext, rt *syncRuntime) error {
	res, err := rt.reconciler.Reconcile(ctx)
	if err != nil {
		return err
	}

	if res.Enqueued == 0 {
		cc.Statusf("Everything is up to date (%d files on the server).\n", res.Seen)
		return nil
	}

	cc.Statusf("Downloading %d of %d files.\n", res.Enqueued, res.Seen)

	for _, j := range rt.queue.Jobs() {
		rt.progress.follow(rt.queue, j.Filename)
	}

	if err := rt.queue.Drain(ctx); err != nil {
		return err
	}

	return rt.progress.finish()
}

// runWatch runs the queue, the change-list loop, and the config watcher
// until ctx is canceled or one of them fails.
func runWatch(ctx context.Context, cc *CLIContext, rt *syncRuntime) error {
	logger := cc.Logger
	holder := config.NewHolder(cc.Cfg, cc.CfgPath)

	cc.Statusf("Watching for changes every %s. Press Ctrl-C to stop.\n", cc.Cfg.DeltaInterval)
	logger.Info("watch mode started",
		slog.String("vault", cc.Cfg.VaultDir),
		slog.String("sync_folder", cc.Cfg.SyncFolder),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.queue.Run(gctx)
	})

	g.Go(func() error {
		return deltaLoop(gctx, rt, holder, logger)
	})

	g.Go(func() error {
		return watchConfig(gctx, holder, cc, rt.queue, logger)
	})

	err := g.Wait()

	logger.Info("watch mode stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// deltaLoop reconciles at once and then every delta_interval, picking up a
// changed interval after each pass. Transient failures are logged and
// retried next time; a lost session ends the loop.
func deltaLoop(ctx context.Context, rt *syncRuntime, holder *config.Holder, logger *slog.Logger) error {
	interval := holder.Config().DeltaIntervalDuration()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		res, err := rt.reconciler.Reconcile(ctx)

		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil && !rt.session.Engine.IsAuthenticated():
			return fmt.Errorf("%w: %w", errNotLoggedIn, err)
		case err != nil:
			logger.Warn("checking for changes failed, will retry",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", interval),
			)
		default:
			for _, j := range rt.queue.Jobs() {
				rt.progress.follow(rt.queue, j.Filename)
			}

			logger.Debug("change list checked",
				slog.Int("enqueued", res.Enqueued),
				slog.Int("up_to_date", res.UpToDate),
			)
		}

		if d := holder.Config().DeltaIntervalDuration(); d > 0 {
			interval = d
		}

		timer.Reset(interval)
	}
}
