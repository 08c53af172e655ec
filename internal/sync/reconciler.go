package sync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/scrybble-go/internal/api"
)

// DeltaSource lists files the server has rendered. Satisfied by *api.Client.
type DeltaSource interface {
	SyncDelta(ctx context.Context) ([]api.SyncDelta, error)
}

// VersionStore reports the sync ID of each file already in the vault.
// Satisfied by *Ledger.
type VersionStore interface {
	SyncVersions(ctx context.Context) (map[string]int64, error)
}

// ReconcileResult counts what one pass did.
type ReconcileResult struct {
	Seen     int
	Enqueued int
	UpToDate int
	Live     int // already queued
}

// Reconciler compares the server's change list with the ledger and queues a
// download for every file that is new or has a newer sync.
type Reconciler struct {
	source   DeltaSource
	versions VersionStore
	queue    *Queue
	logger   *slog.Logger

	// Reauth is called once when the change list request fails with 401.
	Reauth func(ctx context.Context, cause error) error
}

// NewReconciler creates a reconciler feeding queue.
func NewReconciler(source DeltaSource, versions VersionStore, queue *Queue, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		source:   source,
		versions: versions,
		queue:    queue,
		logger:   logger,
	}
}

// Reconcile runs one pass.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult

	delta, err := r.fetchDelta(ctx)
	if err != nil {
		return res, err
	}

	versions, err := r.versions.SyncVersions(ctx)
	if err != nil {
		return res, err
	}

	for _, item := range delta {
		res.Seen++

		if r.queue.HasLiveJob(item.Filename) {
			res.Live++
			continue
		}

		if known, ok := versions[item.Filename]; ok && item.ID <= known {
			res.UpToDate++
			continue
		}

		if _, err := r.queue.EnqueueDownload(item.Filename, item.DownloadURL, item.ID); err != nil {
			r.logger.Warn("skipping delta item",
				slog.String("file", item.Filename),
				slog.Int64("sync_id", item.ID),
				slog.String("error", err.Error()),
			)

			continue
		}

		res.Enqueued++
	}

	r.logger.Info("reconciled remote changes",
		slog.Int("seen", res.Seen),
		slog.Int("enqueued", res.Enqueued),
		slog.Int("up_to_date", res.UpToDate),
		slog.Int("already_queued", res.Live),
	)

	return res, nil
}

func (r *Reconciler) fetchDelta(ctx context.Context) ([]api.SyncDelta, error) {
	delta, err := r.source.SyncDelta(ctx)
	if err == nil {
		return delta, nil
	}

	if api.StatusCode(err) != http.StatusUnauthorized || r.Reauth == nil {
		return nil, fmt.Errorf("sync: fetching change list: %w", err)
	}

	if reauthErr := r.Reauth(ctx, err); reauthErr != nil {
		return nil, fmt.Errorf("sync: fetching change list: %w", reauthErr)
	}

	delta, err = r.source.SyncDelta(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: fetching change list: %w", err)
	}

	return delta, nil
}
