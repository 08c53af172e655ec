package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/scrybble-go/internal/archive"
	"github.com/tonimelisma/scrybble-go/internal/vault"
)

var errNoDownloadURL = errors.New("sync: job has no download URL")

// startDownload prepares the destination folder and launches the fetch.
// A folder that cannot be created is logged only; the write that follows
// reports the real failure.
func (q *Queue) startDownload(ctx context.Context, j *Job) bool {
	url := j.DownloadURL()
	if url == "" {
		q.downloadFailed(ctx, j, errNoDownloadURL)
		return false
	}

	dest := vault.Resolve(q.SyncFolder(), j.Filename)

	if err := q.deps.Vault.CreateFolder(dest.Folder); err != nil {
		q.logger.Warn("sync: creating destination folder",
			slog.String("folder", dest.Folder),
			slog.String("error", err.Error()),
		)
	}

	if err := j.DownloadRequestSent(); err != nil {
		q.logger.Error("sync: marking download started", slog.String("error", err.Error()))
		return false
	}

	q.launch(ctx, j, func() {
		q.download(ctx, j, url, dest)
	})

	return true
}

// download fetches the archive, extracts it, and writes the PDF and the
// optional Markdown export.
func (q *Queue) download(ctx context.Context, j *Job, url string, dest vault.Destination) {
	data, err := q.deps.API.DownloadArchive(ctx, url, q.cfg.MaxArchiveSize)
	if err != nil {
		q.downloadFailed(ctx, j, err)
		return
	}

	contents, err := archive.Extract(data, q.cfg.MaxArchiveSize)
	if err != nil {
		q.downloadFailed(ctx, j, err)
		return
	}

	files := []string{dest.PDF}

	if err := q.write(dest.PDF, contents.PDF); err != nil {
		q.downloadFailed(ctx, j, err)
		return
	}

	if contents.HasMarkdown() {
		if err := q.write(dest.Markdown, contents.Markdown); err != nil {
			q.downloadFailed(ctx, j, err)
			return
		}

		files = append(files, dest.Markdown)
	}

	if err := j.Downloaded(); err != nil {
		q.logger.Error("sync: marking downloaded", slog.String("error", err.Error()))
		return
	}

	q.logger.Info("downloaded",
		slog.String("file", j.Filename),
		slog.Int("files", len(files)),
		slog.Int("bytes", len(data)),
	)

	q.record(ctx, j, nil)

	if q.deps.OnDownloaded != nil {
		q.deps.OnDownloaded(j, files)
	}
}

func (q *Queue) write(rel string, data []byte) error {
	created, err := q.deps.Vault.WriteFile(rel, data)
	if err != nil {
		return fmt.Errorf("sync: writing %s: %w", rel, err)
	}

	q.logger.Debug("wrote file",
		slog.String("path", rel),
		slog.Bool("created", created),
	)

	return nil
}
