package cleanup

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/italolelis/podcast_downloader/internal/logctx"
	"github.com/italolelis/podcast_downloader/internal/storage"
)

// InUse reports whether a download is currently writing to a path.
type InUse func(path string) bool

// DeleteExpiredFiles deletes tracked episodes older than keepDuration and
// forgets records whose file is gone. A keepDuration of zero keeps everything.
func DeleteExpiredFiles(ctx context.Context, repo storage.DownloadRepository, keepDuration time.Duration, inUse InUse) (int, error) {
	if keepDuration <= 0 {
		return 0, nil
	}

	logger := logctx.LoggerFromContext(ctx)

	records, err := repo.GetDownloads(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	deleted := 0

	var errs []error

	for _, rec := range records {
		if inUse != nil && inUse(rec.FilePath) {
			continue
		}

		if _, err := os.Stat(rec.FilePath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// removed by hand, drop the record
				errs = append(errs, repo.ForgetDownload(ctx, rec.FilePath))

				continue
			}

			logger.Error("failed to stat file", "file_path", rec.FilePath, "err", err)
			errs = append(errs, err)

			continue
		}

		if now.Sub(rec.DownloadedAt) <= keepDuration {
			continue
		}

		if err := os.Remove(rec.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Error("failed to delete expired file", "file_path", rec.FilePath, "err", err)
			errs = append(errs, err)

			continue
		}

		logger.Info("deleted expired file", "file_path", rec.FilePath, "podcast", rec.Podcast)

		deleted++

		errs = append(errs, repo.ForgetDownload(ctx, rec.FilePath))
	}

	return deleted, errors.Join(errs...)
}

// Run deletes expired files every interval until ctx is done.
func Run(ctx context.Context, repo storage.DownloadRepository, interval, keepDuration time.Duration, inUse InUse) {
	logger := logctx.LoggerFromContext(ctx)

	if keepDuration <= 0 || interval <= 0 {
		logger.Info("episode retention disabled")

		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down")

			return
		case <-ticker.C:
			if _, err := DeleteExpiredFiles(ctx, repo, keepDuration, inUse); err != nil {
				logger.Error("failed to delete expired tracked files", "err", err)
			}
		}
	}
}
