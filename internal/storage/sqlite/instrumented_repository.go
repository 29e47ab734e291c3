package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/podcast_downloader/internal/storage"
	"github.com/italolelis/podcast_downloader/internal/telemetry"
)

// InstrumentedPodcastRepository wraps PodcastRepository with telemetry.
type InstrumentedPodcastRepository struct {
	repo      *PodcastRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedPodcastRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedPodcastRepository {
	return &InstrumentedPodcastRepository{
		repo:      NewPodcastRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedPodcastRepository) SavePodcast(ctx context.Context, p storage.Podcast) (storage.Podcast, error) {
	var result storage.Podcast

	err := r.telemetry.InstrumentDBOperation(ctx, "save_podcast", func(ctx context.Context) error {
		var err error
		result, err = r.repo.SavePodcast(ctx, p)

		return err
	})

	return result, err
}

func (r *InstrumentedPodcastRepository) GetPodcasts(ctx context.Context) ([]storage.Podcast, error) {
	var result []storage.Podcast

	err := r.telemetry.InstrumentDBOperation(ctx, "get_podcasts", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetPodcasts(ctx)

		return err
	})

	return result, err
}

func (r *InstrumentedPodcastRepository) GetPodcast(ctx context.Context, name string) (storage.Podcast, error) {
	var result storage.Podcast

	err := r.telemetry.InstrumentDBOperation(ctx, "get_podcast", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetPodcast(ctx, name)

		return err
	})

	return result, err
}

func (r *InstrumentedPodcastRepository) DeletePodcast(ctx context.Context, name string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_podcast", func(ctx context.Context) error {
		return r.repo.DeletePodcast(ctx, name)
	})
}

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedDownloadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_downloads", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetDownloads(ctx)

		return err
	})

	return result, err
}

func (r *InstrumentedDownloadRepository) TrackDownload(ctx context.Context, podcast, filePath string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "track_download", func(ctx context.Context) error {
		return r.repo.TrackDownload(ctx, podcast, filePath)
	})
}

func (r *InstrumentedDownloadRepository) ForgetDownload(ctx context.Context, filePath string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "forget_download", func(ctx context.Context) error {
		return r.repo.ForgetDownload(ctx, filePath)
	})
}
