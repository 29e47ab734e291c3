package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/podcast_downloader/internal/storage"
)

type DownloadRepository struct {
	db *sql.DB
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

func (r *DownloadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT podcast, file_path, downloaded_at FROM downloads ORDER BY downloaded_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []storage.DownloadRecord

	for rows.Next() {
		var record storage.DownloadRecord
		if err := rows.Scan(&record.Podcast, &record.FilePath, &record.DownloadedAt); err != nil {
			return nil, err
		}

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}

// TrackDownload records a finished download. Downloading the same file
// again refreshes its timestamp.
func (r *DownloadRepository) TrackDownload(ctx context.Context, podcast, filePath string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO downloads (podcast, file_path, downloaded_at)
		VALUES (?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			podcast = excluded.podcast,
			downloaded_at = excluded.downloaded_at
	`, podcast, filePath, time.Now().UTC())

	return err
}

// ForgetDownload removes the record of a file that no longer exists.
func (r *DownloadRepository) ForgetDownload(ctx context.Context, filePath string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE file_path = ?`, filePath)

	return err
}
