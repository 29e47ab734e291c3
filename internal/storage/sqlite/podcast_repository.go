package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/italolelis/podcast_downloader/internal/storage"
)

type PodcastRepository struct {
	db *sql.DB
}

func NewPodcastRepository(dbConn *sql.DB) *PodcastRepository {
	return &PodcastRepository{db: dbConn}
}

// SavePodcast inserts the profile or replaces the one with the same name.
func (r *PodcastRepository) SavePodcast(ctx context.Context, p storage.Podcast) (storage.Podcast, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO podcasts (name, feed_url, download_dir, username, password)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			feed_url = excluded.feed_url,
			download_dir = excluded.download_dir,
			username = excluded.username,
			password = excluded.password
		RETURNING id
	`, p.Name, p.FeedURL, p.DownloadDir, nullString(p.Username), nullString(p.Password)).Scan(&p.ID)
	if err != nil {
		return storage.Podcast{}, err
	}

	return p, nil
}

// GetPodcasts returns every profile ordered by name.
func (r *PodcastRepository) GetPodcasts(ctx context.Context) ([]storage.Podcast, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, feed_url, download_dir, username, password FROM podcasts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var podcasts []storage.Podcast

	for rows.Next() {
		p, err := scanPodcast(rows)
		if err != nil {
			return nil, err
		}

		podcasts = append(podcasts, p)
	}

	return podcasts, rows.Err()
}

func (r *PodcastRepository) GetPodcast(ctx context.Context, name string) (storage.Podcast, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, feed_url, download_dir, username, password FROM podcasts WHERE name = ?`, name)

	p, err := scanPodcast(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Podcast{}, storage.ErrNotFound
	}

	return p, err
}

func (r *PodcastRepository) DeletePodcast(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM podcasts WHERE name = ?`, name)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPodcast(s scanner) (storage.Podcast, error) {
	var (
		p                  storage.Podcast
		username, password sql.NullString
	)

	if err := s.Scan(&p.ID, &p.Name, &p.FeedURL, &p.DownloadDir, &username, &password); err != nil {
		return storage.Podcast{}, err
	}

	p.Username = username.String
	p.Password = password.String

	return p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
