package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when a podcast profile does not exist.
var ErrNotFound = errors.New("podcast not found")

// Podcast is a saved feed profile. Name is the unique key.
type Podcast struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	FeedURL     string `json:"feed_url"`
	DownloadDir string `json:"download_dir"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
}

// Validate checks the fields required to fetch and store episodes.
func (p Podcast) Validate() error {
	var errs []error

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}

	if strings.TrimSpace(p.FeedURL) == "" {
		errs = append(errs, errors.New("feed url is required"))
	}

	if strings.TrimSpace(p.DownloadDir) == "" {
		errs = append(errs, errors.New("download dir is required"))
	}

	return errors.Join(errs...)
}

// AuthenticatedFeedURL returns the feed URL with the profile's credentials
// embedded. The scheme defaults to https when the stored URL has none.
// Credentials only ever apply to the feed, never to episode downloads.
func (p Podcast) AuthenticatedFeedURL() (string, error) {
	raw := strings.TrimSpace(p.FeedURL)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	if p.Username != "" && p.Password != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}

	return u.String(), nil
}

// DownloadRecord represents a finished episode download.
type DownloadRecord struct {
	Podcast      string
	FilePath     string
	DownloadedAt time.Time
}

type PodcastRepository interface {
	SavePodcast(ctx context.Context, p Podcast) (Podcast, error)
	GetPodcasts(ctx context.Context) ([]Podcast, error)
	GetPodcast(ctx context.Context, name string) (Podcast, error)
	DeletePodcast(ctx context.Context, name string) error
}

type DownloadReadRepository interface {
	GetDownloads(ctx context.Context) ([]DownloadRecord, error)
}

type DownloadWriteRepository interface {
	TrackDownload(ctx context.Context, podcast, filePath string) error
	ForgetDownload(ctx context.Context, filePath string) error
}

type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}
