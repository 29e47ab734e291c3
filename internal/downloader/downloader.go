package downloader

import (
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/podcast_downloader/internal/episode"
	"github.com/italolelis/podcast_downloader/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	dirPerm = 0755

	// DefaultUserAgent is sent with every episode request unless the caller
	// provides its own. Some hosts reject clients without a browser agent.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/5.37.36 (KHTML, like Gecko) Chrome/100.0.0.0 Safari/5.37.36"

	DefaultChunkSize      = 16 * 1024
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = 30 * time.Second
)

// Config controls how episodes are fetched.
type Config struct {
	UserAgent      string
	ChunkSize      int
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for response headers and for every chunk.
	ReadTimeout time.Duration
	// HTTPClient overrides the default instrumented client.
	HTTPClient *http.Client
}

// Downloader creates episode download tasks that share an HTTP client and a
// path lock registry.
type Downloader struct {
	client      *http.Client
	userAgent   string
	chunkSize   int
	readTimeout time.Duration
	locks       *PathLocks
	telemetry   *telemetry.Telemetry
}

func NewDownloader(cfg Config, tel *telemetry.Telemetry) *Downloader {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = newHTTPClient(cfg)
	}

	return &Downloader{
		client:      client,
		userAgent:   cfg.UserAgent,
		chunkSize:   cfg.ChunkSize,
		readTimeout: cfg.ReadTimeout,
		locks:       NewPathLocks(),
		telemetry:   tel,
	}
}

func newHTTPClient(cfg Config) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}

	return &http.Client{Transport: otelhttp.NewTransport(tr)}
}

// NewTask returns a task for a single episode.
func (d *Downloader) NewTask(desc episode.Descriptor) *Task {
	return &Task{
		ID:         uuid.NewString(),
		Descriptor: desc,
		d:          d,
		status:     StatusNotStarted,
	}
}

func (d *Downloader) NewTasks(descs []episode.Descriptor) []*Task {
	tasks := make([]*Task, 0, len(descs))
	for _, desc := range descs {
		tasks = append(tasks, d.NewTask(desc))
	}

	return tasks
}

// Busy reports whether a download is writing to path.
func (d *Downloader) Busy(path string) bool {
	return d.locks.Held(path)
}
