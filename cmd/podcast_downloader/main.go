package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/italolelis/podcast_downloader/internal/cleanup"
	"github.com/italolelis/podcast_downloader/internal/config"
	"github.com/italolelis/podcast_downloader/internal/downloader"
	"github.com/italolelis/podcast_downloader/internal/http/rest"
	"github.com/italolelis/podcast_downloader/internal/logctx"
	"github.com/italolelis/podcast_downloader/internal/notifier"
	"github.com/italolelis/podcast_downloader/internal/orchestrator"
	"github.com/italolelis/podcast_downloader/internal/storage/sqlite"
	"github.com/italolelis/podcast_downloader/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(logctx.NewTraceHandler(handler))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("podcast downloader starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	logger = slog.New(tel.LogHandler(logger.Handler()))
	slog.SetDefault(logger)
	ctx = logctx.WithLogger(ctx, logger)

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	podcasts := sqlite.NewInstrumentedPodcastRepository(database, tel)
	downloads := sqlite.NewInstrumentedDownloadRepository(database, tel)

	g, ctx := errgroup.WithContext(ctx)

	// =========================================================================
	// Start Downloader
	d := downloader.NewDownloader(downloader.Config{
		UserAgent:      cfg.Download.UserAgent,
		ChunkSize:      cfg.Download.ChunkSize,
		ConnectTimeout: cfg.Download.ConnectTimeout,
		ReadTimeout:    cfg.Download.ReadTimeout,
	}, tel)

	orch := orchestrator.New(ctx, d, downloads, tel, downloader.NewLogSink(ctx))

	// =========================================================================
	// Start Notification
	setupNotifications(ctx, orch, cfg)

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, cfg, podcasts, orch, tel)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	// =========================================================================
	// Start Cleanup
	g.Go(func() error {
		cleanup.Run(ctx, downloads, cfg.CleanupInterval, cfg.KeepDownloadedFor, d.Busy)

		return nil
	})

	logger.Info("waiting for requests...",
		"target_dir", cfg.TargetDir,
		"retention", cfg.KeepDownloadedFor.String(),
	)

	// =========================================================================
	// Shutdown
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		// in-flight downloads observe ctx and clean up their partial files
		orch.Wait()

		return nil
	})

	return g.Wait()
}

func setupNotifications(ctx context.Context, orch *orchestrator.Orchestrator, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier = notifier.Nop{}
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-orch.OnEpisodeFailed:
				logger.Error("episode download failed", "podcast", event.Podcast, "title", event.Title, "err", event.Err)

				if err := notif.Notify(ctx, "❌ Download failed for "+event.Podcast+": "+event.Title); err != nil {
					logger.Error("failed to send notification", "err", err)
				}
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case summary := <-orch.OnBatchFinished:
				logger.Info("batch download finished", "podcast", summary.Podcast, "status", summary.Result.Status())

				if err := notif.Notify(ctx, summary.Message()); err != nil {
					logger.Error("failed to send notification", "podcast", summary.Podcast, "err", err)
				}
			}
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	podcasts *sqlite.InstrumentedPodcastRepository,
	orch *orchestrator.Orchestrator,
	tel *telemetry.Telemetry,
) *http.Server {
	router := rest.NewRouter(
		rest.NewPodcastHandler(podcasts, orch, cfg.TargetDir),
		rest.NewEpisodeHandler(orch),
		tel,
		rest.Auth{Username: cfg.API.Username, Password: cfg.API.Password},
	)

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      router,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
