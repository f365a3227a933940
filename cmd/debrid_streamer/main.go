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

	"github.com/italolelis/debrid_streamer/internal/acquisition"
	"github.com/italolelis/debrid_streamer/internal/cleanup"
	"github.com/italolelis/debrid_streamer/internal/config"
	"github.com/italolelis/debrid_streamer/internal/debrid"
	"github.com/italolelis/debrid_streamer/internal/debrid/putio"
	"github.com/italolelis/debrid_streamer/internal/debrid/realdebrid"
	"github.com/italolelis/debrid_streamer/internal/http/rest"
	"github.com/italolelis/debrid_streamer/internal/library"
	"github.com/italolelis/debrid_streamer/internal/library/sqlite"
	"github.com/italolelis/debrid_streamer/internal/logctx"
	"github.com/italolelis/debrid_streamer/internal/notifier"
	"github.com/italolelis/debrid_streamer/internal/search"
	"github.com/italolelis/debrid_streamer/internal/stream"
	"github.com/italolelis/debrid_streamer/internal/telemetry"
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

	slog.Info("debrid streamer starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
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
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		// The run context is already canceled at this point.
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedRepository(database, tel)

	// =========================================================================
	// Start Debrid Clients
	factories, err := buildClientFactories(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to build debrid clients: %w", err)
	}

	acquirers := make(map[string]rest.Acquirer, len(factories))
	for name, factory := range factories {
		acquirers[name] = acquisition.NewOrchestrator(factory, acquisition.Config{
			PollInterval:          cfg.Acquisition.PollInterval,
			MaxAttempts:           cfg.Acquisition.MaxAttempts,
			MaxParallelUnrestrict: cfg.Acquisition.MaxParallelUnrestrict,
		}, tel)
	}

	// =========================================================================
	// Start Notification
	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, tel, acquirers, repo, notif)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for acquisitions...",
		"default_provider", cfg.Provider,
		"poll_interval", cfg.Acquisition.PollInterval.String(),
		"max_attempts", cfg.Acquisition.MaxAttempts,
		"retention", cfg.KeepLinksFor.String(),
	)

	// =========================================================================
	// Start Cleanup
	go cleanup.Watch(ctx, repo, cfg.CleanupInterval, cfg.KeepLinksFor)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// buildClientFactories returns one client factory per debrid backend. Clients are built per
// request because every request carries its own key.
func buildClientFactories(cfg *config.Config, tel *telemetry.Telemetry) (map[string]debrid.ClientFactory, error) {
	rd := realdebrid.NewFactory(
		realdebrid.WithBaseURL(cfg.RealDebrid.BaseURL),
		realdebrid.WithTimeout(cfg.RealDebrid.RequestTimeout),
		realdebrid.WithLimiter(realdebrid.NewLimiter(cfg.RealDebrid.RequestsPerMin, cfg.RealDebrid.Burst)),
	)

	pio, err := putio.NewFactory(cfg.Putio.BaseURL)
	if err != nil {
		return nil, err
	}

	return map[string]debrid.ClientFactory{
		"realdebrid": debrid.InstrumentFactory(rd, tel, "realdebrid"),
		"putio":      debrid.InstrumentFactory(pio, tel, "putio"),
	}, nil
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	tel *telemetry.Telemetry,
	acquirers map[string]rest.Acquirer,
	repo library.Repository,
	notif notifier.Notifier,
) *http.Server {
	aggregator := search.NewAggregator(tel, cfg.Search.Limit, search.NewApibay(cfg.Search.ApibayURL, cfg.Search.Timeout))

	handlers := rest.Handlers{
		Acquire: rest.NewAcquireHandler(acquirers, cfg.Provider, repo, notif, cfg.Web.AllowedOrigins),
		Search:  rest.NewSearchHandler(aggregator),
		Library: rest.NewLibraryHandler(repo),
		Stream:  rest.NewStreamHandler(stream.NewProxy(
			cfg.Stream.HeaderTimeout, tel, stream.WithAllowedHosts(cfg.Stream.AllowedHosts...),
		)),
	}

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      rest.NewRouter(handlers, tel, cfg.Web.AllowedOrigins),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
