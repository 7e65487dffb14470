package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/postpipe/connector/internal/config"
	"github.com/postpipe/connector/internal/events"
	"github.com/postpipe/connector/internal/handlers"
	"github.com/postpipe/connector/internal/logging"
	"github.com/postpipe/connector/internal/middleware"
	"github.com/postpipe/connector/internal/models"
	"github.com/postpipe/connector/internal/ratelimit"
	"github.com/postpipe/connector/internal/security"
	"github.com/postpipe/connector/internal/server"
	"github.com/postpipe/connector/internal/service"
	"github.com/postpipe/connector/internal/storage"
	"github.com/postpipe/connector/internal/storage/memory"
	"github.com/postpipe/connector/internal/storage/mongodb"
	"github.com/postpipe/connector/internal/storage/postgres"
	"github.com/postpipe/connector/internal/targets"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the connector HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("connector"))
	logging.SetDefault(logger)

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}
	resolver := targets.NewResolver(targets.OSEnvironment{}, registry, cfg.Connector.VarPrefix, cfg.ResolverDefaults())
	warnMissingConnections(logger, resolver)

	adapters := storage.NewSet(
		memory.New(),
		postgres.New(resolver, postgres.Options{
			MaxConns:        cfg.Storage.Postgres.MaxConns,
			MinConns:        cfg.Storage.Postgres.MinConns,
			MaxConnLifetime: cfg.Storage.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Storage.Postgres.MaxConnIdleTime,
		}, logger),
		mongodb.New(resolver, mongodb.Dial, logger),
	)

	trusted, err := cfg.TrustedProxies()
	if err != nil {
		return err
	}
	limiter := newRateLimiter(cfg, logger)
	publisher := newPublisher(cfg, logger)

	ingestService := service.NewIngestService(
		security.NewSigner(cfg.Connector.Secret),
		resolver,
		adapters,
		publisher,
		logger,
		service.IngestConfig{
			Skew:           cfg.Ingestion.TimestampSkew,
			TaskTimeout:    cfg.Ingestion.DeliveryTimeout,
			MaxConcurrency: cfg.Ingestion.MaxConcurrency,
			DefaultKind:    cfg.DefaultKind(),
		},
	)
	queryService := service.NewQueryService(resolver, adapters, cfg.DefaultKind(), logger)

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.CORS.AllowedOrigins) > 0 {
		corsConfig.AllowedOrigins = cfg.CORS.AllowedOrigins
	}

	router := server.NewRouter(server.Handlers{
		Ingest:      handlers.NewIngestHandler(ingestService, logger),
		Query:       handlers.NewQueryHandler(queryService, logger),
		Diagnostics: handlers.NewDiagnosticsHandler(diagnostics(cfg, resolver)),
		Auth:        security.NewTokenAuthenticator(cfg.Connector.ID, cfg.Connector.Secret),
	}, server.Options{
		MaxBodyBytes:   cfg.Ingestion.MaxBodyBytes,
		CORS:           corsConfig,
		Limiter:        limiter,
		TrustedProxies: trusted,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("connector listening",
			"addr", srv.Addr,
			"default_kind", string(cfg.DefaultKind()),
			"targets", registry.Len(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := adapters.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("close adapters: %w", err))
	}
	if err := publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close events: %w", err))
	}
	if err := limiter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close rate limiter: %w", err))
	}
	logger.Info("connector stopped")
	return errors.Join(errs...)
}

func newRateLimiter(cfg *config.Config, logger *logging.Logger) ratelimit.RateLimiter {
	if !cfg.Ingestion.RateLimitEnabled {
		logger.Info("rate limiting disabled in configuration")
		return &ratelimit.NoOpRateLimiter{}
	}
	if cfg.Redis.Enabled {
		limiter, err := ratelimit.NewRedisRateLimiter(cfg.Redis.URL, cfg.Ingestion.RateLimitRequests, cfg.Ingestion.RateLimitWindow)
		if err == nil {
			logger.Info("redis rate limiter enabled",
				"requests", cfg.Ingestion.RateLimitRequests,
				"window", cfg.Ingestion.RateLimitWindow.String(),
			)
			return limiter
		}
		logger.Warn("failed to initialize redis rate limiter, using in-memory limiter", logging.Error(err))
	}
	return ratelimit.NewMemoryRateLimiter(cfg.Ingestion.RateLimitRequests, cfg.Ingestion.RateLimitWindow)
}

func newPublisher(cfg *config.Config, logger *logging.Logger) events.Publisher {
	if !cfg.Events.Enabled {
		return events.NoopPublisher{}
	}
	pub, err := events.NewNATSPublisher(events.Config{
		URL:           cfg.Events.URL,
		SubjectPrefix: cfg.Events.SubjectPrefix,
		Timeout:       cfg.Events.Timeout,
	}, logger)
	if err != nil {
		logger.Warn("delivery events disabled", logging.Error(err))
		return events.NoopPublisher{}
	}
	logger.Info("publishing delivery events", "subject_prefix", cfg.Events.SubjectPrefix)
	return pub
}

// warnMissingConnections flags a default kind that has no default
// connection string to fall back on.
func warnMissingConnections(logger *logging.Logger, r *targets.Resolver) {
	hint := targets.Hint{}
	switch cfg.DefaultKind() {
	case models.KindRelational:
		if _, err := r.RelationalURL(hint); err != nil {
			logger.Warn("default kind is postgres but no connection string is configured")
		}
	case models.KindDocument:
		if _, err := r.DocumentURI(hint); err != nil {
			logger.Warn("default kind is mongodb but no connection string is configured")
		}
	}
}

func diagnostics(cfg *config.Config, r *targets.Resolver) handlers.Diagnostics {
	_, pgErr := r.RelationalURL(targets.Hint{})
	_, mongoErr := r.DocumentURI(targets.Hint{})
	return handlers.Diagnostics{
		DefaultKind:        string(cfg.DefaultKind()),
		HasConnectorID:     cfg.Connector.ID != "",
		PostgresConfigured: pgErr == nil,
		MongoConfigured:    mongoErr == nil,
		Targets:            r.Registry().Names(),
	}
}
