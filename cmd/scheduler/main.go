package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/resource-scheduler/internal/application"
	"github.com/example/resource-scheduler/internal/config"
	httptransport "github.com/example/resource-scheduler/internal/http"
	"github.com/example/resource-scheduler/internal/ical"
	"github.com/example/resource-scheduler/internal/metrics"
	"github.com/example/resource-scheduler/internal/notify"
	notifyamqp "github.com/example/resource-scheduler/internal/notify/amqp"
	notifyredis "github.com/example/resource-scheduler/internal/notify/redis"
	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/persistence/postgres"
	"github.com/example/resource-scheduler/internal/persistence/s3archive"
	"github.com/example/resource-scheduler/internal/persistence/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := newLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("scheduler stopped with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// app holds the wired services and the resources to release on shutdown.
type app struct {
	service      *application.Service
	users        *application.UserService
	reservations *application.ReservationService
	metrics      *metrics.Recorder
	handler      http.Handler
	location     *time.Location
	closers      []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load time zone: %w", err)
	}
	a := &app{metrics: metrics.New(), location: loc}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	repo, closeRepo, check, err := openRepository(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	if closeRepo != nil {
		a.closers = append(a.closers, closeRepo)
	}
	checks := map[string]httptransport.HealthCheck{}
	if check != nil {
		checks["storage"] = check
	}

	var archive persistence.SnapshotArchive
	if cfg.Archive.Bucket != "" {
		archive, err = s3archive.New(ctx, s3archive.Config{
			Region:           cfg.Archive.Region,
			Bucket:           cfg.Archive.Bucket,
			Prefix:           cfg.Archive.Prefix,
			Endpoint:         cfg.Archive.Endpoint,
			AccessKeyID:      cfg.Archive.AccessKeyID,
			SecretAccessKey:  cfg.Archive.SecretAccessKey,
			PathStyle:        cfg.Archive.PathStyle,
			IncludePasswords: cfg.Archive.IncludePasswords,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("snapshot archive enabled", "bucket", cfg.Archive.Bucket)
	}

	publisher, err := openPublishers(ctx, cfg, a, logger)
	if err != nil {
		return nil, err
	}

	a.service = application.NewService(nil, application.Options{
		Repository: repo,
		Archive:    archive,
		Publisher:  publisher,
		Metrics:    a.metrics,
		Codec:      persistence.NewCodec(loc),
		Logger:     logger,
	})
	if _, err := a.service.LoadSnapshot(ctx); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	a.users = application.NewUserService(a.service, nil, logger)
	a.reservations = application.NewReservationService(a.service, logger, application.WithConflictHorizon(cfg.ConflictHorizon))

	if cfg.Bootstrap.Password != "" {
		if _, err := a.users.Bootstrap(ctx, cfg.Bootstrap.Username, cfg.Bootstrap.Password); err != nil {
			return nil, fmt.Errorf("bootstrap administrator: %w", err)
		}
	}

	calendar := httptransport.NewCalendarHandler(a.reservations, loc, ical.Options{Domain: cfg.CalendarDomain}, logger)
	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Health:     httptransport.NewHealthHandler(checks, a.service.RepositoryVersion, logger),
		Metrics:    a.metrics.Handler(),
		Calendar:   calendar,
		Protect:    httptransport.RequireBasicAuth(a.users, "scheduler", logger),
		Middleware: []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})
	return a, nil
}

// openRepository returns the snapshot store named by cfg together with its
// closer and health check. Both are nil for the memory driver.
func openRepository(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (persistence.SnapshotRepository, func() error, httptransport.HealthCheck, error) {
	var pool *sqlite.ConnectionPool
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage; data is lost on exit")
		return persistence.NewMemoryRepository(), nil, nil, nil
	case config.DriverPostgres:
		p, err := postgres.Open(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		pool = p
	default:
		p, err := sqlite.NewConnectionPool(sqlite.DefaultConfig(cfg.SQLitePath))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open storage: %w", err)
		}
		if err := p.Migrate(ctx, logger); err != nil {
			_ = p.Close()
			return nil, nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		pool = p
	}
	logger.Info("storage opened", "driver", cfg.Driver)
	return sqlite.NewSnapshotRepository(pool), pool.Close, pool.Ping, nil
}

func openPublishers(ctx context.Context, cfg config.Config, a *app, logger *slog.Logger) (notify.Publisher, error) {
	var publishers notify.Multi
	if cfg.Redis.Addr != "" {
		p, err := notifyredis.Dial(ctx, notifyredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS:      cfg.Redis.TLS,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		publishers = append(publishers, p)
		logger.Info("publishing commits to redis", "channel", p.Channel())
	}
	if cfg.AMQP.URL != "" {
		p, err := notifyamqp.Dial(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		publishers = append(publishers, p)
		logger.Info("publishing commits to amqp", "queue", cfg.AMQP.Queue)
	}
	if len(publishers) == 0 {
		return nil, nil
	}
	return publishers, nil
}

// checkpointJob retries failed snapshot saves and prunes old snapshots.
func checkpointJob(service *application.Service, keep int, logger *slog.Logger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := service.Checkpoint(ctx, keep); err != nil {
			logger.Warn("checkpoint failed", "error", err)
			return
		}
		logger.Debug("checkpoint completed", "repository_version", service.RepositoryVersion())
	}
}

// startCheckpoints schedules checkpointJob. An empty schedule returns a
// scheduler with no entries.
func startCheckpoints(service *application.Service, cfg config.SnapshotConfig, loc *time.Location, logger *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if cfg.Schedule != "" {
		if _, err := c.AddFunc(cfg.Schedule, checkpointJob(service, cfg.Keep, logger)); err != nil {
			return nil, fmt.Errorf("schedule checkpoints: %w", err)
		}
	}
	c.Start()
	return c, nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Error("failed to release resources", "error", cerr)
		}
	}()

	checkpoints, err := startCheckpoints(a.service, cfg.Snapshots, a.location, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("scheduler listening", "addr", server.Addr, "repository_version", a.service.RepositoryVersion())
	serveErr := server.ListenAndServe()
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}

	<-checkpoints.Stop().Done()
	checkpointJob(a.service, cfg.Snapshots.Keep, logger)()
	return serveErr
}
