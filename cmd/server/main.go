package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/temmyjay001/claimsflow-webhooks/internal/auth"
	"github.com/temmyjay001/claimsflow-webhooks/internal/cache"
	"github.com/temmyjay001/claimsflow-webhooks/internal/config"
	"github.com/temmyjay001/claimsflow-webhooks/internal/events"
	"github.com/temmyjay001/claimsflow-webhooks/internal/lease"
	"github.com/temmyjay001/claimsflow-webhooks/internal/logger"
	"github.com/temmyjay001/claimsflow-webhooks/internal/metrics"
	"github.com/temmyjay001/claimsflow-webhooks/internal/notify"
	"github.com/temmyjay001/claimsflow-webhooks/internal/server"
	"github.com/temmyjay001/claimsflow-webhooks/internal/storage"
	"github.com/temmyjay001/claimsflow-webhooks/internal/webhooks"
)

func main() {
	// Load Configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogService)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server exited")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.RegisterDefault()

	// Storage
	var (
		repo       webhooks.WebhookRepository
		deliveries webhooks.DeliveryStore
		dbHealth   server.HealthChecker
		leaseCheck server.HealthChecker
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		mem := webhooks.NewMemoryStore()
		repo, deliveries = mem, mem
		log.Warn("using in-memory store; deliveries are lost on restart")
	default:
		if cfg.RunMigrations {
			if err := storage.RunMigrations(cfg.DatabaseURL); err != nil {
				return err
			}
		}
		db, err := storage.NewPostgresDB(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		store := storage.NewStore(db)
		repo, deliveries, dbHealth = store, store, db
	}

	registry, err := cache.NewRegistry(repo, cfg.Webhooks.RegistryCacheSize, cfg.Webhooks.RegistryCacheTTL)
	if err != nil {
		return err
	}
	defer registry.Close()

	// Delivery lease
	var locker webhooks.Locker = webhooks.NewMemoryLocker()
	if cfg.RedisURL != "" {
		rdb, err := lease.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		redisLocker := lease.NewRedisLocker(rdb)
		locker, leaseCheck = redisLocker, redisLocker
		log.Info("using redis delivery lease")
	}

	var limiter *rate.Limiter
	if cfg.Webhooks.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Webhooks.RateLimitRPS), cfg.Webhooks.RateLimitBurst)
	}

	sender := webhooks.NewSender(deliveries, webhooks.NewHTTPClient(), webhooks.SenderConfig{
		DefaultTimeout:       cfg.Webhooks.DefaultTimeout,
		MaxResponseBytes:     cfg.Webhooks.MaxResponseBytes,
		NonRetryableStatuses: cfg.Webhooks.NonRetryableStatuses,
		Limiter:              limiter,
	}, log)

	processor := webhooks.NewProcessor(deliveries, registry, sender, locker, webhooks.ProcessorConfig{
		BatchSize:    cfg.Webhooks.BatchSize,
		Workers:      cfg.Webhooks.Workers,
		PollInterval: cfg.Webhooks.PollInterval,
		LeaseTTL:     cfg.Webhooks.LeaseTTL,
	}, log)

	// Wake-ups: local processor directly, or every instance through NATS
	var notifier webhooks.Notifier = processor
	if cfg.NATSURL != "" {
		nc, err := notify.Connect(cfg.NATSURL, log)
		if err != nil {
			return err
		}
		defer nc.Close()
		unsubscribe, err := notify.Subscribe(nc, cfg.NATSSubject, processor)
		if err != nil {
			return err
		}
		defer unsubscribe()
		notifier = notify.NewNATSNotifier(nc, cfg.NATSSubject, log)
	}

	dispatcher := webhooks.NewDispatcher(registry, deliveries, notifier, log)
	service := webhooks.NewService(registry, deliveries, sender, notifier, log)
	publisher := events.NewPublisher(dispatcher, log)

	// initialize server
	srv := server.New(cfg, server.Dependencies{
		DB:        dbHealth,
		Lease:     leaseCheck,
		Auth:      auth.NewService(cfg.JWTSecret, cfg.JWTIssuer),
		Webhooks:  service,
		Publisher: publisher,
		Logger:    log,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		processor.Start(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("server starting", "addr", httpServer.Addr, "store", cfg.StoreDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
