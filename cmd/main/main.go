package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DanielCayresFilho/NoVendx/internal/admission"
	"github.com/DanielCayresFilho/NoVendx/internal/assignment"
	"github.com/DanielCayresFilho/NoVendx/internal/cache"
	"github.com/DanielCayresFilho/NoVendx/internal/config"
	"github.com/DanielCayresFilho/NoVendx/internal/controlpanel"
	"github.com/DanielCayresFilho/NoVendx/internal/gateway"
	"github.com/DanielCayresFilho/NoVendx/internal/guard"
	"github.com/DanielCayresFilho/NoVendx/internal/healthcheck"
	"github.com/DanielCayresFilho/NoVendx/internal/ingestion"
	"github.com/DanielCayresFilho/NoVendx/internal/jetstream"
	"github.com/DanielCayresFilho/NoVendx/internal/notifier"
	"github.com/DanielCayresFilho/NoVendx/internal/observer"
	"github.com/DanielCayresFilho/NoVendx/internal/ratelimit"
	"github.com/DanielCayresFilho/NoVendx/internal/reputation"
	"github.com/DanielCayresFilho/NoVendx/internal/storage"
	"github.com/DanielCayresFilho/NoVendx/pkg/logger"
	"github.com/DanielCayresFilho/NoVendx/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel, logger.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(cfg.Metrics.Enabled)

	logger.Log.Info("Starting NoVendx line router",
		zap.String("environment", cfg.Environment),
		zap.String("nats_url", cfg.NATS.URL),
		zap.String("timezone", cfg.Location().String()),
	)

	if err := run(cfg); err != nil {
		logger.Log.Error("NoVendx line router stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Log.Info("NoVendx line router shutdown complete")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := storage.NewPostgresRepo(storage.PostgresConfig{
		DSN:          cfg.Database.PostgresDSN,
		AutoMigrate:  cfg.Database.PostgresAutoMigrate,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		LineCapacity: cfg.Assignment.LineCapacity,
	})
	if err != nil {
		return fmt.Errorf("init postgres repository: %w", err)
	}

	defaultSegment, err := repo.EnsureSegment(ctx, cfg.Assignment.DefaultSegment)
	if err != nil {
		return fmt.Errorf("ensure default segment %q: %w", cfg.Assignment.DefaultSegment, err)
	}

	jsClient, err := jetstream.NewClient(cfg.NATS.URL, "novendx")
	if err != nil {
		return fmt.Errorf("init JetStream client: %w", err)
	}

	// Notifications
	notifiers := notifier.Multi{notifier.NewRegistry(repo)}
	if cfg.NATS.NotifyEnabled {
		notifiers = append(notifiers, notifier.NewNATSPublisher(jsClient.NatsConn(), cfg.NATS.NotifyPrefix))
	}

	// Admission
	panel := controlpanel.NewService(repo, cfg.Admission.ConfigCacheTTL)
	blocklist := cache.NewBlocklistFilter(repo, 0, cfg.Admission.BlocklistFPRate)
	if err := blocklist.Refresh(ctx); err != nil {
		logger.Log.Warn("Initial blocklist load failed, lookups fall through to the database", zap.Error(err))
	}
	contactGuard := guard.New(repo, blocklist, panel, utils.SystemClock)

	limiterOpts := []ratelimit.Option{ratelimit.WithLocation(cfg.Location())}
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = reputation.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Log.Warn("Redis unavailable, rate limiter uses age tiers only", zap.Error(err))
		} else {
			limiterOpts = append(limiterOpts, ratelimit.WithReputation(reputation.NewRedisOracle(redisClient, cfg.Redis.Timeout)))
		}
	}
	limiter := ratelimit.NewLimiter(repo, repo, limiterOpts...)

	engine := assignment.NewEngine(repo,
		assignment.WithNotifier(notifiers),
		assignment.WithCapacity(cfg.Assignment.LineCapacity),
		assignment.WithDefaultSegment(defaultSegment.ID),
	)

	gw := gateway.NewClient(cfg.Gateway, repo)
	pipeline := admission.NewPipeline(contactGuard, engine, limiter, repo,
		admission.WithSender(admission.NewSender(gw, gateway.NewRetryPolicy(cfg.Gateway), repo)),
	)

	// Inbound events
	router := ingestion.NewRouter()
	ingestion.NewHandlers(repo, pipeline, engine, notifiers).Register(router)
	consumer := ingestion.NewConsumer(jsClient, router, cfg.NATS.GatewayEvents, cfg.NATS.DLQSubject)
	if err := consumer.Start(); err != nil {
		return fmt.Errorf("start gateway events consumer: %w", err)
	}

	sweepWorker, err := assignment.NewSweepWorker(engine, cfg.WorkerPools.Sweep, logger.Log)
	if err != nil {
		return fmt.Errorf("init sweep worker: %w", err)
	}

	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)
	healthServer.AddCheck("postgres", repo)
	healthServer.AddCheck("nats", healthcheck.PingFunc(func(context.Context) error {
		if !jsClient.NatsConn().IsConnected() {
			return errors.New("nats not connected")
		}
		return nil
	}))
	if redisClient != nil {
		healthServer.AddCheck("redis", healthcheck.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}
	if cfg.Metrics.Enabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
	}
	healthServer.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return assignment.NewSweeper(sweepWorker, cfg.Assignment.SweepInterval).Run(gctx)
	})
	if cfg.Admission.BlocklistRefresh > 0 {
		g.Go(func() error {
			blocklist.Run(gctx, cfg.Admission.BlocklistRefresh)
			return nil
		})
	}

	logger.Log.Info("NoVendx line router running",
		zap.Int("port", cfg.Server.Port),
		zap.Int64("default_segment_id", defaultSegment.ID),
		zap.Bool("reputation_enabled", redisClient != nil),
	)

	<-ctx.Done()
	logger.Log.Info("Received termination signal, starting graceful shutdown", zap.Duration("timeout", shutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	consumer.Stop()
	runErr := g.Wait()
	sweepWorker.Stop()

	if err := healthServer.Stop(shutdownCtx); err != nil {
		logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
	}
	jsClient.Close()
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Log.Error("[shutdown] Failed to close Redis client", zap.Error(err))
		}
	}
	if err := repo.Close(shutdownCtx); err != nil {
		logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
	}
	return runErr
}
