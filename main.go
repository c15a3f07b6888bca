package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"promptforge/config"
	"promptforge/database"
	accountstore "promptforge/internal/accounts"
	adminapi "promptforge/internal/api/admin"
	balanceapi "promptforge/internal/api/balance"
	"promptforge/internal/api/billing"
	"promptforge/internal/api/generations"
	"promptforge/internal/api/plans"
	stripewebhooks "promptforge/internal/api/stripewebhook"
	routes "promptforge/internal/app/http"
	"promptforge/internal/app/http/middleware"
	"promptforge/internal/infra/generator"
	"promptforge/internal/infra/logger"
	"promptforge/internal/infra/metrics"
	infrastripe "promptforge/internal/infra/stripe"
	"promptforge/internal/ledger"
	"promptforge/internal/migration"
	"promptforge/internal/orchestrator"
	"promptforge/internal/reconcile"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	config.LoadEnv()

	zlog, err := logger.New(logger.Config{
		ServiceName: "promptforge",
		Environment: config.APP_ENV,
		Level:       config.LOG_LEVEL,
		Format:      config.LOG_FORMAT,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := run(zlog); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func run(zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(config.DB_URL, zlog)
	if err != nil {
		return err
	}

	catalog, err := config.LoadCatalog()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	writer := ledger.NewWriter(db, zlog, ledger.WithMetrics(m))
	store := accountstore.NewStore(db)
	stripeClient := infrastripe.NewClient(config.STRIPE_SECRET_KEY, config.APP_ENV)
	if config.STRIPE_SECRET_KEY == "" {
		zlog.Warn("STRIPE_SECRET_KEY not set, checkout and subscription lookups are disabled")
	}

	inflight, closeInFlight := newInFlight(ctx, zlog)
	defer closeInFlight()

	gen := generator.NewClient(&http.Client{Timeout: config.SLOT_TIMEOUT}, config.GENERATOR_BASE_URL, config.GENERATOR_API_KEY, config.GENERATOR_MODEL)
	orch := orchestrator.New(db, writer, gen, inflight, zlog,
		orchestrator.WithBatchSize(config.BATCH_SIZE),
		orchestrator.WithBatchDelay(config.BATCH_DELAY),
		orchestrator.WithSlotTimeout(config.SLOT_TIMEOUT),
		orchestrator.WithMetrics(m),
	)
	rec := reconcile.New(db, writer, store, stripeClient, catalog, zlog, reconcile.WithMetrics(m))
	job := migration.NewJob(writer, store, catalog, zlog, m)

	if config.APP_ENV == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinMiddleware(zlog))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{config.CORS_ORIGIN},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Request-Id"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.ErrorHandlingMiddleware())

	routes.RegisterRoutes(r, routes.Handlers{
		Webhook:     stripewebhooks.NewHandler(rec, config.STRIPE_WEBHOOK_SECRET, zlog),
		Generations: generations.NewHandler(orch, writer, config.SIGNUP_GRANT, zlog),
		Balance:     balanceapi.NewHandler(writer, config.SIGNUP_GRANT),
		Billing: billing.NewHandler(db, stripeClient, store, writer, catalog,
			billing.Config{AppURL: config.APP_URL, SignupGrant: config.SIGNUP_GRANT}, zlog),
		Plans: plans.NewHandler(catalog),
		Admin: adminapi.NewHandler(db, job, zlog),
	}, routes.Options{
		JWTSecret:   config.JWT_SECRET,
		AdminSecret: config.ADMIN_MIGRATION_SECRET,
		Gatherer:    reg,
	})

	srv := &http.Server{
		Addr:              ":" + config.PORT,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.SLOT_TIMEOUT+5*time.Second)
		defer cancel()
		zlog.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newInFlight uses redis when REDIS_URL is set so duplicate detection spans
// replicas, and an in-process set otherwise.
func newInFlight(ctx context.Context, zlog *zap.Logger) (orchestrator.InFlight, func()) {
	if config.REDIS_URL == "" {
		return orchestrator.NewMemoryInFlight(), func() {}
	}
	opts, err := redis.ParseURL(config.REDIS_URL)
	if err != nil {
		zlog.Warn("invalid REDIS_URL, using in-process duplicate detection", zap.Error(err))
		return orchestrator.NewMemoryInFlight(), func() {}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		zlog.Warn("redis unreachable, using in-process duplicate detection", zap.Error(err))
		_ = client.Close()
		return orchestrator.NewMemoryInFlight(), func() {}
	}
	return orchestrator.NewRedisInFlight(client, config.SLOT_TIMEOUT+30*time.Second), func() { _ = client.Close() }
}
