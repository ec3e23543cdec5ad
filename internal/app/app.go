package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/streamshop/internal/domain/cart"
	"github.com/xenking/streamshop/internal/domain/coupon"
	"github.com/xenking/streamshop/internal/domain/order"
	"github.com/xenking/streamshop/internal/domain/payment"
	"github.com/xenking/streamshop/internal/gateway/mercadopago"
	"github.com/xenking/streamshop/internal/handler"
	"github.com/xenking/streamshop/internal/storage/mongo"
	"github.com/xenking/streamshop/internal/storage/postgres"
	rediscache "github.com/xenking/streamshop/internal/storage/redis"
	"github.com/xenking/streamshop/pkg/health"
	"github.com/xenking/streamshop/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("cart_store", cfg.Cart.Store))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.Migrate(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Register(health.Readiness, "postgres", pool.Ping, health.WithTimeout(5*time.Second))
	healthSvc.Register(health.Liveness, "goroutines", health.GoroutineCountCheck(10000))
	healthSvc.Register(health.Liveness, "gc_pause", health.GCPauseCheck(time.Second))

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		healthSvc.Register(health.Readiness, "redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}, health.WithTimeout(2*time.Second))
	}

	carts, closeCarts, err := openCarts(ctx, lg, cfg, pool, rdb, healthSvc)
	if err != nil {
		return err
	}
	// Deferred calls run after the drain below completes.
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := closeCarts(closeCtx); err != nil {
			lg.Warn("Close cart store", zap.Error(err))
		}
	}()

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)

	// Domain services.
	couponValidator := coupon.NewRepoValidator(couponRepo)
	orderService := order.NewService(productRepo, couponValidator, orderRepo)

	var gateway payment.Gateway
	if cfg.MercadoPago.AccessToken != "" {
		gateway = mercadopago.New(mercadopago.Config{
			AccessToken:     cfg.MercadoPago.AccessToken,
			BaseURL:         cfg.MercadoPago.BaseURL,
			Timeout:         cfg.MercadoPago.Timeout,
			NotificationURL: cfg.MercadoPago.NotificationURL,
		}, lg)
	} else {
		lg.Warn("No processor access token configured, payments run in mock mode")
	}
	paymentService, err := payment.NewService(orderService, gateway, payment.ServiceConfig{
		PublicKey:      cfg.MercadoPago.PublicKey,
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create payment service")
	}

	// HTTP handlers.
	h := handler.NewHandler(
		handler.HandlerConfig{
			ImageBaseURL:  cfg.ImageBaseURL,
			WebhookSecret: cfg.MercadoPago.WebhookSecret,
		},
		productRepo,
		carts,
		couponValidator,
		paymentService,
	)

	router := chi.NewRouter()
	router.Use(
		httpmiddleware.Instrument("streamshop-api", m),
		httpmiddleware.LogRequests(),
	)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Route("/api", func(r chi.Router) {
		r.Get("/health", healthSvc.StatusEndpoint)
		h.Routes(r)
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Payment processing waits on the processor.
		WriteTimeout:   cfg.MercadoPago.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Idempotency-Key", httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Limiter: newLimiter(ctx, cfg, rdb),
				Limit:   cfg.RateLimit.Max,
			}),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr), zap.Bool("mock_payments", paymentService.MockMode()))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// openCarts builds the configured cart store, fronted by the Redis cache
// when Redis is available. The returned close func releases the store's own
// connections and must be called only after in-flight requests are drained.
func openCarts(
	ctx context.Context,
	lg *zap.Logger,
	cfg *Config,
	pool *pgxpool.Pool,
	rdb *redis.Client,
	healthSvc *health.Health,
) (cart.Repository, func(context.Context) error, error) {
	var carts cart.Repository = postgres.NewCartRepository(pool)
	closeFn := func(context.Context) error { return nil }

	if cfg.Cart.Store == "mongo" {
		db, err := mongo.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect mongo")
		}
		closeFn = db.Client().Disconnect

		repo := mongo.NewCartRepository(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = closeFn(context.WithoutCancel(ctx))
			return nil, nil, errors.Wrap(err, "ensure cart indexes")
		}
		healthSvc.Register(health.Readiness, "mongo", func(ctx context.Context) error {
			return db.Client().Ping(ctx, nil)
		}, health.WithTimeout(2*time.Second))
		carts = repo
	}

	if rdb != nil {
		carts = rediscache.NewCartCache(carts, rdb, rediscache.Options{
			TTL:    cfg.Redis.CartTTL,
			Logger: lg,
		})
	}
	return carts, closeFn, nil
}

func newLimiter(ctx context.Context, cfg *Config, rdb *redis.Client) httpmiddleware.Limiter {
	if rdb != nil && cfg.Redis.RateKeys {
		return httpmiddleware.NewRedisLimiter(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
	}
	l := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
	go l.SweepEvery(ctx, 2*cfg.RateLimit.Window)
	return l
}
