package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/jmerrifield20/minichain/internal/api/handler"
	"github.com/jmerrifield20/minichain/internal/auth"
	"github.com/jmerrifield20/minichain/internal/service"
	"github.com/jmerrifield20/minichain/internal/store"
	"github.com/jmerrifield20/minichain/internal/webhooks"
)

// healthService is the name reported by the gRPC health server.
const healthService = "minichain.Ledger"

func main() {
	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(viper.GetBool("log.development"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("ledgerd exited with error", zap.Error(err))
	}
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadConfig() error {
	viper.SetConfigName("ledgerd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.grpc_port", 9090)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("server.max_transaction_bytes", service.DefaultMaxTransactionBytes)
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.max_conns", 10)
	viper.SetDefault("auth.admin_secret_hash", "")
	viper.SetDefault("auth.signing_key", "")
	viper.SetDefault("auth.token_ttl", time.Hour)
	viper.SetDefault("log.development", false)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func run(logger *zap.Logger) error {
	if viper.ConfigFileUsed() == "" {
		logger.Warn("no config file found, using defaults and env vars")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Storage ──────────────────────────────────────────────────────────────
	var (
		st    store.Store
		hooks webhooks.Repository
		ping  func(context.Context) error
	)
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		pool, err := openPool(ctx, dbURL, int32(viper.GetInt("database.max_conns")))
		if err != nil {
			return err
		}
		defer pool.Close()
		logger.Info("connected to postgres")

		version, err := store.Migrate(pool, logger)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema ready", zap.Uint("version", version))

		pg := store.NewPostgresStore(pool, logger)
		st, ping = pg, pg.Ping
		hooks = webhooks.NewPostgresRepository(pool)
	} else {
		logger.Warn("database.url not set, chains are kept in memory only")
		st = store.NewMemoryStore()
		hooks = webhooks.NewMemoryRepository()
	}

	// ── Webhooks ─────────────────────────────────────────────────────────────
	hookSvc := webhooks.NewService(hooks, logger)
	hookSvc.SetMetricsRecorder(handler.RecordWebhookDelivery)

	// ── Chain service ────────────────────────────────────────────────────────
	svc := service.NewChainService(st, logger)
	svc.SetMetrics(handler.PrometheusMetrics{})
	svc.SetNotifier(hookSvc)
	svc.SetMaxTransactionBytes(viper.GetInt("server.max_transaction_bytes"))

	results, err := svc.VerifyAll(ctx)
	if err != nil {
		return fmt.Errorf("startup verification: %w", err)
	}
	invalid := 0
	for _, r := range results {
		if !r.Valid {
			invalid++
		}
	}
	logger.Info("stored chains verified",
		zap.Int("chains", len(results)),
		zap.Int("invalid", invalid),
	)

	// ── Auth ─────────────────────────────────────────────────────────────────
	tokens, secrets, err := setupAuth(logger)
	if err != nil {
		return err
	}

	// ── HTTP ─────────────────────────────────────────────────────────────────
	router := newRouter(ctx, logger, svc, hookSvc, tokens, secrets)
	httpPort := viper.GetInt("server.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── gRPC health ──────────────────────────────────────────────────────────
	grpcPort := viper.GetInt("server.grpc_port")
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		return fmt.Errorf("gRPC listen on :%d: %w", grpcPort, err)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	healthSvc := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSvc)
	healthSvc.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("ledgerd HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("ledgerd gRPC health listening", zap.Int("port", grpcPort))
		if err := grpcServer.Serve(grpcLis); err != nil {
			return fmt.Errorf("gRPC serve: %w", err)
		}
		return nil
	})

	if ping != nil {
		g.Go(func() error {
			watchDatabase(gctx, logger, healthSvc, ping)
			return nil
		})
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down ledgerd...")
		healthSvc.Shutdown()

		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			logger.Error("HTTP shutdown error", zap.Error(err))
		}
		grpcServer.GracefulStop()
		hookSvc.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("ledgerd stopped")
	return nil
}

func openPool(ctx context.Context, dbURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse database.url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// setupAuth returns a nil issuer when no admin secret is configured, which
// leaves write routes open.
func setupAuth(logger *zap.Logger) (*auth.TokenIssuer, *auth.SecretChecker, error) {
	hash := viper.GetString("auth.admin_secret_hash")
	if hash == "" {
		logger.Warn("auth.admin_secret_hash not set, write routes are unauthenticated; do not use in production")
		return nil, nil, nil
	}
	secrets, err := auth.NewSecretChecker(hash)
	if err != nil {
		return nil, nil, fmt.Errorf("auth.admin_secret_hash: %w", err)
	}

	key := []byte(viper.GetString("auth.signing_key"))
	if len(key) == 0 {
		if key, err = auth.RandomKey(); err != nil {
			return nil, nil, fmt.Errorf("generate signing key: %w", err)
		}
		logger.Warn("auth.signing_key not set, tokens will not survive a restart")
	}
	tokens, err := auth.NewTokenIssuer(key, "ledgerd", viper.GetDuration("auth.token_ttl"))
	if err != nil {
		return nil, nil, fmt.Errorf("auth.signing_key: %w", err)
	}
	return tokens, secrets, nil
}

func newRouter(ctx context.Context, logger *zap.Logger, svc *service.ChainService, hooks *webhooks.Service, tokens *auth.TokenIssuer, secrets *auth.SecretChecker) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", handler.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", handler.RequestIDHeader},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	})

	router.Use(handler.BodyLimit(handler.MaxBodyBytes(viper.GetInt("server.max_transaction_bytes"))))

	router.Use(handler.RequestID())
	if rps := viper.GetInt("server.rate_limit_rps"); rps > 0 {
		router.Use(handler.RateLimiter(ctx, rps, rps*2))
	}
	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	handler.NewChainHandler(svc, tokens, logger).Register(v1)
	webhooks.NewHandler(hooks, tokens, logger).Register(v1)
	if tokens != nil {
		handler.NewAuthHandler(tokens, secrets, logger).Register(v1)
	}
	return router
}

// watchDatabase flips the gRPC health status when the database stops
// answering pings.
func watchDatabase(ctx context.Context, logger *zap.Logger, hs *health.Server, ping func(context.Context) error) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	current := grpc_health_v1.HealthCheckResponse_SERVING
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := ping(pctx)
		cancel()

		next := grpc_health_v1.HealthCheckResponse_SERVING
		if err != nil {
			next = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
		if next != current {
			logger.Warn("health status changed", zap.String("status", next.String()), zap.Error(err))
			hs.SetServingStatus(healthService, next)
			current = next
		}
	}
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", handler.RequestIDFromCtx(c)),
		)
	}
}

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		logger.Debug("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
