package bootstrap

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
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/adapters/events"
	gatewayadapter "github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/adapters/gateway"
	grpcadapter "github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/adapters/grpc"
	httpadapter "github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/core-platform/M04-account-gating-service/internal/application"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	outbox     *eventadapter.OutboxWorker
	sweep      *eventadapter.SweepWorker
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping m04 account gating service", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort)

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := pool.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	repos := postgres.NewRepositories(pool)
	tokenSigner, err := security.NewJWTSigner(cfg.JWTKeyID, cfg.JWTPrivateKeyPEM, cfg.JWTPublicKeyPEM)
	if err != nil {
		if !cfg.AllowEphemeralJWT {
			_ = sqlDB.Close()
			_ = redisClient.Close()
			return nil, fmt.Errorf("init jwt signer: %w", err)
		}
		logger.Warn("using ephemeral JWT keys for local/dev runtime")
		tokenSigner, err = security.NewEphemeralJWTSigner(cfg.JWTKeyID)
		if err != nil {
			_ = sqlDB.Close()
			_ = redisClient.Close()
			return nil, fmt.Errorf("init ephemeral jwt signer: %w", err)
		}
	}

	gatewayClient, err := gatewayadapter.NewClient(gatewayadapter.Config{
		BaseURL:    cfg.GatewayBaseURL,
		APIKey:     cfg.GatewayAPIKey,
		HTTPClient: &http.Client{Timeout: cfg.GatewayHTTPTimeout},
	})
	if err != nil {
		_ = sqlDB.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init payment gateway client: %w", err)
	}

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			DefaultRole:             cfg.DefaultRole,
			TokenTTL:                cfg.TokenTTL,
			SessionTTL:              cfg.SessionTTL,
			OTPTTL:                  cfg.OTPTTL,
			OTPDigits:               cfg.OTPDigits,
			ReferralCodeLength:      cfg.ReferralCodeLength,
			ReferralCodeMaxAttempts: cfg.ReferralCodeMaxAttempts,
			SuspensionThreshold:     cfg.SuspensionThreshold,
			DailyTargetSeconds:      cfg.DailyTargetSeconds,
			KYCFeeCents:             cfg.KYCFeeCents,
			ReactivationFeeCents:    cfg.ReactivationFeeCents,
			Currency:                cfg.Currency,
			GatewayVerifyTimeout:    cfg.GatewayVerifyTimeout,
			SweepBatchSize:          cfg.SweepBatchSize,
			LoginRateLimit:          application.RateLimit{Threshold: cfg.LoginRateLimitThreshold, Window: cfg.RateLimitWindow},
			SignupRateLimit:         application.RateLimit{Threshold: cfg.SignupRateLimitThreshold, Window: cfg.RateLimitWindow},
			VerifyOTPRateLimit:      application.RateLimit{Threshold: cfg.VerifyOTPRateLimitThreshold, Window: cfg.RateLimitWindow},
			ResendOTPRateLimit:      application.RateLimit{Threshold: cfg.ResendOTPRateLimitThreshold, Window: cfg.ResendOTPRateLimitWindow},
		},
		Accounts:      repos.Accounts,
		Sessions:      repos.Sessions,
		LoginAttempts: repos.LoginAttempts,
		WatchTime:     repos.WatchTime,
		Orders:        repos.Orders,
		Rates:         cacheadapter.NewRedisRateLimitStore(redisClient),
		Gateway:       gatewayClient,
		Hasher:        security.NewBcryptHasher(cfg.BcryptCost),
		TokenSigner:   tokenSigner,
	})

	handler := httpadapter.NewHandler(svc, cfg.CookieSecure)
	router := httpadapter.NewRouter(handler)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewGatingInternalServer(svc))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		_ = sqlDB.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	outbox := eventadapter.NewOutboxWorker(
		logger,
		repos.Outbox,
		eventadapter.NewLoggingPublisher(logger),
		cfg.OutboxPollInterval,
		cfg.OutboxBatchSize,
		cfg.OutboxClaimTTL,
		cfg.OutboxMaxRetries,
	)
	sweep := eventadapter.NewSweepWorker(logger, svc, cfg.SweepInterval)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		outbox:     outbox,
		sweep:      sweep,
		cleanupFn: func(ctx context.Context) {
			_ = redisClient.Close()
			_ = sqlDB.Close()
		},
	}, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.logger.Error("server failure", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return nil
}

// RunWorker runs the outbox publisher and the daily sweep loop together.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("outbox worker started")
		errCh <- r.outbox.Run(ctx)
	}()
	go func() {
		r.logger.Info("sweep worker started")
		errCh <- r.sweep.Run(ctx)
	}()

	err := <-errCh
	stop()
	<-errCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
