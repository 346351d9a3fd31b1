// Server runs the AgriConnect auth API over HTTP, with an optional gRPC health listener.
package main

import (
	"context"
	"crypto"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/akshithakatte/AgriConnect/internal/audit"
	auditrepo "github.com/akshithakatte/AgriConnect/internal/audit/repository"
	"github.com/akshithakatte/AgriConnect/internal/config"
	"github.com/akshithakatte/AgriConnect/internal/db"
	"github.com/akshithakatte/AgriConnect/internal/devotp"
	devotphandler "github.com/akshithakatte/AgriConnect/internal/devotp/handler"
	healthhandler "github.com/akshithakatte/AgriConnect/internal/health/handler"
	"github.com/akshithakatte/AgriConnect/internal/identity/service"
	"github.com/akshithakatte/AgriConnect/internal/logging"
	otprepo "github.com/akshithakatte/AgriConnect/internal/otp/repository"
	"github.com/akshithakatte/AgriConnect/internal/otp/sms"
	"github.com/akshithakatte/AgriConnect/internal/policy/engine"
	"github.com/akshithakatte/AgriConnect/internal/ratelimit"
	"github.com/akshithakatte/AgriConnect/internal/security"
	"github.com/akshithakatte/AgriConnect/internal/server"
	"github.com/akshithakatte/AgriConnect/internal/server/middleware"
	sessionrepo "github.com/akshithakatte/AgriConnect/internal/session/repository"
	"github.com/akshithakatte/AgriConnect/internal/telemetry"
	telemetryotel "github.com/akshithakatte/AgriConnect/internal/telemetry/otel"
	"github.com/akshithakatte/AgriConnect/internal/telemetry/producer"
	userrepo "github.com/akshithakatte/AgriConnect/internal/user/repository"
)

const (
	serviceName     = "agriconnect-auth"
	shutdownTimeout = 15 * time.Second
	// shutdownDrain lets asynchronous telemetry emits finish before the providers close.
	shutdownDrain = 2 * time.Second
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

type stores struct {
	users      service.UserRepo
	sessions   sessionrepo.Repository
	challenges service.ChallengeRepo
	audit      auditrepo.Repository
	limiter    ratelimit.Limiter
	db         *sql.DB
	redis      redis.UniversalClient
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn("otel shutdown", zap.Error(err))
		}
	}()
	metrics, err := telemetryotel.NewAuthMetrics(otel.Meter(serviceName))
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	events := telemetry.MultiEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if brokers := cfg.TelemetryKafkaBrokersList(); len(brokers) > 0 {
		kp := producer.NewKafkaProducer(brokers, cfg.TelemetryKafkaTopic)
		defer func() { _ = kp.Close() }()
		events = append(events, kp)
		log.Info("auth events are written to kafka", zap.Strings("brokers", brokers), zap.String("topic", cfg.TelemetryKafkaTopic))
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}
	if st.redis != nil {
		defer st.redis.Close()
	}

	tokens, err := tokenProvider(cfg, log)
	if err != nil {
		return err
	}

	policy, err := loginPolicy(ctx, cfg)
	if err != nil {
		return err
	}

	var sender sms.Sender
	if cfg.SMSLocalAPIKey != "" {
		sender = sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
	} else if !cfg.OTPReturnToClient {
		log.Warn("SMS_LOCAL_API_KEY is not set and dev OTP mode is off; send-otp will fail")
	}

	var devStore *devotp.MemoryStore
	if cfg.OTPReturnToClient {
		devStore = devotp.NewMemoryStore()
		log.Warn("dev OTP mode is on: codes are returned to clients and not sent by SMS")
	}

	auditLogger := audit.NewLogger(st.audit, middleware.ClientIPFromContext, log)
	deps := service.Deps{
		Users:      st.users,
		Sessions:   st.sessions,
		Challenges: st.challenges,
		Hasher:     security.NewHasher(cfg.BcryptCost),
		Tokens:     tokens,
		Limiter:    st.limiter,
		Policy:     policy,
		SMS:        sender,
		Audit:      auditLogger,
		Events:     events,
		Metrics:    metrics,
		Log:        log.Named("auth"),
	}
	if devStore != nil {
		deps.DevStore = devStore
	}
	svc := service.NewAuthService(deps, service.Config{
		OTPTTL:       cfg.OTPLifetime(),
		MaxAttempts:  cfg.OTPMaxAttempts,
		SendPerHour:  cfg.RateLimitSendPerHour,
		VerifyPer10m: cfg.RateLimitVerifyPer10m,
		DevOTPMode:   cfg.OTPReturnToClient,
	})

	var dbPinger, redisPinger healthhandler.Pinger
	if st.db != nil {
		dbPinger = st.db
	}
	if st.redis != nil {
		redisPinger = healthhandler.RedisPinger(st.redis)
	}
	health := healthhandler.NewHandler(version, dbPinger, redisPinger, policy)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	routerDeps := server.Deps{
		Auth:           svc,
		Tokens:         tokens,
		Sessions:       st.sessions,
		Health:         health,
		AuditRepo:      st.audit,
		AuditLogger:    auditLogger,
		Events:         events,
		Log:            log.Named("http"),
		CORSOrigins:    cfg.CORSOrigins(),
		TrustedProxies: cfg.TrustedProxyList(),
	}
	if devStore != nil && !cfg.IsProduction() {
		routerDeps.DevOTP = devotphandler.NewHandler(devStore)
	}
	router, err := server.NewRouter(routerDeps)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		if grpcLis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("version", version))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcStop func()
	if grpcLis != nil {
		lis := grpcLis
		gs := server.NewGRPCServer(health)
		grpcStop = gs.GracefulStop
		go func() {
			log.Info("grpc health server listening", zap.String("addr", cfg.GRPCAddr))
			if err := gs.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if grpcStop != nil {
		grpcStop()
	}
	time.Sleep(shutdownDrain)
	log.Info("server stopped")
	return runErr
}

// openStores picks Postgres and Redis when configured and falls back to in-memory stores otherwise.
func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	st := &stores{}
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		st.db = conn
		st.users = userrepo.NewPostgresRepository(conn)
		st.sessions = sessionrepo.NewPostgresRepository(conn)
		st.audit = auditrepo.NewPostgresRepository(conn)
	} else {
		if cfg.IsProduction() {
			return nil, errors.New("DATABASE_URL is required when APP_ENV=production")
		}
		log.Warn("DATABASE_URL is not set; users, sessions and audit logs are kept in memory")
		st.users = userrepo.NewMemoryRepository()
		st.sessions = sessionrepo.NewMemoryRepository()
		st.audit = auditrepo.NewMemoryRepository()
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			if st.db != nil {
				_ = st.db.Close()
			}
			return nil, fmt.Errorf("redis: %w", err)
		}
		st.redis = client
		st.challenges = otprepo.NewRedisRepository(client)
		st.limiter = ratelimit.NewRedisLimiter(client, "ratelimit:")
	} else {
		log.Warn("REDIS_ADDR is not set; OTP challenges and rate limits are kept in memory")
		st.challenges = otprepo.NewMemoryRepository()
		st.limiter = ratelimit.NewMemoryLimiter()
	}
	return st, nil
}

// tokenProvider loads the configured signing key pair. Outside production a missing pair gets an ephemeral key.
func tokenProvider(cfg *config.Config, log *zap.Logger) (*security.TokenProvider, error) {
	var (
		priv crypto.Signer
		pub  crypto.PublicKey
		err  error
	)
	switch {
	case cfg.JWTPrivateKey != "":
		if priv, pub, err = security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey); err != nil {
			return nil, fmt.Errorf("jwt: %w", err)
		}
	case cfg.IsProduction():
		return nil, errors.New("JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required when APP_ENV=production")
	default:
		log.Warn("no JWT key pair configured; using an ephemeral key, tokens will not survive a restart")
		if priv, pub, err = security.GenerateEphemeralKey(); err != nil {
			return nil, err
		}
	}
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL()), nil
}

func loginPolicy(ctx context.Context, cfg *config.Config) (*engine.OPAEvaluator, error) {
	ev, err := engine.NewOPAEvaluatorFromFile(ctx, cfg.LoginPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("login policy: %w", err)
	}
	return ev, nil
}
