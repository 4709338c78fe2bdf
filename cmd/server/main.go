// Server runs the permit portal backend: the HTTP API (session refresh, permit submission,
// payment webhook) and the gRPC health service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit"
	audithandler "github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/handler"
	auditrepo "github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/repository"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/config"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/db"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/db/migrate"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/health"
	permithandler "github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/handler"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/idempotency"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/payment"
	permitrepo "github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/repository"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/permit/service"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/policy/engine"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/security"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/server"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/server/interceptors"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/session"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/session/client"
	sessionhandler "github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/session/handler"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/telemetry"
	telemetryotel "github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/telemetry/otel"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/telemetry/producer"
)

const (
	serviceName     = "almaroof-permits"
	sweepInterval   = time.Minute
	healthInterval  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	meter := providers.Meter()

	var sqlDB *sql.DB
	if cfg.DatabaseURL != "" {
		if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		sqlDB, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer sqlDB.Close()
	} else {
		log.Println("DATABASE_URL not set; permits are kept in memory and security events are not persisted")
	}

	tokens, err := security.NewProviderFromPEM(cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		log.Fatalf("jwt keys: %v", err)
	}
	tokens = tokens.WithAccessTTL(cfg.AccessTTL())
	validator := security.NewTokenValidator(cfg.RefreshBufferDuration())

	// Security event logger: OPA pattern policy, fanned out to OTel logs, Kafka and Postgres.
	policy, err := engine.LoadPolicyFile(cfg.SecurityPolicyFile)
	if err != nil {
		log.Fatalf("security policy: %v", err)
	}
	detector, err := engine.NewOPADetector(ctx, policy, audit.Thresholds{
		Failures:   cfg.SecurityFailureThreshold,
		Contexts:   cfg.SecurityContextThreshold,
		RateLimits: cfg.SecurityRateLimitThreshold,
	})
	if err != nil {
		log.Fatalf("security policy: %v", err)
	}
	sinks := telemetry.Fanout{telemetryotel.NewEventEmitter(providers.LoggerProvider, meter)}
	if kafka := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic); kafka != nil {
		defer kafka.Close()
		sinks = append(sinks, kafka)
	}
	var history audithandler.History
	if sqlDB != nil {
		var events auditrepo.Repository = auditrepo.NewPostgresRepository(sqlDB)
		sinks = append(sinks, events)
		history = events
	}
	logger := audit.NewLogger(audit.Options{
		Capacity:  cfg.SecurityLogCapacity,
		Window:    cfg.SecurityWindowDuration(),
		DebugMode: cfg.DebugMode,
		Emitter:   sinks,
		Detector:  detector,
		Extractor: interceptors.AuditContext,
	})

	// Refresh coordinators, one per session.
	var refresher session.Refresher
	if cfg.RefreshURL != "" {
		refresher = client.NewHTTPRefresher(cfg.RefreshURL, &http.Client{Timeout: cfg.RefreshTimeout()}, validator)
	} else {
		log.Println("REFRESH_URL not set; refreshing by re-issuing access tokens locally")
		refresher = client.NewLocalIssuer(tokens, interceptors.GetIdentity)
	}
	sessionCfg := session.Config{
		Cooldown:            cfg.RefreshCooldownDuration(),
		MaxAttempts:         cfg.MaxRefreshAttempts,
		SuspiciousThreshold: cfg.SuspiciousActivityThreshold,
		RefreshTimeout:      cfg.RefreshTimeout(),
	}
	registry := session.NewRegistry(func(string) *session.Coordinator {
		return session.NewCoordinator(refresher, logger, validator, sessionCfg)
	}, cfg.SessionIdleTTLDuration())
	go registry.Run(ctx, sweepInterval)

	gauges, err := telemetryotel.RegisterSessionGauges(meter, func() telemetryotel.SessionStats {
		a := registry.Aggregate()
		return telemetryotel.SessionStats{
			Sessions:    int64(a.Sessions),
			Attempts:    int64(a.Attempts),
			Failures:    int64(a.Failures),
			RateLimited: int64(a.RateLimited),
			Suspicious:  int64(a.Suspicious),
		}
	})
	if err != nil {
		log.Printf("telemetry: session gauges: %v", err)
	} else {
		defer func() { _ = gauges.Unregister() }()
	}

	// Permit submission pipeline.
	var keys idempotency.Store
	var keyHealth health.KeyStoreChecker
	if cfg.ValkeyAddr != "" {
		vc, err := idempotency.NewValkeyClient(cfg.ValkeyAddr)
		if err != nil {
			log.Fatalf("idempotency: %v", err)
		}
		defer vc.Close()
		vs := idempotency.NewValkeyStore(vc)
		keys, keyHealth = vs, vs
	} else {
		ms := idempotency.NewMemoryStore()
		go ms.Run(ctx, sweepInterval)
		keys = ms
	}
	var permits permitrepo.Repository
	if sqlDB != nil {
		permits = permitrepo.NewPostgresRepository(sqlDB)
	} else {
		permits = permitrepo.NewMemoryRepository()
	}
	if cfg.PaystackSecretKey == "" {
		log.Println("PAYSTACK_SECRET_KEY not set; payment initiation and webhooks will be rejected by the provider")
	}
	paystack := payment.NewPaystackClient(cfg.PaystackSecretKey, cfg.PaystackBaseURL, cfg.PaystackCallbackURL)
	pipeline := service.NewPipeline(permits, keys, paystack, logger, service.Config{
		IdempotencyTTL:     cfg.IdempotencyTTL(),
		MaxPaymentAttempts: cfg.MaxPaymentAttempts,
		MaxPaymentRetries:  cfg.MaxPaymentRetries,
		NoRetries:          cfg.MaxPaymentRetries == 0,
		RetryDelay:         cfg.PaymentRetryDelayDuration(),
		PaymentTimeout:     cfg.PaymentTimeout(),
		PaymentWindow:      cfg.PermitPaymentWindowDuration(),
	})

	var dbHealth health.Pinger
	if sqlDB != nil {
		dbHealth = sqlDB
	}
	monitor := health.NewMonitor(dbHealth, detector, keyHealth)
	go monitor.Run(ctx, healthInterval)

	httpDeps := server.HTTPDeps{
		Tokens:      tokens,
		Structure:   validator,
		Recorder:    logger,
		Meter:       meter,
		Session:     sessionhandler.NewServer(registry, cfg.RefreshCooldownDuration()),
		Permits:     permithandler.NewServer(pipeline, permits, logger, cfg.PaystackSecretKey),
		Health:      monitor,
		CORSOrigins: cfg.CORSOrigins(),
	}
	if cfg.DebugMode {
		httpDeps.Events = audithandler.NewServer(logger, history)
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewHTTPHandler(httpDeps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Submissions may run every payment retry before responding.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http serve: %v", err)
		}
	}()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer lis.Close()
	grpcSrv := server.NewGRPCServer()
	server.RegisterServices(grpcSrv, server.Deps{Health: monitor.GRPCServer(), Reflection: cfg.DebugMode})
	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")
	monitor.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	grpcSrv.GracefulStop()
	if !telemetry.Drain(telemetry.ShutdownDrainDuration) {
		log.Printf("telemetry: in-flight emits still running after %s", telemetry.ShutdownDrainDuration)
	}
	providerCtx, providerCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer providerCancel()
	if err := providers.Shutdown(providerCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("server stopped")
}
