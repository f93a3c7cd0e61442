// gateway runs the handle lifecycle service: session store, connection
// pool, rate limiter, breaker, and the update polling loop.
// Set SESSION_ENC_KEY; REDIS_ADDR and DATABASE_URL enable the fast and
// durable session tiers, KAFKA_BROKERS enables event emission.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tdlib-gateway/internal/audit"
	auditrepo "tdlib-gateway/internal/audit/repository"
	"tdlib-gateway/internal/breaker"
	"tdlib-gateway/internal/config"
	"tdlib-gateway/internal/cryptobox"
	"tdlib-gateway/internal/db"
	"tdlib-gateway/internal/gateway"
	"tdlib-gateway/internal/pool"
	"tdlib-gateway/internal/ratelimit"
	"tdlib-gateway/internal/session/cache"
	"tdlib-gateway/internal/session/repository"
	sessionstore "tdlib-gateway/internal/session/store"
	"tdlib-gateway/internal/tdlib"
	"tdlib-gateway/internal/telemetry"
	"tdlib-gateway/internal/telemetry/otel"
	"tdlib-gateway/internal/telemetry/producer"
	"tdlib-gateway/internal/updates"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "tdlib-gateway", false)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter("tdlib-gateway"))
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	var events telemetry.EventEmitter
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kp, err := producer.NewKafkaProducer(brokers, cfg.EventsTopic)
		if err != nil {
			log.Fatalf("kafka: %v", err)
		}
		defer kp.Close()
		events = kp
		log.Printf("events: emitting to %s via %v", cfg.EventsTopic, brokers)
	}

	key, err := cfg.SessionKey()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	box, err := cryptobox.New(key)
	if err != nil {
		log.Fatalf("cryptobox: %v", err)
	}

	var sessionCache cache.Cache
	var limiterStore ratelimit.CounterStore
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		sessionCache = rc
		limiterStore = ratelimit.NewRedisCounterStore(rc.Client())
	} else {
		log.Println("REDIS_ADDR not set; using in-process session cache and limiter state")
		sessionCache = cache.NewMemoryCache()
		limiterStore = ratelimit.NewMemoryCounterStore()
	}
	defer sessionCache.Close()

	var sessionRepo repository.Repository
	var auditLog *audit.Logger
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer sqlDB.Close()
		sessionRepo = repository.NewPostgresRepository(sqlDB)
		auditLog = audit.NewLogger(auditrepo.NewPostgresRepository(sqlDB))
	} else {
		log.Println("DATABASE_URL not set; durable session backup and audit log disabled")
		auditLog = audit.NewLogger(nil)
	}

	store := sessionstore.New(sessionCache, sessionRepo, box, cfg.SessionTTLDuration(), events)

	client := tdlib.NewLoopback()
	log.Println("tdlib: using loopback native client")

	handles := pool.New(client, client, pool.Config{
		MaxSize:       cfg.PoolMaxSize,
		MaxIdle:       cfg.PoolMaxIdleDuration(),
		SweepInterval: cfg.PoolSweepIntervalDuration(),
	}, metrics)
	handles.Start(ctx)

	brk := breaker.New(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		ResetTimeout:     cfg.BreakerResetTimeoutDuration(),
		SuccessThreshold: cfg.BreakerSuccessThreshold,
	})

	limiter := ratelimit.New(limiterStore)
	limit := ratelimit.Limit{PerSecond: cfg.RatePerSecond, Burst: cfg.RateBurst}

	svc := gateway.New(store, handles, limiter, limit, brk, client, auditLog, metrics)

	// Authorization failures from the native side revoke the session. The
	// dispatcher only reports; the decision to invalidate lives here.
	authHook := func(ctx context.Context, handleID string, code int, message string) {
		log.Printf("gateway: revoking %s after auth error %d: %s", handleID, code, message)
		if err := svc.RevokeSession(ctx, handleID); err != nil {
			log.Printf("gateway: revoke %s: %v", handleID, err)
		}
	}

	dispatcher := updates.NewDispatcher(store, auditLog, authHook, metrics)
	poller := updates.NewPoller(client, store, dispatcher, updates.PollerConfig{
		Interval:       cfg.PollIntervalDuration(),
		ReceiveTimeout: cfg.PollReceiveTimeoutDuration(),
	}, metrics)
	go poller.Run(ctx)

	// Expired durable rows are reaped on a slow cadence; the cache tier
	// expires on its own TTL.
	go func() {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n, err := store.SweepExpired(ctx); err != nil {
					log.Printf("gateway: session sweep: %v", err)
				} else if n > 0 {
					log.Printf("gateway: swept %d expired sessions", n)
				}
			}
		}
	}()

	log.Printf("gateway: running (pool %d, rate %.0f/s burst %.0f)",
		cfg.PoolMaxSize, cfg.RatePerSecond, cfg.RateBurst)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("gateway: shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	handles.Close(shutdownCtx)
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("gateway: stopped")
}
