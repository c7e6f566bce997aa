package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/bedrock-gateway/config"
	"github.com/vnmchuo/bedrock-gateway/internal/audit"
	"github.com/vnmchuo/bedrock-gateway/internal/auth"
	"github.com/vnmchuo/bedrock-gateway/internal/awsclient"
	"github.com/vnmchuo/bedrock-gateway/internal/chat"
	"github.com/vnmchuo/bedrock-gateway/internal/knowledge"
	"github.com/vnmchuo/bedrock-gateway/internal/provider/bedrock"
	"github.com/vnmchuo/bedrock-gateway/internal/proxy"
	"github.com/vnmchuo/bedrock-gateway/internal/seeder"
	"github.com/vnmchuo/bedrock-gateway/internal/telemetry"
	"github.com/vnmchuo/bedrock-gateway/internal/upstream"
	"github.com/vnmchuo/bedrock-gateway/pkg/ratelimit"
)

const serviceName = "bedrock-gateway"

var version = "dev"

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	if err := config.SetupLogging(cfg); err != nil {
		logrus.Fatalf("failed to configure logging: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(telemetry.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
		ExporterType:   cfg.OTELExporterType,
		Endpoint:       cfg.OTELExporterEndpoint,
	})
	if err != nil {
		logrus.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	ctx := context.Background()

	// 3. Stores: postgres when configured, static keys otherwise
	var (
		authStore  auth.Store
		auditStore audit.Store = audit.NopStore{}
	)
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			logrus.Fatalf("failed to connect postgres: %v", err)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			logrus.Fatalf("failed to ping postgres: %v", err)
		}
		logrus.Info("PostgreSQL connected")

		authStore = auth.NewPostgresStore(pool)
		auditStore = audit.NewPostgresStore(pool)
	} else {
		authStore = auth.NewStaticStore(cfg.APIKeys)
		logrus.WithField("keys", len(cfg.APIKeys)).Info("using static API keys")
	}

	// 4. Redis: auth cache and rate limiting
	var (
		rdb     *redis.Client
		limiter *ratelimit.Limiter
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logrus.Fatalf("failed to ping redis: %v", err)
		}
		logrus.Info("Redis connected")
		limiter = ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitTPM)
	} else {
		logrus.Warn("REDIS_ADDR not set, rate limiting disabled")
	}

	authMiddleware := auth.NewMiddleware(authStore, rdb)

	// 5. Seed API key if RUN_SEED=true
	if cfg.RunSeed {
		if err := seeder.SeedAPIKey(ctx, authStore, cfg.SeedAPIKey, cfg.DefaultRateLimitTPM); err != nil {
			logrus.Fatalf("failed to seed api key: %v", err)
		}
	}

	// 6. Vendor clients, built on first use and rebuilt by /v1/chat/reset
	runtimeHandle := awsclient.NewHandle("bedrock-runtime", cfg.Region, bedrock.NewRuntimeFactory())
	clients := []proxy.Rebuilder{runtimeHandle}

	guardCfg := upstream.DefaultConfig()
	guardCfg.MaxAttempts = cfg.UpstreamMaxAttempts
	guardCfg.BreakerFailures = cfg.BreakerFailures
	guarded := upstream.NewGuard(bedrock.New(runtimeHandle, cfg.ModelID), guardCfg)

	// 7. Chat service
	tracer := otel.GetTracerProvider().Tracer(serviceName)
	var opts []chat.Option
	if cfg.InvokeKB {
		agent := awsclient.NewHandle("bedrock-agent-runtime", cfg.KBRegion, knowledge.NewAgentFactory())
		clients = append(clients, agent)
		opts = append(opts, chat.WithAugmenter(
			knowledge.NewRetriever(agent, cfg.KnowledgeBaseID, cfg.KBNumberOfResults),
		))
		logrus.WithField("knowledge_base_id", cfg.KnowledgeBaseID).Info("knowledge base augmentation enabled")
	}
	service := chat.NewService(guarded, tracer, opts...)

	// 8. HTTP
	handler := proxy.NewHandler(service, auditStore, limiter, tracer, cfg.LanguageModelName, clients...)
	router := proxy.NewRouter(handler, authMiddleware, cfg.AllowOrigin)

	// 9. Graceful shutdown
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// no WriteTimeout: long generations stream for minutes
		IdleTimeout: 120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logrus.WithFields(logrus.Fields{
			"port":   cfg.Port,
			"model":  cfg.ModelID,
			"region": cfg.Region,
		}).Info("Bedrock gateway starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	logrus.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("forced shutdown: %v", err)
		return
	}
	logrus.Info("Server stopped")
}
