package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/voice-receptionist/cmd/mainconfig"
	"github.com/wolfman30/voice-receptionist/internal/api/router"
	"github.com/wolfman30/voice-receptionist/internal/commit"
	appconfig "github.com/wolfman30/voice-receptionist/internal/config"
	"github.com/wolfman30/voice-receptionist/internal/extraction"
	"github.com/wolfman30/voice-receptionist/internal/http/handlers"
	"github.com/wolfman30/voice-receptionist/internal/llm"
	"github.com/wolfman30/voice-receptionist/internal/notify"
	observemetrics "github.com/wolfman30/voice-receptionist/internal/observability/metrics"
	"github.com/wolfman30/voice-receptionist/internal/receptionist"
	"github.com/wolfman30/voice-receptionist/internal/session"
	"github.com/wolfman30/voice-receptionist/internal/tenancy"
	"github.com/wolfman30/voice-receptionist/internal/transcript"
	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting voice-receptionist API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()

	rdb := newRedisClient(cfg)
	defer func() { _ = rdb.Close() }()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	metricsHandler, metrics := setupMetrics()

	tenants := tenancy.NewResolver(tenancy.NewPGRepository(pool), tenancy.NewRedisCache(rdb, cfg.TenantCacheTTL), logger)
	sessions := session.NewPGStore(pool)
	usage := commit.NewPGUsageRepository(pool)
	retryQueue := setupRetryQueue(cfg, awsCfg, logger)

	var sender notify.EmailSender = notify.NewLogSender(logger)
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		sender = sg
	}

	committer := commit.NewCommitter(commit.NewPGResultRepository(pool), usage, logger,
		commit.WithRetryQueue(retryQueue),
		commit.WithNotifier(notify.NewResultNotifier(sender, tenants, logger)),
		commit.WithObserver(metrics),
	)

	extractorOpts := []extraction.Option{extraction.WithModelTimeout(cfg.ExtractionTimeout)}
	if client, modelID := setupLLM(ctx, cfg, awsCfg, logger); client != nil {
		extractorOpts = append(extractorOpts, extraction.WithModel(client, modelID))
	}

	svc, err := receptionist.New(receptionist.Config{
		Tenants:        tenants,
		Sessions:       sessions,
		Extractor:      extraction.New(logger, extractorOpts...),
		Machine:        session.NewMachine(cfg.SessionRetryBudget, session.ParseCorrectionPolicy(cfg.CorrectionPolicy)),
		Committer:      committer,
		Transcripts:    transcript.NewStore(rdb, cfg.SessionRetention),
		Metrics:        metrics,
		Logger:         logger,
		StorageTimeout: cfg.StorageTimeout,
	})
	if err != nil {
		logger.Error("failed to build receptionist", "error", err)
		os.Exit(1)
	}

	go receptionist.NewJanitor(sessions, cfg.SessionRetention, cfg.SessionCleanupInterval, logger).Run(ctx)
	go commit.NewUsageRetrier(retryQueue, usage, cfg.UsageRetryInterval, logger).Run(ctx)

	r := router.New(&router.Config{
		Logger: logger,
		Voice: handlers.NewVoiceHandler(handlers.VoiceHandlerConfig{
			Receptionist: svc,
			Verifier:     handlers.NewWebhookVerifier(cfg.TelnyxWebhookSecret, 5*time.Minute),
			Metrics:      metrics,
			Logger:       logger,
		}),
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"postgres": pool,
			"redis":    handlers.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		}),
		MetricsHandler:   metricsHandler,
		WebhookRateLimit: cfg.WebhookRateLimit,
		WebhookRateBurst: cfg.WebhookRateBurst,
		RequestTimeout:   10 * time.Second,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	committer.Wait()
	logger.Info("server stopped")
}

func setupMetrics() (http.Handler, *observemetrics.ReceptionistMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), observemetrics.NewReceptionistMetrics(reg)
}

func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if url == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func newRedisClient(cfg *appconfig.Config) *redis.Client {
	opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// setupRetryQueue parks failed usage updates on SQS when a queue URL is
// configured, in memory otherwise.
func setupRetryQueue(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) commit.RetryQueue {
	if cfg.UsageRetryQueueURL == "" {
		logger.Warn("USAGE_RETRY_QUEUE_URL not set; failed usage updates are retried from memory")
		return commit.NewMemoryRetryQueue()
	}
	return commit.NewSQSRetryQueue(sqs.NewFromConfig(awsCfg), cfg.UsageRetryQueueURL)
}

// setupLLM returns Bedrock with Gemini as fallback, whichever of the two
// are configured. A nil client disables model extraction.
func setupLLM(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (llm.Client, string) {
	var gemini llm.Client
	if cfg.GeminiAPIKey != "" {
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Warn("gemini client unavailable", "error", err)
		} else {
			gemini = client
		}
	}
	if cfg.BedrockModelID != "" {
		bedrock := llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg))
		if gemini == nil {
			return bedrock, cfg.BedrockModelID
		}
		return llm.NewFallbackClient(bedrock, gemini, logger), cfg.BedrockModelID
	}
	if gemini != nil {
		return gemini, cfg.GeminiModelID
	}
	logger.Warn("no LLM configured; extraction runs deterministic and fuzzy strategies only")
	return nil, ""
}
