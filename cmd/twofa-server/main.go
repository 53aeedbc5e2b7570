// Command twofa-server runs the twofa HTTP API.
//
// Configuration comes from the environment, optionally seeded from a .env
// file (see Config). Without DATABASE_URL users live in memory, and without
// SMTP_HOST mail is written to the log.
//
//	TRUST_KEY_HEX=$(openssl rand -hex 32) SESSION_SECRET=$(openssl rand -hex 32) \
//	    go run ./cmd/twofa-server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/MrEthical07/twofa/audit/kafkasink"
	"github.com/MrEthical07/twofa/httpapi"
	"github.com/MrEthical07/twofa/mail"
	"github.com/MrEthical07/twofa/metrics/export/prometheus"
	"github.com/MrEthical07/twofa/store/memory"
	"github.com/MrEthical07/twofa/store/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	envFile := flag.String("env", ".env", "optional env file")
	flag.Parse()

	cfg, err := loadConfig(*envFile)
	if err != nil {
		slog.Error("configuration", "err", err)
		os.Exit(1)
	}
	logger := cfg.logger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	mailer, err := openMailer(cfg, logger)
	if err != nil {
		return err
	}

	builder := twofa.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithMailer(mailer).
		WithLogger(logger)
	if engineCfg.Audit.Enabled {
		sink, closeSink := openAuditSink(cfg, logger)
		defer closeSink()
		builder = builder.WithAuditSink(sink)
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	for _, w := range engine.SecurityReport().Warnings {
		logger.Warn("2fa posture", "warning", w)
	}

	registry := prom.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewCollector(engine),
	)

	sessions, err := httpapi.NewSessions([]byte(cfg.SessionSecret), cfg.SessionTTL)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Options{
			Engine:         engine,
			Sessions:       sessions,
			Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			Logger:         logger,
			TrustProxy:     cfg.TrustProxy,
			SecureCookies:  cfg.SecureCookies,
			AllowedOrigins: cfg.CORSOrigins,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (twofa.CredentialStore, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, users are kept in memory")
		return memory.New(), func() {}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := postgres.New(pool, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

// openAuditSink prefers Kafka when brokers are configured. The returned func
// closes the writer after the engine has drained its queue.
func openAuditSink(cfg Config, logger *slog.Logger) (twofa.AuditSink, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		return twofa.NewSlogSink(logger.With("component", "audit")), func() {}
	}
	writer := kafkasink.NewWriter(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
	logger.Info("audit events published to kafka", "topic", cfg.KafkaAuditTopic, "brokers", cfg.KafkaBrokers)
	return kafkasink.New(writer, logger), func() {
		if err := writer.Close(); err != nil {
			logger.Warn("kafka writer close", "err", err)
		}
	}
}

func openMailer(cfg Config, logger *slog.Logger) (twofa.Mailer, error) {
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set, mail is logged instead of sent")
		return mail.NewLogSender(logger), nil
	}
	smtpCfg, err := cfg.smtpConfig()
	if err != nil {
		return nil, err
	}
	return mail.NewSMTPSender(smtpCfg, logger)
}
