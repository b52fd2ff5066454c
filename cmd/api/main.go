package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/teletherapy-platform/cmd/mainconfig"
	"github.com/wolfman30/teletherapy-platform/internal/api/router"
	"github.com/wolfman30/teletherapy-platform/internal/app/bootstrap"
	"github.com/wolfman30/teletherapy-platform/internal/archive"
	"github.com/wolfman30/teletherapy-platform/internal/compliance"
	appconfig "github.com/wolfman30/teletherapy-platform/internal/config"
	"github.com/wolfman30/teletherapy-platform/internal/events"
	httpmiddleware "github.com/wolfman30/teletherapy-platform/internal/http/middleware"
	"github.com/wolfman30/teletherapy-platform/internal/notes"
	"github.com/wolfman30/teletherapy-platform/internal/notify"
	"github.com/wolfman30/teletherapy-platform/internal/observability/metrics"
	"github.com/wolfman30/teletherapy-platform/internal/payments"
	"github.com/wolfman30/teletherapy-platform/internal/reminders"
	"github.com/wolfman30/teletherapy-platform/internal/sessions"
	"github.com/wolfman30/teletherapy-platform/internal/video"
	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.NewWithOptions(logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "teletherapy-api",
	})
	logger.Info("starting teletherapy API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	metricsHandler, sessionMetrics, outboxMetrics := setupMetrics()
	loc := cfg.Location()

	// Compliance
	audit := compliance.NewAuditService(sqlDB)
	disclaimer := compliance.NewDisclaimerService(audit, compliance.DefaultDisclaimerConfig())

	// Sessions
	outbox := events.NewOutboxStore(pool)
	sessionOpts := []sessions.Option{
		sessions.WithLocation(loc),
		sessions.WithPolicy(sessions.Policy{
			DefaultDurationMinutes: cfg.DefaultSessionMinutes,
			JoinEarly:              cfg.JoinEarlyWindow,
			JoinLate:               cfg.JoinLateWindow,
			CancellationLead:       cfg.CancellationLeadTime,
		}),
		sessions.WithEvents(outbox),
		sessions.WithNoteAuditor(audit),
		sessions.WithMetrics(sessionMetrics),
	}
	sessionOpts = append(sessionOpts, integrationOptions(ctx, cfg, logger)...)
	sessionSvc := sessions.NewService(sessions.NewPostgresStore(pool), logger, sessionOpts...)

	// Notifications and outbox delivery
	sender := buildEmailSender(cfg, awsCfg, logger)
	mailer := notify.NewSessionMailer(sender, sessionSvc, loc, logger)
	handler := bootstrap.BuildDeliveryHandler(cfg, awsCfg, mailer, events.NewProcessedStore(pool), logger)
	deliverer := events.NewDeliverer(outbox, handler, logger).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxPollInterval).
		WithMetrics(outboxMetrics)
	go deliverer.Start(ctx)

	reminderWorker := reminders.NewWorker(reminders.NewStore(pool), sessionSvc, sender, cfg.ReminderLead, logger,
		reminders.WithLocation(loc))
	go reminderWorker.Start(ctx, cfg.ReminderInterval)

	// SOAP drafting
	var notesHandler *notes.Handler
	llm, err := bootstrap.BuildLLM(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to configure LLM", "error", err)
		os.Exit(1)
	}
	if llm != nil {
		defer func() { _ = llm.Close() }()
		drafter := notes.NewDrafter(llm.Client, llm.Model)
		notesSvc := notes.NewService(sessionSvc, drafter, audit, disclaimer, logger)
		if store := buildTranscriptArchive(cfg, awsCfg, logger); store.Enabled() {
			notesSvc.WithArchive(store)
		}
		notesHandler = notes.NewHandler(notesSvc, logger)
	}

	var bookingLimiter *httpmiddleware.RateLimiter
	if cfg.BookingRateLimitPerSec > 0 {
		bookingLimiter = httpmiddleware.NewRateLimiter(cfg.BookingRateLimitPerSec, cfg.BookingRateLimitBurst)
		go sweepLimiter(ctx, bookingLimiter, time.Minute)
	}

	// Setup router
	r := router.New(&router.Config{
		Logger:             logger,
		SessionsHandler:    sessions.NewHandler(sessionSvc, logger),
		NotesHandler:       notesHandler,
		ComplianceHandler:  compliance.NewHandler(audit, logger),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		JWTSecret:          cfg.JWTSecret,
		JWTIssuer:          cfg.JWTIssuer,
		BookingRateLimit:   bookingLimiter,
		HealthCheck:        pool.Ping,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *metrics.SessionMetrics, *metrics.OutboxMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewSessionMetrics(reg), metrics.NewOutboxMetrics(reg)
}

// integrationOptions wires the optional third parties. Each one is skipped
// when its credentials are absent.
func integrationOptions(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) []sessions.Option {
	var opts []sessions.Option

	if redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true); redisClient != nil {
		opts = append(opts, sessions.WithSlotCache(sessions.NewRedisSlotCache(redisClient, cfg.SlotCacheTTL)))
		logger.Info("slot cache enabled", "redis", cfg.RedisAddr)
	}

	if cfg.DailyAPIKey != "" {
		daily, err := video.NewDailyClient(video.Config{APIKey: cfg.DailyAPIKey, BaseURL: cfg.DailyBaseURL, Logger: logger})
		if err != nil {
			logger.Warn("daily client disabled", "error", err)
		} else {
			opts = append(opts, sessions.WithRoomProvider(daily))
		}
	} else {
		logger.Warn("DAILY_API_KEY not set; sessions will start without video rooms")
	}

	if cfg.PaystackSecretKey != "" {
		verifier := payments.NewPaystackVerifier(cfg.PaystackSecretKey, logger).WithBaseURL(cfg.PaystackBaseURL)
		opts = append(opts, sessions.WithPaymentVerifier(verifier))
	} else {
		logger.Warn("PAYSTACK_SECRET_KEY not set; payment references are stored unverified")
	}

	return opts
}

func buildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	senderCfg := notify.SenderConfig{
		Provider: cfg.EmailProvider,
		SendGrid: notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		},
		SES: notify.SESConfig{
			FromEmail:        cfg.SESFromEmail,
			FromName:         cfg.SendGridFromName,
			ConfigurationSet: cfg.SESConfigurationSet,
		},
	}
	if cfg.EmailProvider == "ses" {
		return notify.NewSender(senderCfg, sesv2.NewFromConfig(awsCfg), logger)
	}
	return notify.NewSender(senderCfg, nil, logger)
}

func buildTranscriptArchive(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *archive.Store {
	if cfg.TranscriptArchiveBucket == "" {
		return archive.NewStore(nil, "", "", logger)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AWSEndpointOverride != ""
	})
	logger.Info("transcript archive enabled", "bucket", cfg.TranscriptArchiveBucket)
	return archive.NewStore(client, cfg.TranscriptArchiveBucket, cfg.TranscriptArchiveKMSKeyID, logger)
}

func sweepLimiter(ctx context.Context, limiter *httpmiddleware.RateLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}
