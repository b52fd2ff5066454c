package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	appconfig "github.com/wolfman30/teletherapy-platform/internal/config"
	"github.com/wolfman30/teletherapy-platform/internal/notify"
	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

func TestSetupMetricsExposesMetrics(t *testing.T) {
	handler, sessionMetrics, outboxMetrics := setupMetrics()
	if handler == nil || sessionMetrics == nil || outboxMetrics == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	sessionMetrics.ObserveOperation("book", "ok")
	outboxMetrics.ObserveDelivery("session.booked", true)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "teletherapy_sessions_operations_total") {
		t.Fatalf("expected session counter to be exported")
	}
	if !strings.Contains(body, "teletherapy_outbox_deliveries_total") {
		t.Fatalf("expected outbox counter to be exported")
	}
}

func TestSetupMetricsUsesPrivateRegistry(t *testing.T) {
	// A second call must not panic on duplicate registration.
	setupMetrics()
	setupMetrics()
}

func TestBuildEmailSenderSelection(t *testing.T) {
	logger := logging.Discard()
	awsCfg := aws.Config{Region: "us-east-1"}

	if _, ok := buildEmailSender(&appconfig.Config{}, awsCfg, logger).(*notify.StubEmailSender); !ok {
		t.Fatalf("expected stub sender without provider credentials")
	}

	cfg := &appconfig.Config{SendGridAPIKey: "SG.test", SendGridFromEmail: "care@example.com"}
	if _, ok := buildEmailSender(cfg, awsCfg, logger).(*notify.SendGridSender); !ok {
		t.Fatalf("expected sendgrid sender when an API key is set")
	}

	cfg = &appconfig.Config{EmailProvider: "ses", SESFromEmail: "care@example.com"}
	if _, ok := buildEmailSender(cfg, awsCfg, logger).(*notify.SESSender); !ok {
		t.Fatalf("expected SES sender when requested")
	}
}

func TestIntegrationOptionsSkipsUnconfigured(t *testing.T) {
	opts := integrationOptions(context.Background(), &appconfig.Config{}, logging.Discard())
	if len(opts) != 0 {
		t.Fatalf("expected no options, got %d", len(opts))
	}

	cfg := &appconfig.Config{
		DailyAPIKey:       "daily-key",
		DailyBaseURL:      "https://api.daily.co/v1",
		PaystackSecretKey: "sk_test_123",
		PaystackBaseURL:   "https://api.paystack.co",
	}
	opts = integrationOptions(context.Background(), cfg, logging.Discard())
	if len(opts) != 2 {
		t.Fatalf("expected room provider and payment verifier, got %d options", len(opts))
	}
}

func TestBuildTranscriptArchive(t *testing.T) {
	awsCfg := aws.Config{Region: "us-east-1"}
	if buildTranscriptArchive(&appconfig.Config{}, awsCfg, logging.Discard()).Enabled() {
		t.Fatalf("expected archive disabled without a bucket")
	}
	cfg := &appconfig.Config{TranscriptArchiveBucket: "phi-transcripts"}
	if !buildTranscriptArchive(cfg, awsCfg, logging.Discard()).Enabled() {
		t.Fatalf("expected archive enabled with a bucket")
	}
}
