package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/teletherapy-platform/internal/config"
	"github.com/wolfman30/teletherapy-platform/internal/events"
	"github.com/wolfman30/teletherapy-platform/internal/notify"
	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

// Consumer names recorded in processed_events.
const (
	ConsumerEmail = "email"
	ConsumerSQS   = "sqs"
)

// BuildDeliveryHandler fans outbox entries out to the session mailer and, when
// a queue is configured, to SQS. Each consumer is tracked separately so a
// retry does not re-send to the one that already succeeded.
func BuildDeliveryHandler(cfg *appconfig.Config, awsCfg aws.Config, mailer *notify.SessionMailer, processed *events.ProcessedStore, logger *logging.Logger) events.DeliveryHandler {
	if logger == nil {
		logger = logging.Default()
	}
	track := func(consumer string, h events.DeliveryHandler) events.DeliveryHandler {
		if processed == nil {
			return h
		}
		return events.Idempotent(consumer, processed, h)
	}

	fanout := events.Fanout{}
	if mailer != nil {
		fanout = append(fanout, events.OnlyTypes(track(ConsumerEmail, mailer), notify.MailedEventTypes...))
	}
	if cfg != nil && cfg.SessionEventsQueue != "" {
		publisher := events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.SessionEventsQueue)
		fanout = append(fanout, track(ConsumerSQS, publisher))
		logger.Info("session events forwarded to SQS", "queue", cfg.SessionEventsQueue)
	}
	return fanout
}
