package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/wolfman30/clinic-booking/internal/config"
	"github.com/wolfman30/clinic-booking/internal/events"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// BuildPublisher picks how booking events leave the service. Without
// EVENTS_QUEUE_URL events are dropped. With a queue and a database they go
// through the outbox and the returned Deliverer relays them; with only a
// queue they are sent directly.
func BuildPublisher(awsCfg aws.Config, cfg *appconfig.Config, pool *pgxpool.Pool, logger *logging.Logger) (events.Publisher, *events.Deliverer) {
	if cfg == nil || strings.TrimSpace(cfg.EventsQueueURL) == "" {
		return events.NopPublisher{}, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	sqsPublisher := events.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.EventsQueueURL, logger)
	if pool == nil {
		logger.Info("booking events publishing to sqs", "queue_url", cfg.EventsQueueURL)
		return sqsPublisher, nil
	}
	store := events.NewOutboxStore(pool)
	logger.Info("booking events publishing via outbox", "queue_url", cfg.EventsQueueURL)
	return events.NewOutboxPublisher(store, logger), events.NewDeliverer(store, sqsPublisher, logger)
}
