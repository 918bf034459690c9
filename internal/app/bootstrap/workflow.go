package bootstrap

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-booking/internal/booking"
	appconfig "github.com/wolfman30/clinic-booking/internal/config"
	"github.com/wolfman30/clinic-booking/internal/events"
	"github.com/wolfman30/clinic-booking/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking/internal/payments"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/upstream"
	"github.com/wolfman30/clinic-booking/internal/workflow"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// Collaborators are the optional backing services a workflow can use.
type Collaborators struct {
	Limiter   *booking.VelocityLimiter
	Pool      *pgxpool.Pool
	Publisher events.Publisher
	Metrics   *metrics.WorkflowMetrics
}

// BuildWorkflowDeps wires the platform clients into workflow dependencies.
// It also returns the platform client for booking cancellation.
func BuildWorkflowDeps(cfg *appconfig.Config, c Collaborators, logger *logging.Logger) (workflow.Deps, *upstream.Client) {
	if logger == nil {
		logger = logging.Default()
	}

	platform := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamTimeout, logger)
	gatewayAPI := platform
	if cfg.GatewayBaseURL != "" && cfg.GatewayBaseURL != cfg.UpstreamBaseURL {
		gatewayAPI = upstream.NewClient(cfg.GatewayBaseURL, cfg.UpstreamTimeout, logger)
	}
	if c.Metrics != nil {
		platform.WithObserver(c.Metrics)
		if gatewayAPI != platform {
			gatewayAPI.WithObserver(c.Metrics)
		}
	}

	var opts []booking.Option
	if c.Limiter != nil {
		opts = append(opts, booking.WithLimiter(c.Limiter))
	}

	deps := workflow.Deps{
		Slots:     slots.NewCatalog(platform, cfg.Location(), logger),
		Profiles:  platform,
		Providers: platform,
		Submitter: booking.NewSubmitter(platform, platform, logger, opts...),
		Gateway:   payments.NewGatewayClient(gatewayAPI, logger),
		Events:    c.Publisher,
		Logger:    logger,
	}
	if c.Pool != nil {
		deps.Ledger = payments.NewVerifiedLedger(c.Pool)
	}
	if c.Metrics != nil {
		deps.Metrics = c.Metrics
	}
	return deps, platform
}
