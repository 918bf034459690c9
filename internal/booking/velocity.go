package booking

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// VelocityConfig bounds how many reservations one session may attempt.
type VelocityConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultVelocityConfig returns default attempt limits.
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		MaxAttempts: 5,
		Window:      15 * time.Minute,
	}
}

// AttemptResult is the outcome of one limiter check.
type AttemptResult struct {
	Allowed      bool
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
	Message      string
}

// VelocityLimiter counts booking attempts in Redis. It fails open.
type VelocityLimiter struct {
	redis  *redis.Client
	logger *logging.Logger
	config VelocityConfig
}

// NewVelocityLimiter creates a limiter. Non-positive settings fall back to defaults.
func NewVelocityLimiter(redisClient *redis.Client, config VelocityConfig, logger *logging.Logger) *VelocityLimiter {
	if logger == nil {
		logger = logging.Default()
	}
	def := DefaultVelocityConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	return &VelocityLimiter{redis: redisClient, logger: logger, config: config}
}

// Allow records an attempt under key and reports whether it is within limits.
func (v *VelocityLimiter) Allow(ctx context.Context, key string) (*AttemptResult, error) {
	ctx, span := bookingTracer.Start(ctx, "velocity.check_booking")
	defer span.End()

	redisKey := "velocity:" + key
	count, expiry, err := v.incrementAndGet(ctx, redisKey)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", redisKey)
		return &AttemptResult{Allowed: true, Message: "velocity check unavailable"}, nil
	}

	result := &AttemptResult{
		Allowed:      count <= v.config.MaxAttempts,
		CurrentCount: count,
		MaxAllowed:   v.config.MaxAttempts,
		WindowExpiry: expiry,
	}
	if !result.Allowed {
		result.Message = "too many booking attempts"
		v.logger.Warn("booking velocity exceeded", "key", redisKey, "count", count, "max", v.config.MaxAttempts)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}
	return result, nil
}

// Reset clears the counter for key.
func (v *VelocityLimiter) Reset(ctx context.Context, key string) error {
	return v.redis.Del(ctx, "velocity:"+key).Err()
}

func (v *VelocityLimiter) incrementAndGet(ctx context.Context, key string) (int, time.Time, error) {
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if count == 1 {
		v.redis.Expire(ctx, key, v.config.Window)
	}
	ttl, err := v.redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = v.config.Window
	}
	return int(count), time.Now().Add(ttl), nil
}
