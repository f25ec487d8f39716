package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("infra/lock")

// Options tunes the Redis mutex.
type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
	Prefix     string
}

// DefaultOptions suits ledger operations, which finish well inside a second.
func DefaultOptions() Options {
	return Options{
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 50 * time.Millisecond,
		Prefix:     "ledger:account:",
	}
}

// Redis is a RedLock-based account lock shared by every ledger instance.
type Redis struct {
	client *redis.Client
	rs     *redsync.Redsync
	opts   Options
	logger *zap.Logger
}

// NewRedis builds the lock on top of an existing client.
func NewRedis(client *redis.Client, opts Options, logger *zap.Logger) *Redis {
	def := DefaultOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}
	if opts.Tries <= 0 {
		opts.Tries = def.Tries
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.Prefix == "" {
		opts.Prefix = def.Prefix
	}
	return &Redis{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

// WithLock implements port.AccountLocker. fn's error is returned unchanged.
func (r *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "lock.Redis.WithLock")
	defer span.End()
	span.SetAttributes(attribute.String("lock.key", key))

	mutex := r.rs.NewMutex(
		r.opts.Prefix+key,
		redsync.WithExpiry(r.opts.Expiry),
		redsync.WithTries(r.opts.Tries),
		redsync.WithRetryDelay(r.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		r.logger.Warn("failed to acquire account lock", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("acquire account lock %s: %w", key, err)
	}
	defer func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			r.logger.Error("failed to release account lock",
				zap.String("key", key), zap.Bool("unlock_ok", ok), zap.Error(err))
		}
	}()

	return fn(ctx)
}

func (r *Redis) Name() string { return "redis" }

// Ping implements port.HealthChecker.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
