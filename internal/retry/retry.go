package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/metrics"
)

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Retryable decides whether an error is worth another attempt. Nil
	// retries everything.
	Retryable func(error) bool
}

// Retrier runs an operation with exponential backoff and jitter. Only
// I/O boundaries use it.
type Retrier struct {
	cfg   Config
	log   *zap.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, log *zap.Logger) *Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2
	}
	return &Retrier{cfg: cfg, log: log, sleep: sleepCtx}
}

func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				r.log.Info("operation succeeded after retries",
					zap.String("op", op),
					zap.Int("attempts", attempt+1))
			}
			return nil
		}
		lastErr = err

		if r.cfg.Retryable != nil && !r.cfg.Retryable(err) {
			return err
		}
		if attempt == r.cfg.MaxAttempts-1 {
			break
		}

		delay := r.delay(attempt)
		metrics.SinkRetries.Add(1)
		r.log.Warn("operation failed, retrying",
			zap.String("op", op),
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, r.cfg.MaxAttempts, lastErr)
}

func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.cfg.BaseDelay) * math.Pow(r.cfg.Multiplier, float64(attempt))
	if r.cfg.MaxDelay > 0 && d > float64(r.cfg.MaxDelay) {
		d = float64(r.cfg.MaxDelay)
	}
	// up to 10% jitter so workers that failed together do not retry together
	d += d * 0.1 * rand.Float64()
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
