package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"fleet-monitor/telematics/internal/domain"
)

type AlertPublisher interface {
	PublishAlert(ctx context.Context, payload []byte) error
}

// RedisNotifier publishes to the fleet:alerts channel the dashboards
// already subscribe to.
type RedisNotifier struct {
	pub AlertPublisher
}

var _ Notifier = (*RedisNotifier)(nil)

func NewRedisNotifier(pub AlertPublisher) *RedisNotifier {
	return &RedisNotifier{pub: pub}
}

func (r *RedisNotifier) Name() string { return "redis" }

func (r *RedisNotifier) Notify(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return r.pub.PublishAlert(ctx, payload)
}
