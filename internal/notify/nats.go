package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"fleet-monitor/telematics/internal/domain"
)

type natsPublisher interface {
	Publish(subject string, data []byte) error
}

type NATSNotifier struct {
	nc      natsPublisher
	subject string
}

var _ Notifier = (*NATSNotifier)(nil)

func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("telematics-engine"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

func NewNATSNotifier(nc *nats.Conn, subject string) *NATSNotifier {
	return &NATSNotifier{nc: nc, subject: subject}
}

func (p *NATSNotifier) Name() string { return "nats" }

// Notify publishes to <subject>.<type> so consumers can subscribe to one
// alert type or to <subject>.> for all of them.
func (p *NATSNotifier) Notify(_ context.Context, n domain.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return p.nc.Publish(p.subject+"."+n.Type, data)
}
