package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/pipeline"
	"fleet-monitor/telematics/internal/transport"
)

type ingester interface {
	Ingest(fix domain.PositionFix) error
}

// Subscriber feeds fixes published on fleet/device/{device_id}/position
// into the engine. The topic names the device; a payload naming another
// device is dropped.
type Subscriber struct {
	client paho.Client
	topic  string
	qos    byte
	engine ingester
	log    *zap.Logger
}

func NewSubscriber(topic string, qos int, engine ingester, log *zap.Logger) *Subscriber {
	return &Subscriber{topic: topic, qos: byte(qos), engine: engine, log: log}
}

// Connect dials the broker. Subscriptions are renewed on every
// (re)connect, so a broker restart does not silently stop ingest.
func (s *Subscriber) Connect(brokerURL, clientID string) error {
	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetOnConnectHandler(func(c paho.Client) {
			if err := s.subscribe(c); err != nil {
				s.log.Error("mqtt subscribe failed", zap.String("topic", s.topic), zap.Error(err))
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			s.log.Warn("mqtt connection lost", zap.Error(err))
		})

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(10*time.Second) {
		return errors.New("mqtt connect: timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (s *Subscriber) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

func (s *Subscriber) subscribe(c paho.Client) error {
	token := c.Subscribe(s.topic, s.qos, s.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	s.log.Info("mqtt subscribed", zap.String("topic", s.topic))
	return nil
}

func (s *Subscriber) Close() {
	if s.client == nil {
		return
	}
	if token := s.client.Unsubscribe(s.topic); token.WaitTimeout(time.Second) && token.Error() != nil {
		s.log.Warn("mqtt unsubscribe failed", zap.Error(token.Error()))
	}
	s.client.Disconnect(250)
}

func (s *Subscriber) handleMessage(_ paho.Client, msg paho.Message) {
	topicDevice := deviceFromTopic(msg.Topic())

	fixes, err := transport.DecodeFixes(msg.Payload())
	if err != nil {
		s.log.Warn("invalid position message", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	for _, fix := range fixes {
		if fix.DeviceID == "" {
			fix.DeviceID = topicDevice
		}
		if topicDevice != "" && fix.DeviceID != topicDevice {
			s.log.Warn("position for another device dropped",
				zap.String("topic", msg.Topic()),
				zap.String("device_id", fix.DeviceID))
			continue
		}

		if err := s.engine.Ingest(fix); err != nil {
			if errors.Is(err, pipeline.ErrEngineClosed) {
				return
			}
			s.log.Warn("position not ingested",
				zap.String("device_id", fix.DeviceID),
				zap.Time("recorded_at", fix.RecordedAt),
				zap.Error(err))
		}
	}
}

// deviceFromTopic extracts {device_id} from fleet/device/{device_id}/position.
func deviceFromTopic(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "device" {
			return parts[i+1]
		}
	}
	return ""
}
