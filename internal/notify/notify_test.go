package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/metrics"
	"fleet-monitor/telematics/internal/store"
)

var ts = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type mockNotifier struct {
	name       string
	NotifyFunc func(ctx context.Context, n domain.Notification) error
	got        []domain.Notification
}

func (m *mockNotifier) Name() string { return m.name }

func (m *mockNotifier) Notify(ctx context.Context, n domain.Notification) error {
	m.got = append(m.got, n)
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, n)
	}
	return nil
}

type fakeChannel struct {
	exchange string
	msgs     []amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, _ string, _, _ bool, msg amqp.Publishing) error {
	f.exchange = exchange
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

type fakeNATS struct {
	subjects []string
}

func (f *fakeNATS) Publish(subject string, _ []byte) error {
	f.subjects = append(f.subjects, subject)
	return nil
}

func sampleFacts() domain.Facts {
	dwell := int64(600)
	return domain.Facts{
		GeofenceEvents: []domain.GeofenceEvent{
			{ID: "ev-1", GeofenceID: "depot", VehicleID: "veh-1", Type: domain.GeofenceEntry, Timestamp: ts, Notify: true},
			{ID: "ev-2", GeofenceID: "depot", VehicleID: "veh-1", Type: domain.GeofenceExit, Timestamp: ts, Notify: false, DurationInsideSeconds: &dwell},
			{ID: "ev-3", GeofenceID: "yard", VehicleID: "veh-1", Type: domain.GeofenceOverstay, Timestamp: ts, Notify: true},
		},
		SpeedAlerts: []domain.SpeedLimitAlert{
			{ID: "sp-1", VehicleID: "veh-1", Reason: domain.ReasonSpeedOverLimit, MeasuredKph: 112, LimitKph: 90, Timestamp: ts},
		},
		FuelAnomalies: []domain.FuelAnomaly{
			{ID: "fu-1", VehicleID: "veh-1", Reason: domain.ReasonPossibleLeakTheft, ObservedDeltaLiters: -18, Timestamp: ts},
			{ID: "fu-2", VehicleID: "veh-1", Reason: domain.ReasonUnrecordedRefuel, ObservedDeltaLiters: 40, Timestamp: ts},
		},
		Trips: []domain.Trip{
			{ID: "trip-1", VehicleID: "veh-1"},
			{ID: "trip-2", VehicleID: "veh-1", Anomaly: domain.ReasonOdometerRollback},
		},
	}
}

func TestFromFacts(t *testing.T) {
	got := FromFacts(sampleFacts())

	var ids []string
	severity := map[string]domain.AlertSeverity{}
	for _, n := range got {
		ids = append(ids, n.ID)
		severity[n.ID] = n.Severity
	}

	assert.Equal(t, []string{"ev-1", "ev-3", "sp-1", "fu-1", "fu-2", "trip-2"}, ids)
	assert.Equal(t, domain.SeverityInfo, severity["ev-1"])
	assert.Equal(t, domain.SeverityWarning, severity["ev-3"])
	assert.Equal(t, domain.SeverityCritical, severity["fu-1"])
	assert.Equal(t, domain.SeverityWarning, severity["fu-2"])
	assert.Equal(t, "GEOFENCE_ENTRY", got[0].Type)
	assert.Contains(t, got[2].Message, "112 km/h")
}

func TestFromFacts_Empty(t *testing.T) {
	assert.Empty(t, FromFacts(domain.Facts{}))
}

// deliverQueued runs the sender over whatever is queued and returns once
// the queue is empty.
func deliverQueued(m *Multi) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Run(ctx)
}

func TestMulti_FailuresAreCountedNotReturned(t *testing.T) {
	ok := &mockNotifier{name: "ok"}
	broken := &mockNotifier{name: "broken", NotifyFunc: func(context.Context, domain.Notification) error {
		return errors.New("broker down")
	}}
	m := NewMulti(16, time.Second, zap.NewNop(), ok, broken)

	sent := metrics.NotificationsSent.Load()
	failed := metrics.NotificationsFailed.Load()

	m.Send(context.Background(), []domain.Notification{{ID: "a"}, {ID: "b"}})
	deliverQueued(m)

	assert.Len(t, ok.got, 2)
	assert.Len(t, broken.got, 2)
	assert.Equal(t, sent+2, metrics.NotificationsSent.Load())
	assert.Equal(t, failed+2, metrics.NotificationsFailed.Load())
}

func TestMulti_SendDoesNotWaitForDelivery(t *testing.T) {
	stuck := &mockNotifier{name: "stuck"}
	// no sender running: the queue never empties
	m := NewMulti(2, time.Second, zap.NewNop(), stuck)
	drops := metrics.NotificationDrops.Load()

	done := make(chan struct{})
	go func() {
		m.Send(context.Background(), []domain.Notification{{ID: "a"}, {ID: "b"}, {ID: "c"}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a stuck notifier")
	}
	assert.Empty(t, stuck.got)
	assert.Equal(t, drops+1, metrics.NotificationDrops.Load())
}

func TestMulti_SlowNotifierTimesOut(t *testing.T) {
	slow := &mockNotifier{name: "amqp", NotifyFunc: func(ctx context.Context, _ domain.Notification) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	m := NewMulti(4, 20*time.Millisecond, zap.NewNop(), slow)
	failed := metrics.NotificationsFailed.Load()

	m.Send(context.Background(), []domain.Notification{{ID: "a"}})
	start := time.Now()
	deliverQueued(m)

	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, slow.got, 1)
	assert.Equal(t, failed+1, metrics.NotificationsFailed.Load())
}

func TestAMQPNotifier(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPNotifier{ch: ch, exchange: "fleet.events"}

	require.NoError(t, p.Notify(context.Background(), domain.Notification{ID: "n-1", Type: "SPEED_OVER_LIMIT", Timestamp: ts}))

	assert.Equal(t, "fleet.events", ch.exchange)
	require.Len(t, ch.msgs, 1)
	assert.Equal(t, "application/json", ch.msgs[0].ContentType)
	assert.Equal(t, "n-1", ch.msgs[0].MessageId)

	var body domain.Notification
	require.NoError(t, json.Unmarshal(ch.msgs[0].Body, &body))
	assert.Equal(t, "SPEED_OVER_LIMIT", body.Type)
}

func TestNATSNotifier_SubjectPerType(t *testing.T) {
	nc := &fakeNATS{}
	p := &NATSNotifier{nc: nc, subject: "fleet.alerts"}

	require.NoError(t, p.Notify(context.Background(), domain.Notification{Type: "GEOFENCE_ENTRY"}))
	assert.Equal(t, []string{"fleet.alerts.GEOFENCE_ENTRY"}, nc.subjects)
}

func TestRedisNotifier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "fleet:alerts")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisNotifier(store.NewRedisStoreWithClient(client))
	require.NoError(t, p.Notify(ctx, domain.Notification{ID: "n-1", Type: "GEOFENCE_EXIT"}))

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, `"id":"n-1"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no alert published")
	}
}

func TestHub_BroadcastsToClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Notify(context.Background(), domain.Notification{ID: "n-1", Type: "FUEL"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got domain.Notification
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "n-1", got.ID)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
