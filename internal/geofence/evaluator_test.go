package geofence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/telematics/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

const degPerKm = 1 / 111.195

func depot() domain.Geofence {
	return domain.Geofence{
		ID:                          "depot",
		Shape:                       domain.ShapeCircle,
		Center:                      domain.LatLon{Lat: -6.2, Lon: 106.8},
		RadiusM:                     500,
		AlertOnEntry:                true,
		AlertOnExit:                 true,
		NotificationCooldownMinutes: 10,
	}
}

// fixAt places a fix km kilometres north of the depot centre.
func fixAt(offset time.Duration, km float64) domain.PositionFix {
	return domain.PositionFix{
		DeviceID:   "dev-1",
		RecordedAt: t0.Add(offset),
		Latitude:   -6.2 + km*degPerKm,
		Longitude:  106.8,
		SpeedKph:   20,
	}
}

type run struct {
	events     []domain.GeofenceEvent
	membership map[string]domain.GeofenceMembership
}

func (r *run) step(fix domain.PositionFix, fences ...domain.Geofence) []domain.GeofenceEvent {
	evs, next := Evaluate(fix, "veh-1", fences, r.membership)
	r.membership = next
	r.events = append(r.events, evs...)
	return evs
}

func assertAlternates(t *testing.T, events []domain.GeofenceEvent) {
	t.Helper()
	last := map[string]domain.GeofenceEventType{}
	for _, ev := range events {
		if ev.Type == domain.GeofenceOverstay {
			continue
		}
		assert.NotEqual(t, last[ev.GeofenceID], ev.Type, "consecutive %s for %s at %s", ev.Type, ev.GeofenceID, ev.Timestamp)
		last[ev.GeofenceID] = ev.Type
	}
}

func TestEvaluate_ScenarioC(t *testing.T) {
	r := &run{}
	fence := depot()

	r.step(fixAt(0, 2), fence)
	r.step(fixAt(time.Minute, 1), fence)
	// inside from minute 2 to minute 21
	for m := 2; m <= 21; m++ {
		r.step(fixAt(time.Duration(m)*time.Minute, 0.1), fence)
	}
	r.step(fixAt(22*time.Minute, 1), fence)
	r.step(fixAt(23*time.Minute, 2), fence)

	require.Len(t, r.events, 2)
	entry, exit := r.events[0], r.events[1]
	assert.Equal(t, domain.GeofenceEntry, entry.Type)
	assert.Nil(t, entry.DurationInsideSeconds)
	assert.True(t, entry.Notify)

	assert.Equal(t, domain.GeofenceExit, exit.Type)
	require.NotNil(t, exit.DurationInsideSeconds)
	assert.Equal(t, int64(1200), *exit.DurationInsideSeconds)
	assert.True(t, exit.Notify)
	assert.False(t, r.membership["depot"].Inside)
}

func TestEvaluate_CooldownSuppressesNotificationOnly(t *testing.T) {
	r := &run{}
	fence := depot()

	for i := 0; i < 6; i++ {
		km := 0.6
		if i%2 == 0 {
			km = 0.4
		}
		r.step(fixAt(time.Duration(i)*time.Minute, km), fence)
	}

	require.Len(t, r.events, 6)
	assertAlternates(t, r.events)

	var notified []domain.GeofenceEventType
	for _, ev := range r.events {
		if ev.Notify {
			notified = append(notified, ev.Type)
		}
	}
	assert.Equal(t, []domain.GeofenceEventType{domain.GeofenceEntry, domain.GeofenceExit}, notified)

	// after the cooldown the next entry notifies again
	evs := r.step(fixAt(12*time.Minute, 0.1), fence)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].Notify)
}

func TestEvaluate_AlertFlagsOff(t *testing.T) {
	r := &run{}
	fence := depot()
	fence.AlertOnEntry = false

	evs := r.step(fixAt(0, 0.1), fence)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.GeofenceEntry, evs[0].Type)
	assert.False(t, evs[0].Notify)
	assert.True(t, r.membership["depot"].Inside)
}

func TestEvaluate_OverstayOncePerStay(t *testing.T) {
	r := &run{}
	fence := depot()
	fence.MaxStayDurationMinutes = 15

	for m := 0; m <= 30; m++ {
		r.step(fixAt(time.Duration(m)*time.Minute, 0.1), fence)
	}

	var overstays []domain.GeofenceEvent
	for _, ev := range r.events {
		if ev.Type == domain.GeofenceOverstay {
			overstays = append(overstays, ev)
		}
	}
	require.Len(t, overstays, 1)
	assert.Equal(t, t0.Add(16*time.Minute), overstays[0].Timestamp)
	assert.Equal(t, int64(960), *overstays[0].DurationInsideSeconds)
	assert.True(t, overstays[0].Notify)

	// leave and come back: a fresh stay can overstay again
	r.step(fixAt(31*time.Minute, 2), fence)
	for m := 32; m <= 50; m++ {
		r.step(fixAt(time.Duration(m)*time.Minute, 0.1), fence)
	}
	count := 0
	for _, ev := range r.events {
		if ev.Type == domain.GeofenceOverstay {
			count++
		}
	}
	assert.Equal(t, 2, count)
	assertAlternates(t, r.events)
}

func TestEvaluate_ReplayDoesNotMutateInput(t *testing.T) {
	fence := depot()
	fix := fixAt(0, 0.1)
	before := map[string]domain.GeofenceMembership{}

	evs1, after1 := Evaluate(fix, "veh-1", []domain.Geofence{fence}, before)
	evs2, after2 := Evaluate(fix, "veh-1", []domain.Geofence{fence}, before)

	assert.Empty(t, before)
	assert.Equal(t, evs1, evs2)
	assert.Equal(t, after1, after2)
	assert.Equal(t, evs1[0].ID, evs2[0].ID)

	// applying the same fix on top of its own result emits nothing
	evs3, _ := Evaluate(fix, "veh-1", []domain.Geofence{fence}, after1)
	assert.Empty(t, evs3)
}

func TestEvaluate_Polygon(t *testing.T) {
	r := &run{}
	yard := domain.Geofence{
		ID:    "yard",
		Shape: domain.ShapePolygon,
		Polygon: []domain.LatLon{
			{Lat: -6.201, Lon: 106.799},
			{Lat: -6.201, Lon: 106.801},
			{Lat: -6.199, Lon: 106.801},
			{Lat: -6.199, Lon: 106.799},
		},
	}

	r.step(fixAt(0, 0), yard)
	r.step(fixAt(time.Minute, 1), yard)

	require.Len(t, r.events, 2)
	assert.Equal(t, domain.GeofenceEntry, r.events[0].Type)
	assert.Equal(t, domain.GeofenceExit, r.events[1].Type)
	assert.Equal(t, int64(60), *r.events[1].DurationInsideSeconds)
}

func TestEvaluate_UnassignedFenceDropped(t *testing.T) {
	r := &run{}
	fence := depot()
	r.step(fixAt(0, 0.1), fence)
	require.True(t, r.membership["depot"].Inside)

	evs := r.step(fixAt(time.Minute, 0.1))
	assert.Empty(t, evs)
	_, ok := r.membership["depot"]
	assert.False(t, ok)
}

func TestContaining(t *testing.T) {
	other := depot()
	other.ID = "far"
	other.Center = domain.LatLon{Lat: 0, Lon: 0}

	ids := Containing(fixAt(0, 0.2), []domain.Geofence{depot(), other})
	assert.Equal(t, []string{"depot"}, ids)
}
