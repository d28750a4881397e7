package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/telematics/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func fixAt(offset time.Duration) domain.PositionFix {
	return domain.PositionFix{DeviceID: "dev-1", RecordedAt: t0.Add(offset)}
}

func offsets(fixes []domain.PositionFix) []time.Duration {
	out := make([]time.Duration, len(fixes))
	for i, f := range fixes {
		out[i] = f.RecordedAt.Sub(t0)
	}
	return out
}

func TestReorderBuffer_ReordersWithinWindow(t *testing.T) {
	b := NewReorderBuffer(30*time.Second, 64)
	arrival := t0

	require.True(t, b.Push(fixAt(10*time.Second), arrival))
	require.True(t, b.Push(fixAt(0), arrival))
	require.True(t, b.Push(fixAt(5*time.Second), arrival))
	assert.Empty(t, b.Ready(arrival))

	// a fix 40s newer pushes the watermark past the first two
	require.True(t, b.Push(fixAt(40*time.Second), arrival))
	assert.Equal(t, []time.Duration{0, 5 * time.Second, 10 * time.Second}, offsets(b.Ready(arrival)))
	assert.Equal(t, 1, b.Len())
}

func TestReorderBuffer_ReleasesAfterWaiting(t *testing.T) {
	b := NewReorderBuffer(30*time.Second, 64)

	b.Push(fixAt(0), t0)
	assert.Empty(t, b.Ready(t0.Add(29*time.Second)))

	deadline, ok := b.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, t0.Add(30*time.Second), deadline)

	assert.Len(t, b.Ready(t0.Add(30*time.Second)), 1)
	_, ok = b.NextDeadline()
	assert.False(t, ok)
}

func TestReorderBuffer_LateFixBypasses(t *testing.T) {
	b := NewReorderBuffer(0, 64)

	b.Push(fixAt(10*time.Second), t0)
	require.Len(t, b.Ready(t0), 1)

	assert.False(t, b.Push(fixAt(5*time.Second), t0), "older than released must bypass")
	assert.True(t, b.Push(fixAt(10*time.Second), t0), "same timestamp is a duplicate, not late")
	assert.True(t, b.Push(fixAt(11*time.Second), t0))
}

func TestReorderBuffer_Overflow(t *testing.T) {
	b := NewReorderBuffer(time.Hour, 2)

	b.Push(fixAt(3*time.Second), t0)
	b.Push(fixAt(1*time.Second), t0)
	assert.Empty(t, b.Ready(t0))

	b.Push(fixAt(2*time.Second), t0)
	assert.Equal(t, []time.Duration{time.Second}, offsets(b.Ready(t0)))
	assert.Equal(t, 2, b.Len())
}

func TestReorderBuffer_Drain(t *testing.T) {
	b := NewReorderBuffer(time.Hour, 64)
	b.Push(fixAt(2*time.Second), t0)
	b.Push(fixAt(1*time.Second), t0)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, offsets(b.Drain()))
	assert.Zero(t, b.Len())
}
