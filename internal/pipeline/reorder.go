package pipeline

import (
	"container/heap"
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/metrics"
)

type pending struct {
	fix     domain.PositionFix
	arrival time.Time
	seq     uint64
}

type fixHeap []pending

func (h fixHeap) Len() int { return len(h) }

func (h fixHeap) Less(i, j int) bool {
	if h[i].fix.RecordedAt.Equal(h[j].fix.RecordedAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].fix.RecordedAt.Before(h[j].fix.RecordedAt)
}

func (h fixHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *fixHeap) Push(x any) { *h = append(*h, x.(pending)) }

func (h *fixHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ReorderBuffer holds a device's fixes for up to maxLateness so stragglers
// can be applied in RecordedAt order. A fix is released once a fix at
// least maxLateness newer has been seen, once it has waited maxLateness,
// or when the buffer overflows.
type ReorderBuffer struct {
	h           fixHeap
	maxLateness time.Duration
	maxBuffered int
	newest      time.Time
	released    time.Time
	seq         uint64
}

func NewReorderBuffer(maxLateness time.Duration, maxBuffered int) *ReorderBuffer {
	if maxBuffered < 1 {
		maxBuffered = 1
	}
	return &ReorderBuffer{maxLateness: maxLateness, maxBuffered: maxBuffered}
}

// Push buffers fix. It returns false when the fix is older than
// everything already released; such a fix bypasses the buffer and is
// handled right away as late.
func (b *ReorderBuffer) Push(fix domain.PositionFix, arrival time.Time) bool {
	if !b.released.IsZero() && fix.RecordedAt.Before(b.released) {
		return false
	}
	b.seq++
	heap.Push(&b.h, pending{fix: fix, arrival: arrival, seq: b.seq})
	if fix.RecordedAt.After(b.newest) {
		b.newest = fix.RecordedAt
	}
	return true
}

// Ready pops every fix that may be applied at now, oldest first.
func (b *ReorderBuffer) Ready(now time.Time) []domain.PositionFix {
	var out []domain.PositionFix
	for b.h.Len() > 0 {
		top := b.h[0]
		overflow := b.h.Len() > b.maxBuffered
		watermark := !top.fix.RecordedAt.After(b.newest.Add(-b.maxLateness))
		waited := !now.Before(top.arrival.Add(b.maxLateness))
		if !overflow && !watermark && !waited {
			break
		}
		if overflow && !watermark && !waited {
			metrics.ReorderOverflows.Add(1)
		}
		out = append(out, b.pop())
	}
	return out
}

// Drain releases everything, used on shutdown.
func (b *ReorderBuffer) Drain() []domain.PositionFix {
	out := make([]domain.PositionFix, 0, b.h.Len())
	for b.h.Len() > 0 {
		out = append(out, b.pop())
	}
	return out
}

func (b *ReorderBuffer) pop() domain.PositionFix {
	p := heap.Pop(&b.h).(pending)
	if p.fix.RecordedAt.After(b.released) {
		b.released = p.fix.RecordedAt
	}
	return p.fix
}

func (b *ReorderBuffer) Len() int {
	return b.h.Len()
}

// NextDeadline is when the head of the buffer will have waited long enough.
func (b *ReorderBuffer) NextDeadline() (time.Time, bool) {
	if b.h.Len() == 0 {
		return time.Time{}, false
	}
	return b.h[0].arrival.Add(b.maxLateness), true
}
