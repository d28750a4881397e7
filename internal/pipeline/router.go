package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/metrics"
)

var (
	ErrEngineClosed = errors.New("engine closed")
	ErrQueueFull    = errors.New("device queue full")
)

// shard owns the device→worker map for the devices hashed to it.
type shard struct {
	mu      sync.Mutex
	workers map[string]*deviceWorker
}

// Router hashes each device to a shard and hands fixes to that device's
// worker. A device is only ever served by one worker at a time.
type Router struct {
	shards  []*shard
	timeout time.Duration
	spawn   func(deviceID string) *deviceWorker
	closed  bool
	closeMu sync.RWMutex
}

func NewRouter(shards int, timeout time.Duration, spawn func(deviceID string) *deviceWorker) *Router {
	if shards < 1 {
		shards = 1
	}
	r := &Router{shards: make([]*shard, shards), timeout: timeout, spawn: spawn}
	for i := range r.shards {
		r.shards[i] = &shard{workers: make(map[string]*deviceWorker)}
	}
	return r
}

func (r *Router) shardFor(deviceID string) *shard {
	return r.shards[xxhash.Sum64String(deviceID)%uint64(len(r.shards))]
}

// worker returns the live worker for a device, starting one if needed.
func (r *Router) worker(deviceID string) (*deviceWorker, error) {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		return nil, ErrEngineClosed
	}

	s := r.shardFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[deviceID]; ok {
		return w, nil
	}
	w := r.spawn(deviceID)
	s.workers[deviceID] = w
	metrics.ActiveDevices.Add(1)
	return w, nil
}

// Route delivers fix to its device worker, waiting up to the ingest
// timeout for queue space before shedding it.
func (r *Router) Route(fix domain.PositionFix) error {
	for {
		w, err := r.worker(fix.DeviceID)
		if err != nil {
			return err
		}
		sent, retired := w.offer(fix, r.timeout)
		if retired {
			continue
		}
		if !sent {
			metrics.IngestDrops.Add(1)
			return ErrQueueFull
		}
		return nil
	}
}

// remove detaches a retiring worker from its shard.
func (r *Router) remove(w *deviceWorker) {
	s := r.shardFor(w.deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.workers[w.deviceID]; ok && cur == w {
		delete(s.workers, w.deviceID)
		metrics.ActiveDevices.Add(-1)
	}
}

// close stops new workers from starting and returns every live worker.
func (r *Router) close() []*deviceWorker {
	r.closeMu.Lock()
	r.closed = true
	r.closeMu.Unlock()

	var out []*deviceWorker
	for _, s := range r.shards {
		s.mu.Lock()
		for _, w := range s.workers {
			out = append(out, w)
		}
		s.mu.Unlock()
	}
	return out
}

func (r *Router) Devices() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.workers)
		s.mu.Unlock()
	}
	return n
}
