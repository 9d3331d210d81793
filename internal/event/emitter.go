package event

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orion-sentinel/netsec/internal/platform/logging"
	"github.com/orion-sentinel/netsec/internal/platform/metrics"
)

// Pusher is the subset of the log-store client the emitter needs, narrow
// enough to be satisfied by internal/logstore.Client or a test fake.
type Pusher interface {
	Push(ctx context.Context, labels map[string]string, lines [][]byte) error
}

// EmitterConfig controls queue size and the component label attached to
// every event this Emitter publishes.
type EmitterConfig struct {
	Component string
	QueueSize int
}

// Emitter is a multi-producer/single-consumer bounded queue: Emit is
// non-blocking for callers in the common case, and overflow drops the
// oldest queued event rather than stalling upstream detection.
type Emitter struct {
	pusher    Pusher
	component string
	log       *logging.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	queue   []SecurityEvent
	maxSize int
	notify  chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewEmitter constructs an Emitter and starts its background drain
// goroutine. Call Close to stop it.
func NewEmitter(pusher Pusher, cfg EmitterConfig, log *logging.Logger, m *metrics.Metrics) *Emitter {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	e := &Emitter{
		pusher:    pusher,
		component: cfg.Component,
		log:       log,
		metrics:   m,
		maxSize:   size,
		notify:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go e.drainLoop()
	return e
}

// Emit enqueues a single event, filling Timestamp and ID if absent. It
// never blocks: if the queue is full, the oldest queued event is dropped
// and counted.
func (e *Emitter) Emit(ev SecurityEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	e.mu.Lock()
	if len(e.queue) >= e.maxSize {
		e.queue = e.queue[1:]
		if e.metrics != nil {
			e.metrics.EventsDropped.WithLabelValues("queue_full").Inc()
		}
		if e.log != nil {
			e.log.WithField("event_type", ev.EventType).Warn("emitter queue full, dropped oldest event")
		}
	}
	e.queue = append(e.queue, ev)
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// EmitBatch enqueues multiple events via repeated Emit calls.
func (e *Emitter) EmitBatch(evs []SecurityEvent) {
	for _, ev := range evs {
		e.Emit(ev)
	}
}

// QueueDepth reports the current number of queued, undrained events.
func (e *Emitter) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Emitter) drainLoop() {
	defer close(e.doneCh)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			e.drainOnce(context.Background())
			return
		case <-e.notify:
			e.drainOnce(context.Background())
		case <-ticker.C:
			e.drainOnce(context.Background())
		}
	}
}

func (e *Emitter) drainOnce(ctx context.Context) {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	batch := e.queue
	e.queue = nil
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.QueueDepth.WithLabelValues("emitter").Set(0)
	}

	byLabelKey := make(map[string][]SecurityEvent)
	order := make([]string, 0, len(batch))
	for _, ev := range batch {
		key := labelKey(ev.Labels(e.component))
		if _, ok := byLabelKey[key]; !ok {
			order = append(order, key)
		}
		byLabelKey[key] = append(byLabelKey[key], ev)
	}

	for _, key := range order {
		evs := byLabelKey[key]
		labels := evs[0].Labels(e.component)
		lines := make([][]byte, 0, len(evs))
		for _, ev := range evs {
			line, err := ev.MarshalLine()
			if err != nil {
				continue
			}
			lines = append(lines, line)
			if e.metrics != nil {
				e.metrics.EventsEmitted.WithLabelValues(ev.EventType).Inc()
			}
		}
		if err := e.pusher.Push(ctx, labels, lines); err != nil && e.log != nil {
			e.log.WithError(err).Warn("failed to push event batch to log store")
		}
	}
}

func labelKey(labels map[string]string) string {
	// Stable enough for grouping purposes: event_type, severity, component,
	// and device_id are the only varying label fields.
	return labels["event_type"] + "|" + labels["severity"] + "|" + labels["component"] + "|" + labels["device_id"]
}

// Close stops the drain goroutine after flushing any queued events.
func (e *Emitter) Close() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		<-e.doneCh
	})
}
