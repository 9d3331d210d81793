package event

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakePusher struct {
	mu    sync.Mutex
	lines [][]byte
}

func (f *fakePusher) Push(_ context.Context, _ map[string]string, lines [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, lines...)
	return nil
}

func (f *fakePusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lines)
}

func TestEmitterDeliversEvent(t *testing.T) {
	p := &fakePusher{}
	e := NewEmitter(p, EmitterConfig{Component: "test", QueueSize: 8}, nil, nil)
	defer e.Close()

	e.Emit(SecurityEvent{EventType: TypeNewDevice, Severity: SeverityInfo, Title: "new device"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.count() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("event was not delivered, got %d lines", p.count())
}

func TestEmitterDropsOldestOnOverflow(t *testing.T) {
	p := &fakePusher{}
	e := NewEmitter(p, EmitterConfig{Component: "test", QueueSize: 2}, nil, nil)
	defer e.Close()

	e.mu.Lock()
	e.queue = append(e.queue, SecurityEvent{EventType: "a"}, SecurityEvent{EventType: "b"})
	e.mu.Unlock()

	e.Emit(SecurityEvent{EventType: "c"})

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) != 2 {
		t.Fatalf("expected queue capped at 2, got %d", len(e.queue))
	}
	if e.queue[0].EventType != "b" || e.queue[1].EventType != "c" {
		t.Fatalf("expected oldest dropped, got %+v", e.queue)
	}
}
