package event

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type recordingPusher struct {
	mu    sync.Mutex
	lines [][]byte
}

func (r *recordingPusher) Push(_ context.Context, _ map[string]string, lines [][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, lines...)
	return nil
}

func (r *recordingPusher) events(t *testing.T) []SecurityEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SecurityEvent, 0, len(r.lines))
	for _, l := range r.lines {
		var ev SecurityEvent
		if err := json.Unmarshal(l, &ev); err != nil {
			t.Fatalf("unmarshal emitted event: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func drain(t *testing.T, p *recordingPusher, e *Emitter, want int) []SecurityEvent {
	t.Helper()
	e.Close()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(p.events(t)) >= want {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	return p.events(t)
}

func TestHealthTrackerEscalatesAndRecovers(t *testing.T) {
	p := &recordingPusher{}
	e := NewEmitter(p, EmitterConfig{Component: "test", QueueSize: 16}, nil, nil)
	h := NewHealthTracker("soar", e)

	h.ReportFailure("query timed out")
	h.ReportFailure("query timed out")
	h.ReportFailure("query timed out")
	h.ReportSuccess()

	events := drain(t, p, e, 4)
	if len(events) != 4 {
		t.Fatalf("expected 4 health_status events, got %d", len(events))
	}

	wantStates := []string{"degraded", "degraded", "down", "healthy"}
	for i, want := range wantStates {
		if events[i].EventType != TypeHealthStatus {
			t.Fatalf("event %d: expected health_status, got %s", i, events[i].EventType)
		}
		got, _ := events[i].Metadata["health_status"].(string)
		if got != want {
			t.Fatalf("event %d: expected state %s, got %s", i, want, got)
		}
		if events[i].Component != "soar" {
			t.Fatalf("event %d: expected component soar, got %s", i, events[i].Component)
		}
	}
}

func TestHealthTrackerSilentWhileHealthy(t *testing.T) {
	p := &recordingPusher{}
	e := NewEmitter(p, EmitterConfig{Component: "test", QueueSize: 16}, nil, nil)
	h := NewHealthTracker("inventory-collector", e)

	h.ReportSuccess()
	h.ReportSuccess()

	e.Close()
	if got := len(p.events(t)); got != 0 {
		t.Fatalf("expected no events from a healthy service, got %d", got)
	}
}
