package actions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orion-sentinel/netsec/internal/device"
	"github.com/orion-sentinel/netsec/internal/event"
	"github.com/orion-sentinel/netsec/internal/playbook"
)

type capturingPusher struct {
	mu    sync.Mutex
	lines [][]byte
}

func (c *capturingPusher) Push(_ context.Context, _ map[string]string, lines [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, lines...)
	return nil
}

func (c *capturingPusher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func triggeredBlockDomain(domain string, dryRun bool) playbook.Triggered {
	return playbook.Triggered{
		Playbook: playbook.Playbook{ID: "block-high-confidence", DryRun: dryRun},
		Actions: []playbook.ResolvedAction{
			{
				Spec:       playbook.ActionSpec{Kind: KindBlockDomain},
				Parameters: map[string]string{"domain": domain, "reason": "TI"},
			},
		},
	}
}

// TestBlockDomainLiveSendsExactlyOnePOST: a live (non-dry-run)
// block-domain playbook causes exactly one POST to the DNS-sink add
// endpoint and a successful soar_action event.
func TestBlockDomainLiveSendsExactlyOnePOST(t *testing.T) {
	var postCount int32
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&postCount, 1)
		r.ParseForm()
		gotForm = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dnsSink := NewDNSSinkClient(srv.URL, "secret-token", time.Second, nil)
	registry := NewRegistry(dnsSink, nil, nil)

	pusher := &capturingPusher{}
	emitter := event.NewEmitter(pusher, event.EmitterConfig{Component: "actions", QueueSize: 16}, nil, nil)
	defer emitter.Close()

	runner := NewRunner(registry, false, emitter, nil)
	outcomes := runner.RunPlaybook(context.Background(), triggeredBlockDomain("evil.example.com", false))

	if atomic.LoadInt32(&postCount) != 1 {
		t.Fatalf("expected exactly 1 POST, got %d", postCount)
	}
	if gotForm.Get("add") != "evil.example.com" {
		t.Fatalf("expected add=evil.example.com, got %q", gotForm.Get("add"))
	}
	if len(outcomes) != 1 || !outcomes[0].Receipt.Success {
		t.Fatalf("expected a successful receipt, got %+v", outcomes)
	}

	emitter.Close()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && pusher.count() < 1 {
		time.Sleep(10 * time.Millisecond)
	}
	if pusher.count() != 1 {
		t.Fatalf("expected exactly 1 soar_action event, got %d", pusher.count())
	}
}

// TestBlockDomainDryRunSendsNoPOST: with the global dry-run switch on,
// zero POSTs are observed and exactly one soar_action event with
// dry_run=true is emitted.
func TestBlockDomainDryRunSendsNoPOST(t *testing.T) {
	var postCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&postCount, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dnsSink := NewDNSSinkClient(srv.URL, "secret-token", time.Second, nil)
	registry := NewRegistry(dnsSink, nil, nil)

	pusher := &capturingPusher{}
	emitter := event.NewEmitter(pusher, event.EmitterConfig{Component: "actions", QueueSize: 16}, nil, nil)
	defer emitter.Close()

	runner := NewRunner(registry, true, emitter, nil) // global dry-run on
	outcomes := runner.RunPlaybook(context.Background(), triggeredBlockDomain("evil.example.com", false))

	if atomic.LoadInt32(&postCount) != 0 {
		t.Fatalf("expected zero POSTs under global dry-run, got %d", postCount)
	}
	if len(outcomes) != 1 || !outcomes[0].Receipt.Success {
		t.Fatalf("expected a successful synthetic receipt, got %+v", outcomes)
	}

	emitter.Close()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && pusher.count() < 1 {
		time.Sleep(10 * time.Millisecond)
	}
	if pusher.count() != 1 {
		t.Fatalf("expected exactly 1 soar_action event, got %d", pusher.count())
	}
}

func TestCriticalActionAbortsRemaining(t *testing.T) {
	registry := Registry{
		KindSimulateOnly: &simulateOnlyExecutor{},
	}
	runner := NewRunner(registry, false, nil, nil)

	t_ := playbook.Triggered{
		Playbook: playbook.Playbook{ID: "abort-test"},
		Actions: []playbook.ResolvedAction{
			{Spec: playbook.ActionSpec{Kind: "unregistered-kind", Critical: true}, Parameters: map[string]string{}},
			{Spec: playbook.ActionSpec{Kind: KindSimulateOnly}, Parameters: map[string]string{}},
		},
	}

	outcomes := runner.RunPlaybook(context.Background(), t_)
	if len(outcomes) != 1 {
		t.Fatalf("expected execution to abort after the critical failure, got %d outcomes", len(outcomes))
	}
	if outcomes[0].Receipt.Success {
		t.Fatal("expected the first outcome to be a failure")
	}
}

func TestNonCriticalFailureContinues(t *testing.T) {
	registry := Registry{
		KindSimulateOnly: &simulateOnlyExecutor{},
	}
	runner := NewRunner(registry, false, nil, nil)

	t_ := playbook.Triggered{
		Playbook: playbook.Playbook{ID: "continue-test"},
		Actions: []playbook.ResolvedAction{
			{Spec: playbook.ActionSpec{Kind: "unregistered-kind", Critical: false}, Parameters: map[string]string{}},
			{Spec: playbook.ActionSpec{Kind: KindSimulateOnly}, Parameters: map[string]string{}},
		},
	}

	outcomes := runner.RunPlaybook(context.Background(), t_)
	if len(outcomes) != 2 {
		t.Fatalf("expected both actions to run, got %d outcomes", len(outcomes))
	}
	if !outcomes[1].Receipt.Success {
		t.Fatal("expected the second action to succeed")
	}
}

func TestTagDeviceExecutorAddsTag(t *testing.T) {
	store, err := device.Open(t.TempDir() + "/devices.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, _, err := store.UpsertFromObservation("192.168.1.50", "", "laptop-1", time.Now()); err != nil {
		t.Fatal(err)
	}
	id := device.Identifier("", "192.168.1.50")

	registry := NewRegistry(nil, store, nil)
	runner := NewRunner(registry, false, nil, nil)

	triggered := playbook.Triggered{
		Playbook: playbook.Playbook{ID: "tag-test"},
		Actions: []playbook.ResolvedAction{
			{Spec: playbook.ActionSpec{Kind: KindTagDevice}, Parameters: map[string]string{"device_id": id, "tag": "reviewed"}},
		},
	}

	outcomes := runner.RunPlaybook(context.Background(), triggered)
	if !outcomes[0].Receipt.Success {
		t.Fatalf("expected success, got %+v", outcomes[0])
	}

	got, err := store.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if !got.HasTag("reviewed") {
		t.Fatal("expected device to carry the reviewed tag")
	}
}
