package playbook

import (
	"testing"
	"time"

	"github.com/orion-sentinel/netsec/internal/event"
)

func intelMatchEvent(domain string, confidence float64) event.SecurityEvent {
	return event.SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: event.TypeIntelMatch,
		Severity:  event.SeverityHigh,
		Title:     "Threat-intel match: " + domain,
		Domain:    domain,
		RiskScore: &confidence,
		DeviceID:  "mac:aa:bb:cc:dd:ee:ff",
	}
}

func blockDomainDoc(dryRun bool) []Playbook {
	pbs, err := Parse([]byte(`
playbooks:
  - id: block-high-confidence-domain
    name: Block high confidence malicious domain
    enabled: true
    priority: 10
    dry_run: `+boolString(dryRun)+`
    trigger: intel_match
    conditions:
      - path: risk_score
        op: ">="
        value: 0.9
    actions:
      - kind: block_domain
        parameters:
          domain: "{{event.domain}}"
`), false)
	if err != nil {
		panic(err)
	}
	return pbs
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// TestBlockDomainMatchesHighConfidence implements the "live block-domain
// playbook" scenario: an intel_match event with risk_score 0.9 triggers the
// playbook, while one with 0.85 does not.
func TestBlockDomainMatchesHighConfidence(t *testing.T) {
	e := New(nil)
	e.Reload(blockDomainDoc(false))

	triggered, err := e.Evaluate(intelMatchEvent("evil.example.com", 0.9))
	if err != nil {
		t.Fatal(err)
	}
	if len(triggered) != 1 {
		t.Fatalf("expected 1 triggered playbook for confidence 0.9, got %d", len(triggered))
	}
	if got := triggered[0].Actions[0].Parameters["domain"]; got != "evil.example.com" {
		t.Fatalf("expected resolved domain template, got %q", got)
	}

	triggered, err = e.Evaluate(intelMatchEvent("maybe.example.com", 0.85))
	if err != nil {
		t.Fatal(err)
	}
	if len(triggered) != 0 {
		t.Fatalf("expected 0 triggered playbooks for confidence 0.85, got %d", len(triggered))
	}
}

// TestGlobalDryRunIsCallerResponsibility confirms the engine surfaces each
// matched playbook's own dry_run flag unchanged; the global dry-run override
// is applied by the action executor layer, not here.
func TestGlobalDryRunIsCallerResponsibility(t *testing.T) {
	e := New(nil)
	e.Reload(blockDomainDoc(true))

	triggered, err := e.Evaluate(intelMatchEvent("evil.example.com", 0.95))
	if err != nil {
		t.Fatal(err)
	}
	if len(triggered) != 1 {
		t.Fatalf("expected 1 triggered playbook, got %d", len(triggered))
	}
	if !triggered[0].Playbook.DryRun {
		t.Fatal("expected playbook dry_run flag to be preserved")
	}
}

func TestMissingPathSentinelSemantics(t *testing.T) {
	pbs, err := Parse([]byte(`
playbooks:
  - id: notify-on-missing-field
    name: Notify when a field is absent
    enabled: true
    priority: 1
    trigger: device_anomaly
    conditions:
      - path: metadata.nonexistent
        op: "!="
        value: "anything"
    actions:
      - kind: send_notification
        parameters:
          message: fallback
`), false)
	if err != nil {
		t.Fatal(err)
	}

	e := New(nil)
	e.Reload(pbs)

	triggered, err := e.Evaluate(event.SecurityEvent{EventType: "device_anomaly", Severity: event.SeverityMedium})
	if err != nil {
		t.Fatal(err)
	}
	if len(triggered) != 1 {
		t.Fatalf("expected missing-path != comparison to evaluate true, got %d matches", len(triggered))
	}
}

func TestMissingPathFailsNumericComparison(t *testing.T) {
	pbs, err := Parse([]byte(`
playbooks:
  - id: requires-risk-score
    name: Requires a present numeric field
    enabled: true
    priority: 1
    trigger: device_anomaly
    conditions:
      - path: risk_score
        op: ">="
        value: 0.5
    actions:
      - kind: send_notification
        parameters:
          message: fallback
`), false)
	if err != nil {
		t.Fatal(err)
	}

	e := New(nil)
	e.Reload(pbs)

	triggered, err := e.Evaluate(event.SecurityEvent{EventType: "device_anomaly", Severity: event.SeverityMedium})
	if err != nil {
		t.Fatal(err)
	}
	if len(triggered) != 0 {
		t.Fatalf("expected missing numeric field to evaluate false, got %d matches", len(triggered))
	}
}

func TestPriorityThenIDOrdering(t *testing.T) {
	pbs, err := Parse([]byte(`
playbooks:
  - id: zzz-low
    name: Low priority
    enabled: true
    priority: 1
    trigger: new_device
    actions: []
  - id: aaa-high
    name: High priority
    enabled: true
    priority: 10
    trigger: new_device
    actions: []
  - id: aaa-tied
    name: Tied priority, lower id
    enabled: true
    priority: 5
    trigger: new_device
    actions: []
  - id: bbb-tied
    name: Tied priority, higher id
    enabled: true
    priority: 5
    trigger: new_device
    actions: []
`), false)
	if err != nil {
		t.Fatal(err)
	}

	e := New(nil)
	e.Reload(pbs)

	triggered, err := e.Evaluate(event.SecurityEvent{EventType: "new_device", Severity: event.SeverityInfo})
	if err != nil {
		t.Fatal(err)
	}
	if len(triggered) != 4 {
		t.Fatalf("expected all 4 enabled playbooks to match, got %d", len(triggered))
	}
	want := []string{"aaa-high", "aaa-tied", "bbb-tied", "zzz-low"}
	for i, id := range want {
		if triggered[i].Playbook.ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, triggered[i].Playbook.ID)
		}
	}
}

func TestDisabledPlaybookNeverMatches(t *testing.T) {
	pbs, err := Parse([]byte(`
playbooks:
  - id: disabled-one
    name: Disabled
    enabled: false
    priority: 100
    trigger: new_device
    actions: []
`), false)
	if err != nil {
		t.Fatal(err)
	}

	e := New(nil)
	e.Reload(pbs)

	triggered, err := e.Evaluate(event.SecurityEvent{EventType: "new_device", Severity: event.SeverityInfo})
	if err != nil {
		t.Fatal(err)
	}
	if len(triggered) != 0 {
		t.Fatalf("expected disabled playbook never to match, got %d", len(triggered))
	}
}

func TestEvaluationIsDeterministic(t *testing.T) {
	e := New(nil)
	e.Reload(blockDomainDoc(false))
	ev := intelMatchEvent("evil.example.com", 0.92)

	first, err := e.Evaluate(ev)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Evaluate(ev)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) || first[0].Playbook.ID != second[0].Playbook.ID {
		t.Fatal("expected repeated evaluation of the same event to be identical")
	}
}
