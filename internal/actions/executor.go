// Package actions implements the SOAR action executors (block-domain,
// tag-device, send-notification, simulate-only) and the runner that
// invokes a triggered playbook's resolved actions, honoring the global
// dry-run override and per-action critical abort semantics. Executors are
// registered in a dispatch table at startup.
package actions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/orion-sentinel/netsec/internal/device"
	"github.com/orion-sentinel/netsec/internal/event"
	"github.com/orion-sentinel/netsec/internal/notify"
	"github.com/orion-sentinel/netsec/internal/platform/logging"
	"github.com/orion-sentinel/netsec/internal/playbook"
)

// Well-known action kinds.
const (
	KindBlockDomain      = "block-domain"
	KindTagDevice        = "tag-device"
	KindSendNotification = "send-notification"
	KindSimulateOnly     = "simulate-only"
)

// Receipt is the outcome of one action invocation.
type Receipt struct {
	Success   bool   `json:"success"`
	Details   string `json:"details,omitempty"`
	RetryHint bool   `json:"retry_hint,omitempty"`
}

// Executor is a side-effect primitive. Execute must never panic for
// ordinary failures: a failed side effect is reported via
// Receipt.Success=false so it surfaces as a soar_action receipt instead of
// tearing down the run.
type Executor interface {
	Kind() string
	Validate(parameters map[string]string) error
	Execute(ctx context.Context, parameters map[string]string, dryRun bool) (Receipt, error)
}

// Registry maps action kind to its Executor.
type Registry map[string]Executor

// NewRegistry builds the default dispatch table from live dependencies. Any
// nil dependency simply omits that executor from the table; the runner
// treats an unregistered kind as a failed receipt rather than a panic.
func NewRegistry(dnsSink *DNSSinkClient, devices *device.Store, dispatcher *notify.Dispatcher) Registry {
	r := Registry{KindSimulateOnly: &simulateOnlyExecutor{}}
	if dnsSink != nil {
		r[KindBlockDomain] = &blockDomainExecutor{client: dnsSink}
	}
	if devices != nil {
		r[KindTagDevice] = &tagDeviceExecutor{store: devices}
	}
	if dispatcher != nil {
		r[KindSendNotification] = &sendNotificationExecutor{dispatcher: dispatcher}
	}
	return r
}

// defaultActionConcurrency bounds concurrently-running playbooks when the
// caller does not override it with SetConcurrency.
const defaultActionConcurrency = 8

// Runner invokes a triggered playbook's resolved actions and emits a
// soar_action event per execution.
type Runner struct {
	registry     Registry
	globalDryRun bool
	emitter      *event.Emitter
	log          *logging.Logger
	sem          chan struct{}
}

// NewRunner constructs a Runner with the default bounded-concurrency action
// pool of 8 concurrent playbook runs.
func NewRunner(registry Registry, globalDryRun bool, emitter *event.Emitter, log *logging.Logger) *Runner {
	return &Runner{
		registry:     registry,
		globalDryRun: globalDryRun,
		emitter:      emitter,
		log:          log,
		sem:          make(chan struct{}, defaultActionConcurrency),
	}
}

// SetConcurrency resizes the bounded action-execution pool. n <= 0 leaves
// the existing pool untouched.
func (r *Runner) SetConcurrency(n int) {
	if n <= 0 {
		return
	}
	r.sem = make(chan struct{}, n)
}

// ActionOutcome pairs one resolved action with its receipt.
type ActionOutcome struct {
	Kind    string
	Receipt Receipt
}

// RunPlaybook executes one triggered playbook's actions sequentially in
// declared order. A non-critical failure does not stop the remaining
// actions; a critical failure aborts the rest.
func (r *Runner) RunPlaybook(ctx context.Context, t playbook.Triggered) []ActionOutcome {
	dryRun := r.globalDryRun || t.Playbook.DryRun

	outcomes := make([]ActionOutcome, 0, len(t.Actions))
	for _, action := range t.Actions {
		receipt := r.invoke(ctx, t.Playbook.ID, action, dryRun)
		outcomes = append(outcomes, ActionOutcome{Kind: action.Spec.Kind, Receipt: receipt})
		if !receipt.Success && action.Spec.Critical {
			break
		}
	}
	return outcomes
}

// RunAll executes every triggered playbook's actions concurrently across
// playbooks; each playbook is its own unit of serialization.
func (r *Runner) RunAll(ctx context.Context, triggered []playbook.Triggered) [][]ActionOutcome {
	results := make([][]ActionOutcome, len(triggered))
	var wg sync.WaitGroup
	for i, t := range triggered {
		i, t := i, t
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.sem <- struct{}{}
			defer func() { <-r.sem }()
			results[i] = r.RunPlaybook(ctx, t)
		}()
	}
	wg.Wait()
	return results
}

func (r *Runner) invoke(ctx context.Context, playbookID string, action playbook.ResolvedAction, dryRun bool) Receipt {
	start := time.Now()

	executor, ok := r.registry[action.Spec.Kind]
	if !ok {
		receipt := Receipt{Success: false, Details: fmt.Sprintf("no executor registered for kind %q", action.Spec.Kind)}
		r.emitSOAR(playbookID, action.Spec.Kind, action.Parameters, receipt, dryRun, time.Since(start))
		return receipt
	}

	if err := executor.Validate(action.Parameters); err != nil {
		receipt := Receipt{Success: false, Details: "invalid parameters: " + err.Error()}
		r.emitSOAR(playbookID, action.Spec.Kind, action.Parameters, receipt, dryRun, time.Since(start))
		return receipt
	}

	receipt, err := executor.Execute(ctx, action.Parameters, dryRun)
	if err != nil {
		receipt = Receipt{Success: false, Details: err.Error()}
	}
	r.emitSOAR(playbookID, action.Spec.Kind, action.Parameters, receipt, dryRun, time.Since(start))
	return receipt
}

func (r *Runner) emitSOAR(playbookID, kind string, parameters map[string]string, receipt Receipt, dryRun bool, elapsed time.Duration) {
	if r.emitter == nil {
		return
	}
	severity := event.SeverityInfo
	if !receipt.Success {
		severity = event.SeverityMedium
	}
	r.emitter.Emit(event.SecurityEvent{
		EventType:   event.TypeSOARAction,
		Severity:    severity,
		Title:       fmt.Sprintf("SOAR action %s for playbook %s", kind, playbookID),
		Description: receipt.Details,
		Metadata: map[string]interface{}{
			"playbook_id":       playbookID,
			"action_kind":       kind,
			"parameters_digest": digestParameters(parameters),
			"success":           receipt.Success,
			"dry_run":           dryRun,
			"duration_ms":       elapsed.Milliseconds(),
			"receipt":           receipt,
		},
	})
}

func digestParameters(parameters map[string]string) string {
	keys := make([]string, 0, len(parameters))
	for k := range parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]string, len(parameters))
	for _, k := range keys {
		ordered[k] = parameters[k]
	}
	data, _ := json.Marshal(ordered)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
