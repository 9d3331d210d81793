package event

import (
	"fmt"
	"sync"
)

// HealthState is the status carried by a health_status event: every
// significant service error surfaces as a health_status event with
// component=<service> and one of these three states.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthDown     HealthState = "down"
)

// consecutiveDownThreshold is the number of back-to-back tick failures a
// service must accumulate before it is reported down rather than merely
// degraded.
const consecutiveDownThreshold = 3

// HealthTracker turns a periodic service's tick outcomes into health_status
// events, escalating degraded -> down on repeated failure and emitting a
// single healthy transition when a service recovers. A successful tick
// emits nothing unless it follows a failure, so a healthy service produces
// no event traffic.
type HealthTracker struct {
	component string
	emitter   *Emitter

	mu          sync.Mutex
	failures    int
	lastState   HealthState
	everEmitted bool
}

// NewHealthTracker constructs a HealthTracker for component. emitter may be
// nil, in which case reports are no-ops (used by tests that don't care about
// health reporting).
func NewHealthTracker(component string, emitter *Emitter) *HealthTracker {
	return &HealthTracker{component: component, emitter: emitter}
}

// ReportSuccess records a successful tick. It emits a healthy transition
// event only if the service was previously degraded or down.
func (h *HealthTracker) ReportSuccess() {
	h.mu.Lock()
	wasUnhealthy := h.failures > 0
	h.failures = 0
	h.mu.Unlock()

	if wasUnhealthy {
		h.emit(HealthHealthy, "")
	}
}

// ReportFailure records a failed tick and emits a degraded or down
// health_status event, escalating after consecutiveDownThreshold
// back-to-back failures.
func (h *HealthTracker) ReportFailure(reason string) {
	h.mu.Lock()
	h.failures++
	state := HealthDegraded
	if h.failures >= consecutiveDownThreshold {
		state = HealthDown
	}
	h.mu.Unlock()

	h.emit(state, reason)
}

func (h *HealthTracker) emit(state HealthState, reason string) {
	if h.emitter == nil {
		return
	}

	h.mu.Lock()
	h.lastState = state
	h.everEmitted = true
	h.mu.Unlock()

	severity := SeverityInfo
	switch state {
	case HealthDegraded:
		severity = SeverityMedium
	case HealthDown:
		severity = SeverityHigh
	}

	description := fmt.Sprintf("%s is %s", h.component, state)
	if reason != "" {
		description = fmt.Sprintf("%s: %s", description, reason)
	}

	h.emitter.Emit(SecurityEvent{
		EventType:   TypeHealthStatus,
		Severity:    severity,
		Title:       fmt.Sprintf("%s health: %s", h.component, state),
		Description: description,
		Component:   h.component,
		Reasons:     reasonsFor(reason),
		Metadata: map[string]interface{}{
			"component":     h.component,
			"health_status": string(state),
		},
	})
}

func reasonsFor(reason string) []string {
	if reason == "" {
		return nil
	}
	return []string{reason}
}
