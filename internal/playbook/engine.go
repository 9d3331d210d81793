package playbook

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/tidwall/gjson"

	"github.com/orion-sentinel/netsec/internal/event"
	"github.com/orion-sentinel/netsec/internal/platform/logging"
)

// ResolvedAction is one action with its templated parameters substituted
// against the triggering event.
type ResolvedAction struct {
	Spec       ActionSpec
	Parameters map[string]string
}

// Triggered pairs a matching playbook with its resolved actions.
type Triggered struct {
	Playbook Playbook
	Actions  []ResolvedAction
}

// Engine evaluates events against a loaded, copy-on-reload playbook set.
// Readers hold a reference to the set, so a reload never invalidates an
// in-flight evaluation.
type Engine struct {
	playbooks atomic.Pointer[[]Playbook]
	log       *logging.Logger
}

// New constructs an Engine with an initially empty playbook set.
func New(log *logging.Logger) *Engine {
	e := &Engine{log: log}
	empty := []Playbook{}
	e.playbooks.Store(&empty)
	return e
}

// Reload atomically replaces the active playbook set. Parsing happens
// before this call (see Load/Parse); Reload only swaps the pointer, so a
// parse failure never affects the currently active set.
func (e *Engine) Reload(playbooks []Playbook) {
	cp := append([]Playbook(nil), playbooks...)
	e.playbooks.Store(&cp)
}

// Playbooks returns the currently active playbook set.
func (e *Engine) Playbooks() []Playbook {
	return *e.playbooks.Load()
}

// Evaluate selects enabled candidates matching the event's type, evaluates
// conditions in declaration order with short-circuit, sorts matches by
// priority desc/id asc, then resolves action parameters. Evaluation is a
// pure function of (event, active playbook set): replaying the same input
// yields the same ordered result.
func (e *Engine) Evaluate(ev event.SecurityEvent) ([]Triggered, error) {
	eventJSON, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event for evaluation: %w", err)
	}

	playbooks := e.Playbooks()
	var matched []Playbook
	for _, p := range playbooks {
		if !p.Enabled || p.Trigger != ev.EventType {
			continue
		}
		if evaluateConditions(eventJSON, p.Conditions) {
			matched = append(matched, p)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].ID < matched[j].ID
	})

	out := make([]Triggered, 0, len(matched))
	for _, p := range matched {
		out = append(out, Triggered{
			Playbook: p,
			Actions:  resolveActions(p.Actions, eventJSON, e.log),
		})
	}
	return out, nil
}

// evaluateConditions evaluates every condition in declaration order,
// short-circuiting on the first false (logical AND).
func evaluateConditions(eventJSON []byte, conditions []Condition) bool {
	for _, cond := range conditions {
		if !evaluateCondition(eventJSON, cond) {
			return false
		}
	}
	return true
}

func evaluateCondition(eventJSON []byte, cond Condition) bool {
	result := gjson.GetBytes(eventJSON, cond.Path)
	exists := result.Exists()

	var raw bool
	switch cond.Op {
	case OpEqual:
		raw = exists && valuesEqual(result, cond.Value)
	case OpNotEqual:
		raw = !exists || !valuesEqual(result, cond.Value)
	case OpGreaterEqual:
		raw = exists && result.Float() >= toFloat(cond.Value)
	case OpLessEqual:
		raw = exists && result.Float() <= toFloat(cond.Value)
	case OpGreater:
		raw = exists && result.Float() > toFloat(cond.Value)
	case OpLess:
		raw = exists && result.Float() < toFloat(cond.Value)
	case OpIn:
		raw = exists && valueIn(result, cond.Value)
	case OpContains:
		raw = exists && valueContains(result, cond.Value)
	default:
		raw = false
	}

	if cond.Negate {
		raw = !raw
	}
	return raw
}

// valuesEqual compares a gjson.Result against an arbitrary YAML/JSON scalar
// by underlying Go value, tolerant of int/float mismatches from YAML
// unmarshaling.
func valuesEqual(result gjson.Result, value interface{}) bool {
	switch v := value.(type) {
	case string:
		return result.String() == v && result.Type == gjson.String
	case bool:
		return (v && result.Type == gjson.True) || (!v && result.Type == gjson.False)
	case int:
		return result.Type == gjson.Number && result.Float() == float64(v)
	case int64:
		return result.Type == gjson.Number && result.Float() == float64(v)
	case float64:
		return result.Type == gjson.Number && result.Float() == v
	default:
		return fmt.Sprintf("%v", result.Value()) == fmt.Sprintf("%v", value)
	}
}

func toFloat(value interface{}) float64 {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		var f float64
		fmt.Sscanf(fmt.Sprintf("%v", v), "%g", &f)
		return f
	}
}

func valueIn(result gjson.Result, value interface{}) bool {
	list, ok := value.([]interface{})
	if !ok {
		return false
	}
	for _, item := range list {
		if valuesEqual(result, item) {
			return true
		}
	}
	return false
}

func valueContains(result gjson.Result, value interface{}) bool {
	if result.IsArray() {
		found := false
		result.ForEach(func(_, item gjson.Result) bool {
			if valuesEqual(item, value) {
				found = true
				return false
			}
			return true
		})
		return found
	}
	if s, ok := value.(string); ok {
		return result.String() != "" && strings.Contains(result.String(), s)
	}
	return false
}

var templateRe = regexp.MustCompile(`\{\{event\.([a-zA-Z0-9_.\[\]]+)\}\}`)

// resolveActions substitutes `{{event.<path>}}` templates in every action's
// parameters. Unresolved templates (missing path) become the literal empty
// string and are logged.
func resolveActions(actions []ActionSpec, eventJSON []byte, log *logging.Logger) []ResolvedAction {
	out := make([]ResolvedAction, 0, len(actions))
	for _, a := range actions {
		resolved := make(map[string]string, len(a.Parameters))
		for k, v := range a.Parameters {
			resolved[k] = resolveTemplate(v, eventJSON, log)
		}
		out = append(out, ResolvedAction{Spec: a, Parameters: resolved})
	}
	return out
}

func resolveTemplate(template string, eventJSON []byte, log *logging.Logger) string {
	return templateRe.ReplaceAllStringFunc(template, func(match string) string {
		sub := templateRe.FindStringSubmatch(match)
		if len(sub) != 2 {
			return ""
		}
		path := sub[1]
		result := gjson.GetBytes(eventJSON, path)
		if !result.Exists() {
			if log != nil {
				log.WithField("path", path).Warn("unresolved action parameter template")
			}
			return ""
		}
		return result.String()
	})
}
