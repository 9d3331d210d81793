// Package playbook implements the playbook engine: parsing declarative
// YAML playbooks, evaluating conditions against events via gjson
// field-path addressing, and resolving `{{event.<path>}}` action-parameter
// templates.
package playbook

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/orion-sentinel/netsec/internal/platform/errs"
)

// Operator enumerates condition comparison operators.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpIn           Operator = "in"
	OpContains     Operator = "contains"
)

// Condition is one clause of a playbook's trigger, evaluated in declaration
// order.
type Condition struct {
	Path   string      `yaml:"path" json:"path" validate:"required"`
	Op     Operator    `yaml:"op" json:"op" validate:"required"`
	Value  interface{} `yaml:"value" json:"value"`
	Negate bool        `yaml:"negate,omitempty" json:"negate,omitempty"`
}

// ActionSpec is one declared action within a matching playbook.
type ActionSpec struct {
	Kind       string            `yaml:"kind" json:"kind" validate:"required"`
	Parameters map[string]string `yaml:"parameters" json:"parameters"`
	Critical   bool              `yaml:"critical,omitempty" json:"critical,omitempty"`
}

// Playbook is one declarative event-action rule.
type Playbook struct {
	ID          string       `yaml:"id" json:"id" validate:"required"`
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description" json:"description"`
	Enabled     bool         `yaml:"enabled" json:"enabled"`
	Priority    int          `yaml:"priority" json:"priority"`
	DryRun      bool         `yaml:"dry_run" json:"dry_run"`
	Trigger     string       `yaml:"trigger" json:"trigger" validate:"required"`
	Conditions  []Condition  `yaml:"conditions" json:"conditions" validate:"dive"`
	Actions     []ActionSpec `yaml:"actions" json:"actions" validate:"dive"`
}

// document is the top-level playbooks-file shape.
type document struct {
	Playbooks []Playbook `yaml:"playbooks"`
}

var validate = validator.New()

// Load parses a playbooks file at path. If the file is empty or contains no
// playbooks, an error is returned unless allowEmpty is set.
func Load(path string, allowEmpty bool) ([]Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap("read playbooks file", err)
	}
	return Parse(data, allowEmpty)
}

// Parse parses raw YAML playbook document bytes and validates uniqueness of
// identifiers.
func Parse(data []byte, allowEmpty bool) ([]Playbook, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse playbooks document: %v", errs.ErrInvalid, err)
	}

	if len(doc.Playbooks) == 0 && !allowEmpty {
		return nil, fmt.Errorf("%w: playbooks document has no entries and allow_empty is not set", errs.ErrInvalid)
	}

	seen := make(map[string]struct{}, len(doc.Playbooks))
	for _, p := range doc.Playbooks {
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: playbook %q: %v", errs.ErrInvalid, p.ID, err)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate playbook id %q", errs.ErrInvalid, p.ID)
		}
		seen[p.ID] = struct{}{}
	}

	sort.SliceStable(doc.Playbooks, func(i, j int) bool {
		if doc.Playbooks[i].Priority != doc.Playbooks[j].Priority {
			return doc.Playbooks[i].Priority > doc.Playbooks[j].Priority
		}
		return doc.Playbooks[i].ID < doc.Playbooks[j].ID
	})

	return doc.Playbooks, nil
}
