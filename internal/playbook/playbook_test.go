package playbook

import (
	"errors"
	"testing"

	"github.com/orion-sentinel/netsec/internal/platform/errs"
)

func TestParseRejectsEmptyDocumentUnlessAllowed(t *testing.T) {
	if _, err := Parse([]byte("playbooks: []"), false); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("expected invalid error for empty document, got %v", err)
	}
	pbs, err := Parse([]byte("playbooks: []"), true)
	if err != nil {
		t.Fatalf("expected empty document to be allowed, got %v", err)
	}
	if len(pbs) != 0 {
		t.Fatalf("expected no playbooks, got %d", len(pbs))
	}
}

func TestParseRejectsMissingRequiredFields(t *testing.T) {
	cases := map[string]string{
		"missing id": `
playbooks:
  - name: no id
    enabled: true
    trigger: new_device
    actions: []
`,
		"missing trigger": `
playbooks:
  - id: no-trigger
    enabled: true
    actions: []
`,
		"condition without path": `
playbooks:
  - id: bad-condition
    enabled: true
    trigger: new_device
    conditions:
      - op: "=="
        value: x
    actions: []
`,
		"action without kind": `
playbooks:
  - id: bad-action
    enabled: true
    trigger: new_device
    actions:
      - parameters: {}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc), false); !errors.Is(err, errs.ErrInvalid) {
				t.Fatalf("expected invalid error, got %v", err)
			}
		})
	}
}

func TestParseRejectsDuplicateIDs(t *testing.T) {
	doc := `
playbooks:
  - id: dup
    enabled: true
    trigger: new_device
    actions: []
  - id: dup
    enabled: true
    trigger: intel_match
    actions: []
`
	if _, err := Parse([]byte(doc), false); !errors.Is(err, errs.ErrInvalid) {
		t.Fatalf("expected duplicate-id rejection, got %v", err)
	}
}

func TestParseSortsByPriorityThenID(t *testing.T) {
	doc := `
playbooks:
  - id: bbb
    enabled: true
    priority: 5
    trigger: new_device
    actions: []
  - id: aaa
    enabled: true
    priority: 5
    trigger: new_device
    actions: []
  - id: zzz
    enabled: true
    priority: 9
    trigger: new_device
    actions: []
`
	pbs, err := Parse([]byte(doc), false)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"zzz", "aaa", "bbb"}
	for i, id := range want {
		if pbs[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, pbs[i].ID)
		}
	}
}
