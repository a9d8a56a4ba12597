package workflow

import (
	"strings"
	"testing"
	"time"
)

func validDefinition() *Definition {
	return &Definition{
		ID:      "onboarding",
		Version: "1.0.0",
		Entry:   "welcome",
		TTL:     time.Hour,
		Steps: map[string]Step{
			"welcome": {
				Type:    StepChoice,
				Content: "Where do you want to start?",
				Options: []Option{
					{ID: "tour", Label: "Take the tour"},
					{ID: "skip", Label: "Skip ahead"},
				},
				Transitions: map[string]string{
					"tour": "name",
					"skip": "done",
				},
			},
			"name": {
				Type:       StepTextInput,
				Content:    "What should we call you?",
				Validation: &Validation{MinLength: 2, MaxLength: 50},
				Next:       "done",
			},
			"done": {
				Type:     StepInfo,
				Content:  "All set.",
				Terminal: true,
			},
		},
	}
}

func TestDefinitionValidate_WellFormed(t *testing.T) {
	if errs := validDefinition().Validate(); len(errs) != 0 {
		t.Errorf("Expected no errors, got %v", errs)
	}
}

func TestDefinitionValidate_ReportsAllProblems(t *testing.T) {
	d := validDefinition()
	d.Version = "one"
	d.Entry = "missing"
	step := d.Steps["welcome"]
	step.Transitions["tour"] = "nowhere"
	d.Steps["welcome"] = step

	errs := d.Validate()
	if len(errs) < 3 {
		t.Fatalf("Expected at least 3 problems, got %v", errs)
	}
	joined := strings.Join(errs, "\n")
	for _, want := range []string{"semver", "entryPoint", "unknown step"} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected a problem mentioning %q in:\n%s", want, joined)
		}
	}
}

func TestDefinitionValidate_StepShapes(t *testing.T) {
	cases := []struct {
		name string
		step Step
		want string
	}{
		{"choice without options", Step{Type: StepChoice, Next: "done"}, "requires options"},
		{"media without url", Step{Type: StepMedia, Next: "done"}, "requires mediaUrl"},
		{"unknown type", Step{Type: "carousel", Next: "done"}, "unknown type"},
		{"dead end", Step{Type: StepInfo}, "needs next"},
		{"dead-end choice", Step{Type: StepChoice, Options: []Option{{ID: "a", Label: "A"}}}, "needs next or transitions"},
		{"bad pattern", Step{Type: StepTextInput, Validation: &Validation{Pattern: "["}, Next: "done"}, "invalid validation pattern"},
	}

	for _, tc := range cases {
		d := validDefinition()
		d.Steps["bad"] = tc.step
		step := d.Steps["welcome"]
		step.Next = "bad"
		d.Steps["welcome"] = step

		errs := d.Validate()
		found := false
		for _, e := range errs {
			if strings.Contains(e, tc.want) {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: expected an error containing %q, got %v", tc.name, tc.want, errs)
		}
	}
}

// A multi-select never records a single option, so transitions keyed by its
// option ids could never resolve a successor at runtime. Such a step must be
// rejected up front instead of wedging an instance on valid input.
func TestDefinitionValidate_TransitionsOnlyOnSelectingSteps(t *testing.T) {
	d := validDefinition()
	d.Steps["pick"] = Step{
		Type:    StepMultiChoice,
		Content: "Pick any",
		Options: []Option{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}},
		Transitions: map[string]string{
			"a": "done",
			"b": "done",
		},
	}
	step := d.Steps["welcome"]
	step.Next = "pick"
	d.Steps["welcome"] = step

	errs := d.Validate()
	found := false
	for _, e := range errs {
		if strings.Contains(e, "transitions require a choice or confirm step") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected transitions on a multi-choice step to be rejected, got %v", errs)
	}

	// With next set the step is fine, transitions are still rejected.
	p := d.Steps["pick"]
	p.Next = "done"
	d.Steps["pick"] = p
	if errs := d.Validate(); len(errs) == 0 {
		t.Error("Expected transitions on a multi-choice step to be rejected even with next set")
	}
}

func TestDefinitionValidate_DuplicateOptionIDs(t *testing.T) {
	d := validDefinition()
	step := d.Steps["welcome"]
	step.Options = append(step.Options, Option{ID: "tour", Label: "Again"})
	d.Steps["welcome"] = step

	errs := d.Validate()
	found := false
	for _, e := range errs {
		if strings.Contains(e, "duplicate option id") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a duplicate-option error, got %v", errs)
	}
}

func TestDefinitionValidate_DataRefs(t *testing.T) {
	d := validDefinition()
	step := d.Steps["name"]
	step.Tool = &ToolCall{Name: "search", Params: map[string]any{"query": "$step:welcome.selection"}}
	d.Steps["name"] = step
	if errs := d.Validate(); len(errs) != 0 {
		t.Fatalf("Backward reference should be valid, got %v", errs)
	}

	// A reference to a step that cannot have run yet is rejected.
	step.Tool.Params["query"] = "$step:done"
	d.Steps["name"] = step
	errs := d.Validate()
	found := false
	for _, e := range errs {
		if strings.Contains(e, "cannot precede") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a forward-reference error, got %v", errs)
	}

	step.Tool.Params["query"] = "$step:ghost"
	d.Steps["name"] = step
	errs = d.Validate()
	found = false
	for _, e := range errs {
		if strings.Contains(e, "unknown step") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected an unknown-step error, got %v", errs)
	}
}

func TestRegistry_RegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	if errs := r.Register(validDefinition()); len(errs) != 0 {
		t.Fatalf("Register failed: %v", errs)
	}
	// Identical re-registration is a no-op.
	if errs := r.Register(validDefinition()); len(errs) != 0 {
		t.Errorf("Expected idempotent re-registration, got %v", errs)
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 definition, got %d", r.Len())
	}
}

func TestRegistry_RegisterConflict(t *testing.T) {
	r := NewRegistry()
	if errs := r.Register(validDefinition()); len(errs) != 0 {
		t.Fatal(errs)
	}

	changed := validDefinition()
	changed.Version = "2.0.0"
	errs := r.Register(changed)
	if len(errs) == 0 {
		t.Fatal("Expected a conflict error")
	}
	if !strings.Contains(errs[0], "already registered") {
		t.Errorf("Unexpected error: %v", errs)
	}

	// The original stays in place.
	if got := r.Get("onboarding"); got == nil || got.Version != "1.0.0" {
		t.Errorf("Original definition disturbed: %+v", got)
	}
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	r := NewRegistry()
	d := validDefinition()
	d.Entry = "missing"
	if errs := r.Register(d); len(errs) == 0 {
		t.Fatal("Expected validation errors")
	}
	if r.Get("onboarding") != nil {
		t.Error("Invalid definition must not be stored")
	}
}
