package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/rahul/setu/internal/governance"
)

type echoTool struct {
	calls int
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Returns its 'text' parameter." }

func (e *echoTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	e.calls++
	return stringParam(params, "text"), nil
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry(nil)
	tool := &echoTool{}
	r.Register(tool)

	out, err := r.Execute(context.Background(), governance.Origin{}, "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != "hi" || tool.calls != 1 {
		t.Errorf("Unexpected result: %v (calls=%d)", out, tool.calls)
	}

	if _, err := r.Execute(context.Background(), governance.Origin{}, "missing", nil); err == nil {
		t.Error("Expected an error for an unknown tool")
	}
}

func TestRegistry_PolicyDeniesExecution(t *testing.T) {
	gov := governance.NewDefaultPolicyEngine()
	gov.DenyTool("echo")
	if err := gov.DenyArguments(`rm\s+-rf`); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(gov)
	tool := &echoTool{}
	r.Register(tool)

	_, err := r.Execute(context.Background(), governance.Origin{}, "echo", map[string]any{"text": "hi"})
	if err == nil || !strings.Contains(err.Error(), "denied by policy") {
		t.Fatalf("Expected a policy denial, got %v", err)
	}
	if tool.calls != 0 {
		t.Error("Tool ran despite denial")
	}
}

func TestRegistry_PolicyDeniesArguments(t *testing.T) {
	gov := governance.NewDefaultPolicyEngine()
	if err := gov.DenyArguments(`rm\s+-rf`); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(gov)
	tool := &echoTool{}
	r.Register(tool)

	if _, err := r.Execute(context.Background(), governance.Origin{}, "echo", map[string]any{"text": "rm -rf /"}); err == nil {
		t.Error("Expected denial of restricted arguments")
	}
	if _, err := r.Execute(context.Background(), governance.Origin{}, "echo", map[string]any{"text": "hello"}); err != nil {
		t.Errorf("Benign call denied: %v", err)
	}
	if tool.calls != 1 {
		t.Errorf("Expected exactly one execution, got %d", tool.calls)
	}
}

// The origin reaches the policy engine, so rules can restrict a tool inside
// one workflow while leaving it available everywhere else.
func TestRegistry_PolicyDeniesPerWorkflow(t *testing.T) {
	gov := governance.NewDefaultPolicyEngine()
	gov.DenyToolForWorkflow("onboarding", "echo")

	r := NewRegistry(gov)
	tool := &echoTool{}
	r.Register(tool)

	from := func(wf string) governance.Origin {
		return governance.Origin{UserID: "u1", Workflow: wf, Step: "s1"}
	}

	_, err := r.Execute(context.Background(), from("onboarding"), "echo", map[string]any{"text": "hi"})
	if err == nil || !strings.Contains(err.Error(), "onboarding") {
		t.Fatalf("Expected a per-workflow denial, got %v", err)
	}
	if tool.calls != 0 {
		t.Error("Tool ran despite denial")
	}

	if _, err := r.Execute(context.Background(), from("feedback"), "echo", map[string]any{"text": "hi"}); err != nil {
		t.Errorf("Call from another workflow denied: %v", err)
	}
}
