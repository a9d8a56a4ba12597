package governance

import (
	"context"
	"testing"
)

func TestDefaultPolicyEngine_Evaluate(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	ctx := context.Background()

	// Test Allow (Default)
	req1 := Request{Tool: "search"}
	res1, err := engine.Evaluate(ctx, req1)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res1.Effect != EffectAllow {
		t.Errorf("Expected EffectAllow, got %s", res1.Effect)
	}

	// Test Deny
	engine.DenyTool("filesystem")
	req2 := Request{Tool: "filesystem"}
	res2, err := engine.Evaluate(ctx, req2)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res2.Effect != EffectDeny {
		t.Errorf("Expected EffectDeny, got %s", res2.Effect)
	}
}

func TestDefaultPolicyEngine_DenyArguments(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	if err := engine.DenyArguments(`rm\s+-rf`); err != nil {
		t.Fatalf("DenyArguments failed: %v", err)
	}

	res, err := engine.Evaluate(context.Background(), Request{
		Tool:      "filesystem",
		Arguments: `{"action":"delete","path":"rm -rf /"}`,
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Effect != EffectDeny {
		t.Errorf("Expected EffectDeny for restricted arguments, got %s", res.Effect)
	}
}

func TestDefaultPolicyEngine_DenyToolForWorkflow(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	engine.DenyToolForWorkflow("onboarding", "browser")
	ctx := context.Background()

	res, err := engine.Evaluate(ctx, Request{
		Origin: Origin{UserID: "u1", Workflow: "onboarding", Step: "welcome"},
		Tool:   "browser",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Effect != EffectDeny {
		t.Errorf("Expected EffectDeny inside the workflow, got %s", res.Effect)
	}

	res, err = engine.Evaluate(ctx, Request{
		Origin: Origin{UserID: "u1", Workflow: "feedback", Step: "rating"},
		Tool:   "browser",
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Effect != EffectAllow {
		t.Errorf("Expected EffectAllow outside the workflow, got %s", res.Effect)
	}
}
