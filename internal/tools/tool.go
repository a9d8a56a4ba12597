package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rahul/setu/internal/governance"
)

// Tool is one named side-effecting operation a workflow step can invoke.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// Registry manages the set of available tools and satisfies the engine's
// executor contract. With a policy engine set, every call is evaluated
// before it runs.
type Registry struct {
	tools  map[string]Tool
	policy governance.PolicyEngine
}

func NewRegistry(policy governance.PolicyEngine) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		policy: policy,
	}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// Execute runs the named tool on behalf of the given origin. An unknown name
// or a policy denial is a tool failure like any other: the engine treats it
// identically to a failing call.
func (r *Registry) Execute(ctx context.Context, origin governance.Origin, name string, params map[string]any) (any, error) {
	t := r.tools[name]
	if t == nil {
		return nil, fmt.Errorf("tool %q not found", name)
	}

	if r.policy != nil {
		args, _ := json.Marshal(params)
		res, err := r.policy.Evaluate(ctx, governance.Request{Origin: origin, Tool: name, Arguments: string(args)})
		if err != nil {
			return nil, fmt.Errorf("policy evaluation failed: %w", err)
		}
		if res.Effect == governance.EffectDeny {
			return nil, fmt.Errorf("denied by policy: %s", res.Reason)
		}
	}

	return t.Execute(ctx, params)
}

// stringParam extracts a string parameter, "" if absent or not a string.
func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}
