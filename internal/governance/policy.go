package governance

import (
	"context"
	"fmt"
	"regexp"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Origin identifies the workflow position a tool call is issued from, so a
// denial is attributable to a (user, workflow, step) triple.
type Origin struct {
	UserID   string
	Workflow string
	Step     string
}

// Request contains one tool call to be evaluated.
type Request struct {
	Origin
	Tool      string
	Arguments string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates tool calls against a set of rules before the
// workflow engine is allowed to execute them.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine is a basic implementation of PolicyEngine. Tools can be
// denied globally, within a single workflow, or by argument pattern.
type DefaultPolicyEngine struct {
	DeniedTools   map[string]bool
	DeniedPerFlow map[string]map[string]bool
	DeniedRegex   []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedTools:   make(map[string]bool),
		DeniedPerFlow: make(map[string]map[string]bool),
		DeniedRegex:   make([]*regexp.Regexp, 0),
	}
}

func (e *DefaultPolicyEngine) DenyTool(name string) {
	e.DeniedTools[name] = true
}

// DenyToolForWorkflow restricts a tool only when called from the given
// workflow.
func (e *DefaultPolicyEngine) DenyToolForWorkflow(workflow, name string) {
	if e.DeniedPerFlow[workflow] == nil {
		e.DeniedPerFlow[workflow] = make(map[string]bool)
	}
	e.DeniedPerFlow[workflow][name] = true
}

func (e *DefaultPolicyEngine) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if e.DeniedTools[req.Tool] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Tool '%s' is restricted by system policy", req.Tool),
		}, nil
	}

	if e.DeniedPerFlow[req.Workflow][req.Tool] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Tool '%s' is restricted within workflow '%s'", req.Tool, req.Workflow),
		}, nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Arguments) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Arguments match restricted pattern: %s", re.String()),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}
