package workflow

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rahul/setu/internal/governance"
	"github.com/rahul/setu/internal/observability"
	"github.com/rahul/setu/internal/store"
	"github.com/rahul/setu/internal/surface"
)

// Outcome classifies what a start or action attempt did.
type Outcome string

const (
	OutcomeStarted         Outcome = "started"
	OutcomeNoWorkflow      Outcome = "no-active-workflow"
	OutcomeAdvanced        Outcome = "advanced"
	OutcomeCompleted       Outcome = "completed"
	OutcomeCancelled       Outcome = "cancelled"
	OutcomeBack            Outcome = "back"
	OutcomeValidationError Outcome = "validation-error"
	OutcomeToolError       Outcome = "tool-error"
	OutcomeBlocked         Outcome = "blocked"
)

// Result reports the outcome of one engine operation.
type Result struct {
	Outcome Outcome
	Step    string
	Message string // user-facing detail for error outcomes
	Render  *surface.RenderResult
}

// StateStore is what the engine needs from the durable store.
type StateStore interface {
	Create(st *store.State) error
	Get(userID, workflowID string) (*store.State, error)
	Update(st *store.State) error
	Delete(userID, workflowID string) (bool, error)
	ActiveForUser(userID string) (*store.State, error)
}

// Executor performs the external side effect bound to a step. The origin
// carries the (user, workflow, step) triple for policy evaluation and audit.
// Any error is a tool failure; the engine never retries it.
type Executor interface {
	Execute(ctx context.Context, origin governance.Origin, name string, params map[string]any) (any, error)
}

// RunRecorder receives finished runs. May be nil.
type RunRecorder interface {
	RecordRun(st *store.State, outcome string) error
}

// Error is an engine failure attributable to a specific (user, workflow,
// step) triple.
type Error struct {
	UserID     string
	WorkflowID string
	Step       string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("workflow %q step %q user %q: %v", e.WorkflowID, e.Step, e.UserID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Engine drives workflows: it starts them, routes parsed actions through the
// step state machine, invokes tool calls, and renders each step through the
// negotiator/adapter pair for the user's surface. It is the only mutator of
// workflow state; the store owns the durable representation.
//
// Actions for one user are expected to arrive serialized; the dispatching
// gateway owns that ordering.
type Engine struct {
	registry *Registry
	store    StateStore
	exec     Executor
	history  RunRecorder
	logger   *observability.Logger
	adapters map[string]surface.Adapter
}

func NewEngine(registry *Registry, st StateStore, exec Executor, history RunRecorder, logger *observability.Logger) *Engine {
	return &Engine{
		registry: registry,
		store:    st,
		exec:     exec,
		history:  history,
		logger:   logger,
		adapters: make(map[string]surface.Adapter),
	}
}

// AddAdapter registers a surface adapter. Capabilities are read once here and
// never again: they are static configuration.
func (e *Engine) AddAdapter(a surface.Adapter) {
	e.adapters[a.Name()] = a
}

// StartWorkflow creates a fresh instance at the definition's entry point,
// renders the entry step, and persists. initial, if non-nil, pre-seeds step
// data for the new instance. Starting replaces any in-flight instance of the
// same workflow, and supersedes any other active workflow the user has: at
// most one active workflow per user.
func (e *Engine) StartWorkflow(ctx context.Context, workflowID, userID, surfaceName string, initial map[string]store.StepData) (*Result, error) {
	def := e.registry.Get(workflowID)
	if def == nil {
		return nil, &Error{UserID: userID, WorkflowID: workflowID, Err: fmt.Errorf("no definition registered")}
	}
	adapter, ok := e.adapters[surfaceName]
	if !ok {
		return nil, &Error{UserID: userID, WorkflowID: workflowID, Err: fmt.Errorf("unknown surface %q", surfaceName)}
	}

	now := time.Now()
	st := &store.State{
		ID:             uuid.NewString(),
		WorkflowID:     workflowID,
		UserID:         userID,
		CurrentStep:    def.Entry,
		Data:           make(map[string]store.StepData),
		StartedAt:      now,
		LastActiveAt:   now,
		OriginSurface:  surfaceName,
		LastSurface:    surfaceName,
		ExpiresAt:      now.Add(def.ttl()),
		LastMessageIDs: make(map[string]string),
	}
	for id, d := range initial {
		st.Data[id] = d
	}

	prim, decision := e.negotiateStep(def, st, def.Entry, adapter)
	if decision.Strategy == surface.StrategyNotifyBlocked {
		e.logger.LogNegotiation(userID, workflowID, def.Entry, string(decision.Strategy), decision.BlockedReason)
		return &Result{Outcome: OutcomeBlocked, Step: def.Entry, Message: decision.BlockedReason}, nil
	}

	// At most one active workflow per user: supersede anything else.
	if prev, err := e.store.ActiveForUser(userID); err != nil {
		return nil, &Error{UserID: userID, WorkflowID: workflowID, Err: err}
	} else if prev != nil && prev.WorkflowID != workflowID {
		if _, err := e.store.Delete(userID, prev.WorkflowID); err != nil {
			return nil, &Error{UserID: userID, WorkflowID: prev.WorkflowID, Err: err}
		}
		e.recordRun(prev, "superseded")
	}

	if err := e.store.Create(st); err != nil {
		return nil, &Error{UserID: userID, WorkflowID: workflowID, Step: def.Entry, Err: err}
	}
	e.logger.LogWorkflowStart(userID, workflowID, surfaceName)

	res, err := e.render(ctx, adapter, st, def, prim, decision)
	if err != nil {
		return nil, err
	}

	entry := def.Steps[def.Entry]
	if entry.Terminal {
		// Degenerate single-step workflow: deliver and finish.
		if _, err := e.store.Delete(userID, workflowID); err != nil {
			return nil, &Error{UserID: userID, WorkflowID: workflowID, Step: def.Entry, Err: err}
		}
		e.recordRun(st, string(OutcomeCompleted))
		e.logger.LogComplete(userID, workflowID, def.Entry)
		return &Result{Outcome: OutcomeCompleted, Step: def.Entry, Render: &res}, nil
	}

	st.LastMessageIDs[surfaceName] = res.MessageID
	if err := e.store.Update(st); err != nil {
		return nil, &Error{UserID: userID, WorkflowID: workflowID, Step: def.Entry, Err: err}
	}
	observability.SetLastOutcome(string(OutcomeStarted))
	return &Result{Outcome: OutcomeStarted, Step: def.Entry, Render: &res}, nil
}

// Prompt returns the primitive the user is currently being asked, so gateway
// loops can parse plain text in context. Implements surface.Dispatcher.
func (e *Engine) Prompt(userID string) (surface.Primitive, bool) {
	st, err := e.store.ActiveForUser(userID)
	if err != nil || st == nil {
		return surface.Primitive{}, false
	}
	def := e.registry.Get(st.WorkflowID)
	if def == nil {
		return surface.Primitive{}, false
	}
	step, ok := def.Steps[st.CurrentStep]
	if !ok {
		return surface.Primitive{}, false
	}
	return step.primitive(interpolate(step.Content, st.Data)), true
}

// Dispatch feeds a parsed action into the state machine. Implements
// surface.Dispatcher; user-facing feedback is sent by HandleAction itself.
func (e *Engine) Dispatch(ctx context.Context, userID string, action surface.Action) error {
	res, err := e.HandleAction(ctx, userID, action)
	if res != nil {
		observability.SetLastOutcome(string(res.Outcome))
	}
	return err
}

// HandleAction advances the state machine by one parsed user action.
//
// Precedence: cancel always wins, then back, then step-type matching. A
// validation mismatch leaves state untouched, so redelivery of the same
// malformed input is idempotent.
func (e *Engine) HandleAction(ctx context.Context, userID string, action surface.Action) (*Result, error) {
	st, err := e.store.ActiveForUser(userID)
	if err != nil {
		return nil, &Error{UserID: userID, Err: err}
	}
	if st == nil {
		return &Result{Outcome: OutcomeNoWorkflow}, nil
	}

	def := e.registry.Get(st.WorkflowID)
	if def == nil {
		// State for a definition this process no longer knows. Drop it.
		e.store.Delete(userID, st.WorkflowID)
		return nil, &Error{UserID: userID, WorkflowID: st.WorkflowID, Step: st.CurrentStep, Err: fmt.Errorf("no definition registered")}
	}

	if action.Surface != "" {
		st.LastSurface = action.Surface
	}
	adapter, ok := e.adapters[st.Surface()]
	if !ok {
		return nil, &Error{UserID: userID, WorkflowID: st.WorkflowID, Step: st.CurrentStep, Err: fmt.Errorf("unknown surface %q", st.Surface())}
	}

	if action.AckID != "" {
		if err := adapter.AcknowledgeAction(ctx, action.AckID); err != nil {
			log.Printf("Failed to acknowledge action on %s: %v", adapter.Name(), err)
		}
	}

	step, ok := def.Steps[st.CurrentStep]
	if !ok {
		e.store.Delete(userID, st.WorkflowID)
		return nil, &Error{UserID: userID, WorkflowID: st.WorkflowID, Step: st.CurrentStep, Err: fmt.Errorf("state points at unknown step")}
	}

	e.logger.LogAction(userID, st.WorkflowID, st.CurrentStep, string(action.Kind))

	// Cancellation is unconditional: no step-level validation can block it.
	if action.Kind == surface.ActionCancel {
		if _, err := e.store.Delete(userID, st.WorkflowID); err != nil {
			return nil, &Error{UserID: userID, WorkflowID: st.WorkflowID, Step: st.CurrentStep, Err: err}
		}
		e.recordRun(st, string(OutcomeCancelled))
		e.logger.LogCancel(userID, st.WorkflowID, st.CurrentStep)
		e.send(ctx, adapter, st.UserID, "Workflow cancelled.")
		return &Result{Outcome: OutcomeCancelled, Step: st.CurrentStep}, nil
	}

	if action.Kind == surface.ActionBack {
		return e.handleBack(ctx, adapter, st, def)
	}

	data, complaint := matchAction(step, action)
	if complaint != "" {
		e.logger.LogValidation(userID, st.WorkflowID, st.CurrentStep, complaint)
		e.send(ctx, adapter, st.UserID, complaint)
		return &Result{Outcome: OutcomeValidationError, Step: st.CurrentStep, Message: complaint}, nil
	}

	st.Data[st.CurrentStep] = data

	// The tool call resolves before any state is persisted: no partial state
	// while an external call is in flight.
	if step.Tool != nil {
		if res, err := e.invokeTool(ctx, adapter, st, def, step, data); res != nil || err != nil {
			return res, err
		}
	}

	next := step.Next
	if target, ok := step.Transitions[selectedOption(step, data)]; ok {
		next = target
	}
	nextStep, ok := def.Steps[next]
	if !ok {
		return nil, &Error{UserID: userID, WorkflowID: st.WorkflowID, Step: st.CurrentStep, Err: fmt.Errorf("no successor resolved")}
	}

	if nextStep.Terminal {
		return e.complete(ctx, adapter, st, def, next)
	}
	return e.advance(ctx, adapter, st, def, next, OutcomeAdvanced)
}

// handleBack re-renders the previous step without re-running its tool call
// or validation. With empty history it is a reported no-op, not an error:
// there is no step before the entry point.
func (e *Engine) handleBack(ctx context.Context, adapter surface.Adapter, st *store.State, def *Definition) (*Result, error) {
	if len(st.StepHistory) == 0 {
		msg := "Already at the first step."
		e.send(ctx, adapter, st.UserID, msg)
		return &Result{Outcome: OutcomeBack, Step: st.CurrentStep, Message: msg}, nil
	}

	prev := st.StepHistory[len(st.StepHistory)-1]
	st.StepHistory = st.StepHistory[:len(st.StepHistory)-1]
	st.CurrentStep = prev
	return e.persistAndRender(ctx, adapter, st, def, OutcomeBack)
}

// invokeTool resolves parameters, runs the bound tool, and routes failure.
// Returns (nil, nil) when the engine should continue to the next step.
func (e *Engine) invokeTool(ctx context.Context, adapter surface.Adapter, st *store.State, def *Definition, step Step, data store.StepData) (*Result, error) {
	params, err := resolveParams(step.Tool.Params, data, st.Data)
	if err == nil {
		e.logger.LogToolCall(st.UserID, st.WorkflowID, st.CurrentStep, step.Tool.Name, params)
		origin := governance.Origin{UserID: st.UserID, Workflow: st.WorkflowID, Step: st.CurrentStep}
		var out any
		out, err = e.exec.Execute(ctx, origin, step.Tool.Name, params)
		e.logger.LogToolResult(st.UserID, st.WorkflowID, st.CurrentStep, step.Tool.Name, out, err)
	}
	if err == nil {
		return nil, nil
	}

	if step.OnError != "" {
		res, aerr := e.advance(ctx, adapter, st, def, step.OnError, OutcomeToolError)
		if aerr != nil {
			return nil, aerr
		}
		res.Message = err.Error()
		return res, nil
	}

	// No declared error target: stay at the step, persist nothing.
	msg := fmt.Sprintf("Couldn't complete this step: %v", err)
	e.send(ctx, adapter, st.UserID, msg)
	return &Result{Outcome: OutcomeToolError, Step: st.CurrentStep, Message: err.Error()}, nil
}

// complete finishes the workflow at a terminal step: the step's content is
// delivered, then the instance is deleted.
func (e *Engine) complete(ctx context.Context, adapter surface.Adapter, st *store.State, def *Definition, terminal string) (*Result, error) {
	st.StepHistory = append(st.StepHistory, st.CurrentStep)
	st.CurrentStep = terminal

	prim, decision := e.negotiateStep(def, st, terminal, adapter)
	var render *surface.RenderResult
	if decision.Strategy != surface.StrategyNotifyBlocked {
		e.retract(ctx, adapter, st)
		res, err := e.render(ctx, adapter, st, def, prim, decision)
		if err != nil {
			return nil, err
		}
		render = &res
	}

	if _, err := e.store.Delete(st.UserID, st.WorkflowID); err != nil {
		return nil, &Error{UserID: st.UserID, WorkflowID: st.WorkflowID, Step: terminal, Err: err}
	}
	e.recordRun(st, string(OutcomeCompleted))
	e.logger.LogComplete(st.UserID, st.WorkflowID, terminal)
	return &Result{Outcome: OutcomeCompleted, Step: terminal, Render: render}, nil
}

// advance moves the instance to the given step and renders it. Negotiation
// happens before any mutation: a blocked step is never sent and never
// persisted.
func (e *Engine) advance(ctx context.Context, adapter surface.Adapter, st *store.State, def *Definition, next string, outcome Outcome) (*Result, error) {
	prim, decision := e.negotiateStep(def, st, next, adapter)
	if decision.Strategy == surface.StrategyNotifyBlocked {
		e.logger.LogNegotiation(st.UserID, st.WorkflowID, next, string(decision.Strategy), decision.BlockedReason)
		msg := "This step cannot be shown here: " + decision.BlockedReason
		e.send(ctx, adapter, st.UserID, msg)
		return &Result{Outcome: OutcomeBlocked, Step: next, Message: decision.BlockedReason}, nil
	}

	st.StepHistory = append(st.StepHistory, st.CurrentStep)
	st.CurrentStep = next
	res, err := e.persistAndRenderNegotiated(ctx, adapter, st, def, prim, decision, outcome)
	return res, err
}

// persistAndRender negotiates the current step, then persists and renders it.
func (e *Engine) persistAndRender(ctx context.Context, adapter surface.Adapter, st *store.State, def *Definition, outcome Outcome) (*Result, error) {
	prim, decision := e.negotiateStep(def, st, st.CurrentStep, adapter)
	if decision.Strategy == surface.StrategyNotifyBlocked {
		e.logger.LogNegotiation(st.UserID, st.WorkflowID, st.CurrentStep, string(decision.Strategy), decision.BlockedReason)
		return &Result{Outcome: OutcomeBlocked, Step: st.CurrentStep, Message: decision.BlockedReason}, nil
	}
	return e.persistAndRenderNegotiated(ctx, adapter, st, def, prim, decision, outcome)
}

func (e *Engine) persistAndRenderNegotiated(ctx context.Context, adapter surface.Adapter, st *store.State, def *Definition, prim surface.Primitive, decision surface.Decision, outcome Outcome) (*Result, error) {
	now := time.Now()
	st.LastActiveAt = now
	st.ExpiresAt = now.Add(def.ttl())
	if err := e.store.Update(st); err != nil {
		return nil, &Error{UserID: st.UserID, WorkflowID: st.WorkflowID, Step: st.CurrentStep, Err: err}
	}
	e.logger.LogTransition(st.UserID, st.WorkflowID, st.CurrentStep, string(outcome))

	e.retract(ctx, adapter, st)
	res, err := e.render(ctx, adapter, st, def, prim, decision)
	if err != nil {
		return nil, err
	}

	st.LastMessageIDs[adapter.Name()] = res.MessageID
	if err := e.store.Update(st); err != nil {
		return nil, &Error{UserID: st.UserID, WorkflowID: st.WorkflowID, Step: st.CurrentStep, Err: err}
	}
	return &Result{Outcome: outcome, Step: st.CurrentStep, Render: &res}, nil
}

// negotiateStep builds the step's primitive and negotiates it against the
// adapter's declared capabilities.
func (e *Engine) negotiateStep(def *Definition, st *store.State, stepID string, adapter surface.Adapter) (surface.Primitive, surface.Decision) {
	step := def.Steps[stepID]
	prim := step.primitive(interpolate(step.Content, st.Data))
	return prim, surface.Negotiate(prim, adapter.Capabilities())
}

// render sends one negotiated primitive, plus the step's effect where the
// surface supports effects (silently omitted elsewhere).
func (e *Engine) render(ctx context.Context, adapter surface.Adapter, st *store.State, def *Definition, prim surface.Primitive, decision surface.Decision) (surface.RenderResult, error) {
	res, err := adapter.Render(ctx, st.UserID, prim, decision)
	if err != nil {
		return res, &Error{UserID: st.UserID, WorkflowID: st.WorkflowID, Step: st.CurrentStep, Err: err}
	}

	if prim.Effect != "" && prim.Kind != surface.KindEffect {
		ep := surface.Primitive{Kind: surface.KindEffect, Effect: prim.Effect}
		if ed := surface.Negotiate(ep, adapter.Capabilities()); ed.Strategy == surface.StrategyNative {
			if _, err := adapter.Render(ctx, st.UserID, ep, ed); err != nil {
				log.Printf("Failed to render effect on %s: %v", adapter.Name(), err)
			}
		}
	}
	return res, nil
}

// retract removes the previous prompt on this surface, where the platform
// allows it.
func (e *Engine) retract(ctx context.Context, adapter surface.Adapter, st *store.State) {
	id := st.LastMessageIDs[adapter.Name()]
	if id == "" {
		return
	}
	if err := adapter.DeleteMessage(ctx, st.UserID, id); err != nil {
		log.Printf("Failed to retract prompt %s on %s: %v", id, adapter.Name(), err)
	}
}

func (e *Engine) send(ctx context.Context, adapter surface.Adapter, target, text string) {
	if _, err := adapter.SendMessage(ctx, target, text); err != nil {
		log.Printf("Failed to send message on %s: %v", adapter.Name(), err)
	}
}

func (e *Engine) recordRun(st *store.State, outcome string) {
	if e.history == nil {
		return
	}
	if err := e.history.RecordRun(st, outcome); err != nil {
		log.Printf("Failed to record run for %s/%s: %v", st.UserID, st.WorkflowID, err)
	}
}

// matchAction checks a parsed action against the step's expected input kind
// and converts it to recorded data. A non-empty complaint means validation
// failed and state must not change.
func matchAction(step Step, action surface.Action) (store.StepData, string) {
	now := time.Now()

	switch step.Type {
	case StepChoice:
		if action.Kind != surface.ActionSelect {
			return store.StepData{}, fmt.Sprintf("Please choose one of the %d listed options.", len(step.Options))
		}
		if !hasOption(step.Options, action.OptionID) {
			return store.StepData{}, "That option isn't available here."
		}
		return store.StepData{Selection: action.OptionID, At: now}, ""

	case StepMultiChoice:
		if action.Kind != surface.ActionMultiSelect || len(action.OptionIDs) == 0 {
			return store.StepData{}, "Please pick from the listed options, separated by commas."
		}
		for _, id := range action.OptionIDs {
			if !hasOption(step.Options, id) {
				return store.StepData{}, "That selection isn't available here."
			}
		}
		return store.StepData{Selections: action.OptionIDs, At: now}, ""

	case StepConfirm:
		if action.Kind != surface.ActionConfirm {
			return store.StepData{}, "Please answer yes or no."
		}
		sel := "no"
		if action.Confirmed {
			sel = "yes"
		}
		return store.StepData{Selection: sel, At: now}, ""

	case StepTextInput:
		if action.Kind != surface.ActionText {
			return store.StepData{}, "Please reply with text."
		}
		if msg := validateText(step.Validation, action.Text); msg != "" {
			return store.StepData{}, msg
		}
		return store.StepData{Text: action.Text, At: now}, ""
	}

	// info / media: anything acknowledges the step.
	return store.StepData{Text: action.Text, At: now}, ""
}

func validateText(v *Validation, text string) string {
	if v == nil {
		return ""
	}
	n := utf8.RuneCountInString(text)
	if v.MinLength > 0 && n < v.MinLength {
		return fmt.Sprintf("Please enter at least %d characters.", v.MinLength)
	}
	if v.MaxLength > 0 && n > v.MaxLength {
		return fmt.Sprintf("Please keep it under %d characters.", v.MaxLength)
	}
	if v.Pattern != "" {
		// Pattern validity is checked at registration.
		if re, err := regexp.Compile(v.Pattern); err == nil && !re.MatchString(text) {
			return "That doesn't look like the expected format."
		}
	}
	return ""
}

func hasOption(options []Option, id string) bool {
	for _, opt := range options {
		if opt.ID == id {
			return true
		}
	}
	return false
}

// selectedOption is the transition key recorded at a step: the chosen option
// for choice steps, yes/no for confirm steps.
func selectedOption(step Step, data store.StepData) string {
	switch step.Type {
	case StepChoice, StepConfirm:
		return data.Selection
	}
	return ""
}
