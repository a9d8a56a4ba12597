package workflow

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rahul/setu/internal/surface"
)

// StepType is the closed set of step kinds a definition may use.
type StepType string

const (
	StepChoice      StepType = "choice"
	StepMultiChoice StepType = "multi-choice"
	StepConfirm     StepType = "confirm"
	StepTextInput   StepType = "text-input"
	StepInfo        StepType = "info"
	StepMedia       StepType = "media"
)

// Validation constrains free-text input at a text-input step.
type Validation struct {
	MinLength int    `yaml:"minLength" json:"minLength,omitempty"`
	MaxLength int    `yaml:"maxLength" json:"maxLength,omitempty"`
	Pattern   string `yaml:"pattern" json:"pattern,omitempty"`
}

// ToolCall binds a step to an external side-effecting operation. Parameter
// values are either literals or references:
//
//	$input            the input recorded at the current step
//	$step:<id>        the text or selection recorded at step <id>
//	$step:<id>.text   the free text recorded at step <id>
//	$step:<id>.selection
type ToolCall struct {
	Name   string         `yaml:"name" json:"name"`
	Params map[string]any `yaml:"params" json:"params,omitempty"`
}

// Step is one step of a workflow definition.
type Step struct {
	Type       StepType    `yaml:"type" json:"type"`
	Content    string      `yaml:"content" json:"content"`
	Options    []Option    `yaml:"options" json:"options,omitempty"`
	Validation *Validation `yaml:"validation" json:"validation,omitempty"`
	Tool       *ToolCall   `yaml:"toolCall" json:"toolCall,omitempty"`

	// Transitions maps option id to next step id for branching; Next is the
	// single linear successor. OnError is where a failed tool call routes.
	Transitions map[string]string `yaml:"transitions" json:"transitions,omitempty"`
	Next        string            `yaml:"next" json:"next,omitempty"`
	OnError     string            `yaml:"onError" json:"onError,omitempty"`

	Terminal bool   `yaml:"terminal" json:"terminal,omitempty"`
	MediaURL string `yaml:"mediaUrl" json:"mediaUrl,omitempty"`
	Effect   string `yaml:"effect" json:"effect,omitempty"`
}

// Option is one selectable item of a choice or multi-choice step.
type Option struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
}

// Definition is an immutable, validated workflow. Registration fails fast on
// a malformed schema; once registered a definition never changes.
type Definition struct {
	ID      string          `json:"id"`
	Version string          `json:"version"`
	Entry   string          `json:"entryPoint"`
	TTL     time.Duration   `json:"ttl"`
	Steps   map[string]Step `json:"steps"`
}

// DefaultTTL applies when a definition does not declare one.
const DefaultTTL = time.Hour

var semverRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Validate checks the definition for structural correctness and returns every
// problem found, empty if the definition is well-formed.
func (d *Definition) Validate() []string {
	var errs []string

	if d.ID == "" {
		errs = append(errs, "workflow id is required")
	}
	if d.Version == "" {
		errs = append(errs, "workflow version is required")
	} else if !semverRe.MatchString(d.Version) {
		errs = append(errs, fmt.Sprintf("invalid version %q: expected semver like 1.0.0", d.Version))
	}
	if len(d.Steps) == 0 {
		errs = append(errs, "workflow must have at least one step")
		return errs
	}
	if d.Entry == "" {
		errs = append(errs, "entryPoint is required")
	} else if _, ok := d.Steps[d.Entry]; !ok {
		errs = append(errs, fmt.Sprintf("entryPoint %q is not a step", d.Entry))
	}
	if d.TTL < 0 {
		errs = append(errs, "ttl must not be negative")
	}

	for id, step := range d.Steps {
		errs = append(errs, d.validateStep(id, step)...)
	}

	errs = append(errs, d.validateDataRefs()...)
	return errs
}

func (d *Definition) validateStep(id string, s Step) []string {
	var errs []string

	switch s.Type {
	case StepChoice, StepMultiChoice:
		if len(s.Options) == 0 {
			errs = append(errs, fmt.Sprintf("step %q: %s step requires options", id, s.Type))
		}
	case StepConfirm, StepTextInput, StepInfo:
	case StepMedia:
		if s.MediaURL == "" {
			errs = append(errs, fmt.Sprintf("step %q: media step requires mediaUrl", id))
		}
	default:
		errs = append(errs, fmt.Sprintf("step %q: unknown type %q", id, s.Type))
	}

	optIDs := make(map[string]bool, len(s.Options))
	for _, opt := range s.Options {
		if opt.ID == "" {
			errs = append(errs, fmt.Sprintf("step %q: option with empty id", id))
			continue
		}
		if optIDs[opt.ID] {
			errs = append(errs, fmt.Sprintf("step %q: duplicate option id %q", id, opt.ID))
		}
		optIDs[opt.ID] = true
	}

	for optID, target := range s.Transitions {
		validOpt := optIDs[optID]
		if s.Type == StepConfirm {
			validOpt = optID == "yes" || optID == "no"
		}
		if !validOpt {
			errs = append(errs, fmt.Sprintf("step %q: transition from unknown option %q", id, optID))
		}
		if _, ok := d.Steps[target]; !ok {
			errs = append(errs, fmt.Sprintf("step %q: transition to unknown step %q", id, target))
		}
	}
	if s.Next != "" {
		if _, ok := d.Steps[s.Next]; !ok {
			errs = append(errs, fmt.Sprintf("step %q: next references unknown step %q", id, s.Next))
		}
	}
	if s.OnError != "" {
		if _, ok := d.Steps[s.OnError]; !ok {
			errs = append(errs, fmt.Sprintf("step %q: onError references unknown step %q", id, s.OnError))
		}
	}
	// Only choice and confirm steps record the single selection that keys a
	// transition; every other step type can only advance through next.
	switch s.Type {
	case StepChoice, StepConfirm:
		if !s.Terminal && s.Next == "" && len(s.Transitions) == 0 {
			errs = append(errs, fmt.Sprintf("step %q: non-terminal step needs next or transitions", id))
		}
	default:
		if len(s.Transitions) > 0 {
			errs = append(errs, fmt.Sprintf("step %q: transitions require a choice or confirm step", id))
		}
		if !s.Terminal && s.Next == "" {
			errs = append(errs, fmt.Sprintf("step %q: non-terminal step needs next", id))
		}
	}

	if s.Validation != nil && s.Validation.Pattern != "" {
		if _, err := regexp.Compile(s.Validation.Pattern); err != nil {
			errs = append(errs, fmt.Sprintf("step %q: invalid validation pattern: %v", id, err))
		}
	}

	return errs
}

// validateDataRefs checks that every $step:<id> tool parameter reference
// points at a step that can actually have run first: the referencing step
// must be reachable from the referenced one. A forward reference would be a
// cycle in the data-dependency sense.
func (d *Definition) validateDataRefs() []string {
	var errs []string
	for id, step := range d.Steps {
		if step.Tool == nil {
			continue
		}
		for param, value := range step.Tool.Params {
			ref, ok := value.(string)
			if !ok {
				continue
			}
			target, isRef := parseStepRef(ref)
			if !isRef {
				continue
			}
			if _, exists := d.Steps[target]; !exists {
				errs = append(errs, fmt.Sprintf("step %q: tool param %q references unknown step %q", id, param, target))
				continue
			}
			if target != id && !d.reachable(target, id) {
				errs = append(errs, fmt.Sprintf("step %q: tool param %q references step %q which cannot precede it", id, param, target))
			}
		}
	}
	return errs
}

// parseStepRef extracts the step id from a "$step:<id>[.field]" reference.
func parseStepRef(value string) (string, bool) {
	if !strings.HasPrefix(value, "$step:") {
		return "", false
	}
	ref := strings.TrimPrefix(value, "$step:")
	if i := strings.IndexByte(ref, '.'); i >= 0 {
		ref = ref[:i]
	}
	return ref, ref != ""
}

// reachable reports whether `to` can be reached from `from` by following
// transitions, next, and onError edges.
func (d *Definition) reachable(from, to string) bool {
	seen := map[string]bool{}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true

		step, ok := d.Steps[cur]
		if !ok {
			continue
		}
		if step.Next != "" {
			queue = append(queue, step.Next)
		}
		if step.OnError != "" {
			queue = append(queue, step.OnError)
		}
		for _, target := range step.Transitions {
			queue = append(queue, target)
		}
	}
	return false
}

// ttl returns the definition TTL, falling back to the default.
func (d *Definition) ttl() time.Duration {
	if d.TTL > 0 {
		return d.TTL
	}
	return DefaultTTL
}

// ErrDefinitionConflict is returned when a different definition is already
// registered under the same id. In-flight instances keep running against the
// shape they started with; silently swapping it would corrupt them.
var ErrDefinitionConflict = errors.New("different workflow definition already registered under this id")

// Registry holds validated workflow definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register validates and stores a definition. Idempotent per id+version:
// re-registering an identical definition is a no-op; a different one under
// the same id is an error. No partial registration: a definition with any
// validation error is not stored.
func (r *Registry) Register(d *Definition) []string {
	if errs := d.Validate(); len(errs) > 0 {
		return errs
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.defs[d.ID]; ok {
		if reflect.DeepEqual(existing, d) {
			return nil
		}
		return []string{fmt.Sprintf("workflow %q: %v", d.ID, ErrDefinitionConflict)}
	}
	r.defs[d.ID] = d
	return nil
}

// Get returns the definition registered under id, or nil.
func (r *Registry) Get(id string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defs[id]
}

// Len reports the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// primitive builds the abstract interaction request for a step.
func (s Step) primitive(content string) surface.Primitive {
	p := surface.Primitive{
		Text:     content,
		MediaURL: s.MediaURL,
		Effect:   s.Effect,
	}
	switch s.Type {
	case StepChoice:
		p.Kind = surface.KindChoice
	case StepMultiChoice:
		p.Kind = surface.KindMultiChoice
	case StepConfirm:
		p.Kind = surface.KindConfirm
	case StepTextInput:
		p.Kind = surface.KindTextInput
	case StepMedia:
		p.Kind = surface.KindMedia
	default:
		p.Kind = surface.KindInfo
	}
	for _, opt := range s.Options {
		p.Options = append(p.Options, surface.Option{ID: opt.ID, Label: opt.Label})
	}
	return p
}
