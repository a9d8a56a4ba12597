package surface

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

var (
	yesRe     = regexp.MustCompile(`(?i)^y(es)?$`)
	noRe      = regexp.MustCompile(`(?i)^n(o)?$`)
	numeralRe = regexp.MustCompile(`^[0-9]+$`)
)

// ParseText applies the universal text parsing rules: the baseline every
// richer adapter degrades to. current is the primitive the user is answering,
// nil when no workflow is active.
//
// Meta-actions win over step-specific parsing: "cancel" and "back" are
// recognized regardless of step type.
func ParseText(input string, current *Primitive) *Action {
	text := strings.TrimSpace(input)
	if text == "" {
		return nil
	}

	switch strings.ToLower(text) {
	case "cancel":
		return &Action{Kind: ActionCancel}
	case "back":
		return &Action{Kind: ActionBack}
	}

	if current == nil {
		// Not an answer to anything.
		return nil
	}

	switch current.Kind {
	case KindConfirm:
		if yesRe.MatchString(text) {
			return &Action{Kind: ActionConfirm, Confirmed: true}
		}
		if noRe.MatchString(text) {
			return &Action{Kind: ActionConfirm, Confirmed: false}
		}
		// Let the engine report the mismatch.
		return &Action{Kind: ActionText, Text: text}

	case KindChoice:
		if id, ok := optionByNumeral(text, current.Options); ok {
			return &Action{Kind: ActionSelect, OptionID: id}
		}
		return &Action{Kind: ActionText, Text: text}

	case KindMultiChoice:
		if ids, ok := optionsByNumerals(text, current.Options); ok {
			return &Action{Kind: ActionMultiSelect, OptionIDs: ids}
		}
		return &Action{Kind: ActionText, Text: text}
	}

	// text-input, info, media, anything else: pass the raw text through.
	return &Action{Kind: ActionText, Text: text}
}

// optionByNumeral resolves a 1-based numeral to the option at that position.
func optionByNumeral(token string, options []Option) (string, bool) {
	token = strings.TrimSpace(token)
	if !numeralRe.MatchString(token) {
		return "", false
	}
	n, err := strconv.Atoi(token)
	if err != nil || n < 1 || n > len(options) {
		return "", false
	}
	return options[n-1].ID, true
}

// optionsByNumerals parses a comma-separated numeral list. All-or-nothing: a
// single malformed or out-of-range token invalidates the whole submission.
func optionsByNumerals(text string, options []Option) ([]string, bool) {
	parts := strings.Split(text, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		id, ok := optionByNumeral(part, options)
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, false
	}
	return ids, true
}

// TextSurface is the plain-text baseline adapter. It writes prompts to an
// io.Writer and cannot edit, delete, or acknowledge anything. Also serves as
// the in-process console surface.
type TextSurface struct {
	mu   sync.Mutex
	out  io.Writer
	name string

	sanitize *bluemonday.Policy
}

func NewTextSurface(name string, out io.Writer) *TextSurface {
	return &TextSurface{
		name:     name,
		out:      out,
		sanitize: bluemonday.StrictPolicy(),
	}
}

func (t *TextSurface) Name() string { return t.name }

func (t *TextSurface) Capabilities() Capabilities {
	return Capabilities{
		// Everything defaults to false: plain text is the floor.
		MaxMessageLength: 4000,
	}
}

func (t *TextSurface) Render(ctx context.Context, target string, p Primitive, d Decision) (RenderResult, error) {
	switch d.Strategy {
	case StrategySilentOmit:
		return RenderResult{}, nil
	case StrategyNotifyBlocked:
		return RenderResult{}, fmt.Errorf("primitive %q blocked on surface %s: %s", p.Kind, t.name, d.BlockedReason)
	}

	text := d.FallbackText
	if text == "" {
		text = FallbackText(p)
	}
	id, err := t.SendMessage(ctx, target, text)
	return RenderResult{MessageID: id, UsedFallback: d.Strategy == StrategyTextFallback}, err
}

func (t *TextSurface) ParseAction(ev Event, current *Primitive) *Action {
	a := ParseText(ev.Text, current)
	if a == nil {
		return nil
	}
	a.UserID = ev.UserID
	a.Surface = t.name
	return a
}

func (t *TextSurface) SendMessage(ctx context.Context, target, text string) (string, error) {
	// Strip any markup left over from rich step content.
	clean := t.sanitize.Sanitize(text)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintf(t.out, "%s\n", clean); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}

// UpdateMessage is a no-op: plain text surfaces cannot edit.
func (t *TextSurface) UpdateMessage(ctx context.Context, target, messageID, text string) error {
	return nil
}

// DeleteMessage is a no-op: plain text surfaces cannot retract.
func (t *TextSurface) DeleteMessage(ctx context.Context, target, messageID string) error {
	return nil
}

func (t *TextSurface) AcknowledgeAction(ctx context.Context, ackID string) error {
	return nil
}
