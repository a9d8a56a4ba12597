package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rahul/setu/internal/store"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_-]+)(\.(?:text|selection))?\s*\}\}`)

// interpolate substitutes {{step-id}} / {{step-id.text}} / {{step-id.selection}}
// placeholders in step content with data recorded at prior steps. Unresolved
// placeholders are left in place rather than silently blanked.
func interpolate(content string, data map[string]store.StepData) string {
	return placeholderRe.ReplaceAllStringFunc(content, func(match string) string {
		groups := placeholderRe.FindStringSubmatch(match)
		stepID := groups[1]
		field := strings.TrimPrefix(groups[2], ".")

		d, ok := data[stepID]
		if !ok {
			return match
		}
		if v, ok := stepValue(d, field); ok {
			return v
		}
		return match
	})
}

// resolveParams turns a tool call's declared parameters into concrete values,
// resolving $input and $step:<id> references against recorded data. current
// is the data just recorded at the step invoking the tool.
func resolveParams(params map[string]any, current store.StepData, data map[string]store.StepData) (map[string]any, error) {
	resolved := make(map[string]any, len(params))
	for name, value := range params {
		s, ok := value.(string)
		if !ok {
			resolved[name] = value
			continue
		}

		switch {
		case s == "$input":
			v, _ := stepValue(current, "")
			resolved[name] = v

		case strings.HasPrefix(s, "$step:"):
			ref := strings.TrimPrefix(s, "$step:")
			field := ""
			if i := strings.IndexByte(ref, '.'); i >= 0 {
				ref, field = ref[:i], ref[i+1:]
			}
			d, ok := data[ref]
			if !ok {
				return nil, fmt.Errorf("param %q: no data recorded for step %q", name, ref)
			}
			v, ok := stepValue(d, field)
			if !ok {
				return nil, fmt.Errorf("param %q: step %q has no %s", name, ref, field)
			}
			resolved[name] = v

		default:
			resolved[name] = s
		}
	}
	return resolved, nil
}

// stepValue extracts one field from recorded step data. An empty field means
// "whatever was recorded": text if present, otherwise the selection.
func stepValue(d store.StepData, field string) (string, bool) {
	switch field {
	case "text":
		return d.Text, d.Text != ""
	case "selection":
		if d.Selection != "" {
			return d.Selection, true
		}
		if len(d.Selections) > 0 {
			return strings.Join(d.Selections, ","), true
		}
		return "", false
	default:
		if d.Text != "" {
			return d.Text, true
		}
		if d.Selection != "" {
			return d.Selection, true
		}
		if len(d.Selections) > 0 {
			return strings.Join(d.Selections, ","), true
		}
		return "", false
	}
}
