package surface

import (
	"fmt"
	"strings"
)

// Strategy is the outcome of capability negotiation for one primitive.
type Strategy string

const (
	// StrategyNative means the surface supports the primitive as-is.
	StrategyNative Strategy = "native"
	// StrategyTextFallback renders a numbered textual equivalent. Always
	// available: plain text is the universal floor.
	StrategyTextFallback Strategy = "text-fallback"
	// StrategySilentOmit drops a primitive that has no safe textual
	// fallback (e.g. a visual effect) without blocking the workflow.
	StrategySilentOmit Strategy = "silent-omit"
	// StrategyNotifyBlocked means the primitive is essential and the surface
	// cannot express it even via fallback. The step must not be sent.
	StrategyNotifyBlocked Strategy = "notify-blocked"
)

// Decision is the result of Negotiate.
type Decision struct {
	Strategy      Strategy
	FallbackText  string // set for text-fallback
	BlockedReason string // set for notify-blocked
}

// Negotiate maps one primitive plus a surface's capability set to a concrete
// rendering strategy. Purely a function of its two inputs: identical
// (primitive, capabilities) pairs always yield identical decisions.
func Negotiate(p Primitive, caps Capabilities) Decision {
	switch p.Kind {
	case KindChoice:
		if caps.InlineButtons && fitsButtonGrid(len(p.Options), caps) {
			return Decision{Strategy: StrategyNative}
		}
		return Decision{Strategy: StrategyTextFallback, FallbackText: FallbackText(p)}

	case KindMultiChoice:
		if caps.InlineButtons && caps.MultiSelect && fitsButtonGrid(len(p.Options), caps) {
			return Decision{Strategy: StrategyNative}
		}
		return Decision{Strategy: StrategyTextFallback, FallbackText: FallbackText(p)}

	case KindConfirm:
		if caps.InlineButtons && fitsButtonGrid(2, caps) {
			return Decision{Strategy: StrategyNative}
		}
		return Decision{Strategy: StrategyTextFallback, FallbackText: FallbackText(p)}

	case KindTextInput, KindInfo:
		// Free text is the one thing every chat surface can do.
		return Decision{Strategy: StrategyNative}

	case KindMedia:
		if caps.FileUpload {
			return Decision{Strategy: StrategyNative}
		}
		if p.MediaURL != "" {
			// The link carries the same information as the upload.
			return Decision{Strategy: StrategyTextFallback, FallbackText: mediaFallback(p)}
		}
		return Decision{
			Strategy:      StrategyNotifyBlocked,
			BlockedReason: "surface cannot deliver media and no link is available",
		}

	case KindEffect:
		if caps.MessageEffects {
			return Decision{Strategy: StrategyNative}
		}
		// A visual effect has no textual equivalent worth sending.
		return Decision{Strategy: StrategySilentOmit}
	}

	return Decision{
		Strategy:      StrategyNotifyBlocked,
		BlockedReason: fmt.Sprintf("unknown primitive kind %q", p.Kind),
	}
}

func fitsButtonGrid(n int, caps Capabilities) bool {
	perRow := caps.MaxButtonsPerRow
	rows := caps.MaxButtonRows
	if perRow <= 0 || rows <= 0 {
		return false
	}
	return n <= perRow*rows
}

// FallbackText renders a primitive as its plain-text equivalent: the form
// every richer surface degrades to and the text baseline sends natively.
func FallbackText(p Primitive) string {
	var b strings.Builder
	b.WriteString(p.Text)

	switch p.Kind {
	case KindChoice:
		b.WriteString("\n")
		for i, opt := range p.Options {
			fmt.Fprintf(&b, "\n%d. %s", i+1, opt.Label)
		}
		b.WriteString("\n\nReply with a number.")
	case KindMultiChoice:
		b.WriteString("\n")
		for i, opt := range p.Options {
			fmt.Fprintf(&b, "\n%d. %s", i+1, opt.Label)
		}
		b.WriteString("\n\nReply with numbers separated by commas (e.g. 1,3).")
	case KindConfirm:
		b.WriteString(" (yes/no)")
	}

	return b.String()
}

func mediaFallback(p Primitive) string {
	if p.Text == "" {
		return p.MediaURL
	}
	return p.Text + "\n" + p.MediaURL
}
