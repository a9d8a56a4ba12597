package surface

import (
	"context"
	"time"
)

// PrimitiveKind identifies an abstract interaction request, independent of
// any chat platform.
type PrimitiveKind string

const (
	KindChoice      PrimitiveKind = "choice"
	KindMultiChoice PrimitiveKind = "multi-choice"
	KindConfirm     PrimitiveKind = "confirm"
	KindTextInput   PrimitiveKind = "text-input"
	KindInfo        PrimitiveKind = "info"
	KindMedia       PrimitiveKind = "media"
	KindEffect      PrimitiveKind = "effect"
)

// Option is one selectable item in a choice or multi-choice primitive.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Primitive is one abstract interaction request. The engine builds these from
// step definitions; adapters turn them into platform messages.
type Primitive struct {
	Kind     PrimitiveKind
	Text     string
	Options  []Option // choice, multi-choice
	MediaURL string   // media
	Effect   string   // effect
}

// Capabilities declares what a surface can express. Declared once per
// adapter; static configuration, never mutated at runtime.
type Capabilities struct {
	InlineButtons    bool
	MultiSelect      bool
	Reactions        bool
	MessageEffects   bool
	FileUpload       bool
	VoiceMessages    bool
	Threading        bool
	RichText         bool
	Modals           bool
	MaxButtonsPerRow int
	MaxButtonRows    int
	MaxMessageLength int
}

// ActionKind classifies a parsed user action.
type ActionKind string

const (
	ActionCancel      ActionKind = "cancel"
	ActionBack        ActionKind = "back"
	ActionSelect      ActionKind = "select"
	ActionMultiSelect ActionKind = "multi-select"
	ActionConfirm     ActionKind = "confirm"
	ActionText        ActionKind = "text"
)

// Action is the structured result of parsing an inbound platform event.
// Only this type crosses from an adapter into the engine.
type Action struct {
	Kind      ActionKind
	UserID    string
	Surface   string
	OptionID  string   // select
	OptionIDs []string // multi-select
	Confirmed bool     // confirm
	Text      string   // text
	AckID     string   // platform handle for AcknowledgeAction, if any
}

// Event is the adapter-neutral form of an inbound platform event. Adapters
// build one from their own update types before parsing.
type Event struct {
	UserID  string
	Target  string // chat/channel the event arrived in
	Text    string // message text, if any
	Payload string // button/component callback data, if any
	AckID   string
}

// RenderResult is the handle returned by a render, used later to retract or
// update the prompt.
type RenderResult struct {
	MessageID    string
	UsedFallback bool
}

// Adapter renders negotiated primitives to one platform and parses that
// platform's events back into Actions. One implementation per chat platform,
// plus the universal text-only baseline.
type Adapter interface {
	Name() string
	Capabilities() Capabilities

	// Render converts one primitive into a platform message. The decision
	// comes from Negotiate for this adapter's capabilities.
	Render(ctx context.Context, target string, p Primitive, d Decision) (RenderResult, error)

	// ParseAction turns an inbound event into an Action, or nil if the event
	// is unrelated to any workflow. current is the primitive the user is
	// being prompted with, nil if no workflow is active. Must not fail on
	// unrecognized events.
	ParseAction(ev Event, current *Primitive) *Action

	SendMessage(ctx context.Context, target, text string) (string, error)
	UpdateMessage(ctx context.Context, target, messageID, text string) error
	DeleteMessage(ctx context.Context, target, messageID string) error
	AcknowledgeAction(ctx context.Context, ackID string) error
}

// Dispatcher is what a gateway loop needs from the engine: the prompt a user
// is currently facing (so text can be parsed in context) and a way to hand
// over parsed actions. The engine owns all user-facing responses.
type Dispatcher interface {
	Prompt(userID string) (Primitive, bool)
	Dispatch(ctx context.Context, userID string, action Action) error
}

// Deadline for platform API calls issued by adapters.
const SendTimeout = 15 * time.Second
