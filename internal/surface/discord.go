package surface

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	dcPayloadOption  = "wf:opt:"
	dcPayloadMulti   = "wf:multi"
	dcPayloadConfirm = "wf:confirm:"
	dcPayloadBack    = "wf:back"
	dcPayloadCancel  = "wf:cancel"

	dcInteractionTTL = 10 * time.Minute
)

// DiscordSurface renders workflow primitives as Discord messages with
// buttons and select menus, and feeds message/interaction events into the
// engine.
type DiscordSurface struct {
	Session    *discordgo.Session
	Dispatcher Dispatcher

	Start   func(ctx context.Context, workflowID, userID string) error
	Observe func(userID string)

	mu       sync.Mutex
	channels map[string]string // userID -> DM channel ID
	pending  map[string]*pendingInteraction
}

// pendingInteraction holds an unacknowledged interaction so the engine can
// acknowledge it by ID later.
type pendingInteraction struct {
	interaction *discordgo.Interaction
	seen        time.Time
}

func NewDiscordSurface(token string, dispatcher Dispatcher) (*DiscordSurface, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	d := &DiscordSurface{
		Session:    session,
		Dispatcher: dispatcher,
		channels:   make(map[string]string),
		pending:    make(map[string]*pendingInteraction),
	}
	session.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	session.AddHandler(d.onMessage)
	session.AddHandler(d.onInteraction)
	return d, nil
}

func (d *DiscordSurface) Name() string { return "discord" }

func (d *DiscordSurface) Capabilities() Capabilities {
	return Capabilities{
		InlineButtons:    true,
		MultiSelect:      true,
		Reactions:        true,
		MessageEffects:   false,
		FileUpload:       true,
		VoiceMessages:    false,
		Threading:        true,
		RichText:         true,
		Modals:           true,
		MaxButtonsPerRow: 5,
		MaxButtonRows:    5,
		MaxMessageLength: 2000,
	}
}

// Run opens the gateway connection and expires stale interactions until ctx
// is cancelled.
func (d *DiscordSurface) Run(ctx context.Context) error {
	if err := d.Session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	log.Printf("Connected to Discord as %s", d.Session.State.User.Username)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return d.Session.Close()
		case <-ticker.C:
			d.expirePending()
		}
	}
}

func (d *DiscordSurface) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
	defer cancel()

	userID := m.Author.ID
	d.rememberChannel(userID, m.ChannelID)
	if d.Observe != nil {
		d.Observe(userID)
	}

	if strings.HasPrefix(m.Content, "!flow ") {
		d.startFlow(ctx, userID, strings.TrimPrefix(m.Content, "!flow "))
		return
	}

	ev := Event{UserID: userID, Target: m.ChannelID, Text: m.Content}
	d.dispatch(ctx, ev)
}

func (d *DiscordSurface) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}

	userID := interactionUserID(i.Interaction)
	if userID == "" {
		return
	}
	d.rememberChannel(userID, i.ChannelID)
	if d.Observe != nil {
		d.Observe(userID)
	}

	d.mu.Lock()
	d.pending[i.ID] = &pendingInteraction{interaction: i.Interaction, seen: time.Now()}
	d.mu.Unlock()

	data := i.MessageComponentData()
	payload := data.CustomID
	if payload == dcPayloadMulti {
		payload = dcPayloadMulti + ":" + strings.Join(data.Values, ",")
	}

	ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
	defer cancel()
	d.dispatch(ctx, Event{UserID: userID, Target: i.ChannelID, Payload: payload, AckID: i.ID})
}

func (d *DiscordSurface) dispatch(ctx context.Context, ev Event) {
	var current *Primitive
	if p, ok := d.Dispatcher.Prompt(ev.UserID); ok {
		current = &p
	}

	action := d.ParseAction(ev, current)
	if action == nil {
		return
	}
	if err := d.Dispatcher.Dispatch(ctx, ev.UserID, *action); err != nil {
		log.Printf("Error handling discord action: %v", err)
	}
}

func (d *DiscordSurface) startFlow(ctx context.Context, userID, args string) {
	id := strings.TrimSpace(args)
	if id == "" || d.Start == nil {
		return
	}
	if err := d.Start(ctx, id, userID); err != nil {
		log.Printf("Error starting workflow %q for %s: %v", id, userID, err)
	}
}

func interactionUserID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func (d *DiscordSurface) ParseAction(ev Event, current *Primitive) *Action {
	if ev.Payload != "" {
		a := parseDiscordPayload(ev.Payload)
		if a == nil {
			return nil
		}
		a.UserID = ev.UserID
		a.Surface = d.Name()
		a.AckID = ev.AckID
		return a
	}

	a := ParseText(ev.Text, current)
	if a == nil {
		return nil
	}
	a.UserID = ev.UserID
	a.Surface = d.Name()
	return a
}

func parseDiscordPayload(payload string) *Action {
	switch {
	case payload == dcPayloadCancel:
		return &Action{Kind: ActionCancel}
	case payload == dcPayloadBack:
		return &Action{Kind: ActionBack}
	case strings.HasPrefix(payload, dcPayloadConfirm):
		return &Action{Kind: ActionConfirm, Confirmed: strings.TrimPrefix(payload, dcPayloadConfirm) == "yes"}
	case strings.HasPrefix(payload, dcPayloadMulti+":"):
		raw := strings.TrimPrefix(payload, dcPayloadMulti+":")
		ids := strings.Split(raw, ",")
		if len(ids) == 0 || ids[0] == "" {
			return nil
		}
		return &Action{Kind: ActionMultiSelect, OptionIDs: ids}
	case strings.HasPrefix(payload, dcPayloadOption):
		return &Action{Kind: ActionSelect, OptionID: strings.TrimPrefix(payload, dcPayloadOption)}
	}
	return nil
}

func (d *DiscordSurface) Render(ctx context.Context, target string, p Primitive, dec Decision) (RenderResult, error) {
	switch dec.Strategy {
	case StrategySilentOmit:
		return RenderResult{}, nil
	case StrategyNotifyBlocked:
		return RenderResult{}, fmt.Errorf("primitive %q blocked on discord: %s", p.Kind, dec.BlockedReason)
	case StrategyTextFallback:
		id, err := d.SendMessage(ctx, target, dec.FallbackText)
		return RenderResult{MessageID: id, UsedFallback: true}, err
	}

	channelID, err := d.channelFor(target)
	if err != nil {
		return RenderResult{}, err
	}

	var send *discordgo.MessageSend
	switch p.Kind {
	case KindChoice:
		send = &discordgo.MessageSend{Content: p.Text, Components: d.choiceComponents(p.Options)}
	case KindMultiChoice:
		send = &discordgo.MessageSend{Content: p.Text, Components: d.multiComponents(p.Options)}
	case KindConfirm:
		send = &discordgo.MessageSend{Content: p.Text, Components: d.confirmComponents()}
	case KindMedia:
		send = &discordgo.MessageSend{Content: strings.TrimSpace(p.Text + "\n" + p.MediaURL)}
	default:
		send = &discordgo.MessageSend{Content: p.Text}
	}

	msg, err := d.Session.ChannelMessageSendComplex(channelID, send)
	if err != nil {
		return RenderResult{}, err
	}
	return RenderResult{MessageID: msg.ID}, nil
}

func (d *DiscordSurface) choiceComponents(options []Option) []discordgo.MessageComponent {
	perRow := d.Capabilities().MaxButtonsPerRow
	var rows []discordgo.MessageComponent
	var row []discordgo.MessageComponent
	for _, opt := range options {
		row = append(row, discordgo.Button{
			Label:    opt.Label,
			Style:    discordgo.PrimaryButton,
			CustomID: dcPayloadOption + opt.ID,
		})
		if len(row) == perRow {
			rows = append(rows, discordgo.ActionsRow{Components: row})
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, discordgo.ActionsRow{Components: row})
	}
	return append(rows, d.navRow())
}

func (d *DiscordSurface) multiComponents(options []Option) []discordgo.MessageComponent {
	menuOptions := make([]discordgo.SelectMenuOption, 0, len(options))
	for _, opt := range options {
		menuOptions = append(menuOptions, discordgo.SelectMenuOption{Label: opt.Label, Value: opt.ID})
	}
	minValues := 1
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				CustomID:  dcPayloadMulti,
				MinValues: &minValues,
				MaxValues: len(options),
				Options:   menuOptions,
			},
		}},
		d.navRow(),
	}
}

func (d *DiscordSurface) confirmComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "Yes", Style: discordgo.SuccessButton, CustomID: dcPayloadConfirm + "yes"},
			discordgo.Button{Label: "No", Style: discordgo.DangerButton, CustomID: dcPayloadConfirm + "no"},
		}},
		d.navRow(),
	}
}

func (d *DiscordSurface) navRow() discordgo.MessageComponent {
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{Label: "Back", Style: discordgo.SecondaryButton, CustomID: dcPayloadBack},
		discordgo.Button{Label: "Cancel", Style: discordgo.SecondaryButton, CustomID: dcPayloadCancel},
	}}
}

func (d *DiscordSurface) SendMessage(ctx context.Context, target, text string) (string, error) {
	channelID, err := d.channelFor(target)
	if err != nil {
		return "", err
	}
	msg, err := d.Session.ChannelMessageSend(channelID, text)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (d *DiscordSurface) UpdateMessage(ctx context.Context, target, messageID, text string) error {
	channelID, err := d.channelFor(target)
	if err != nil {
		return err
	}
	_, err = d.Session.ChannelMessageEdit(channelID, messageID, text)
	return err
}

func (d *DiscordSurface) DeleteMessage(ctx context.Context, target, messageID string) error {
	channelID, err := d.channelFor(target)
	if err != nil {
		return err
	}
	return d.Session.ChannelMessageDelete(channelID, messageID)
}

// AcknowledgeAction answers a pending interaction with a deferred update, so
// the Discord client stops showing the spinner.
func (d *DiscordSurface) AcknowledgeAction(ctx context.Context, ackID string) error {
	d.mu.Lock()
	pi, ok := d.pending[ackID]
	delete(d.pending, ackID)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return d.Session.InteractionRespond(pi.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
}

// channelFor resolves a user ID to a DM channel, creating one on first use.
// A channel ID passed directly is used as-is.
func (d *DiscordSurface) channelFor(target string) (string, error) {
	d.mu.Lock()
	if ch, ok := d.channels[target]; ok {
		d.mu.Unlock()
		return ch, nil
	}
	d.mu.Unlock()

	ch, err := d.Session.UserChannelCreate(target)
	if err != nil {
		return "", fmt.Errorf("create DM channel for %s: %w", target, err)
	}
	d.rememberChannel(target, ch.ID)
	return ch.ID, nil
}

func (d *DiscordSurface) rememberChannel(userID, channelID string) {
	d.mu.Lock()
	d.channels[userID] = channelID
	d.mu.Unlock()
}

func (d *DiscordSurface) expirePending() {
	cutoff := time.Now().Add(-dcInteractionTTL)
	d.mu.Lock()
	for id, pi := range d.pending {
		if pi.seen.Before(cutoff) {
			delete(d.pending, id)
		}
	}
	d.mu.Unlock()
}
