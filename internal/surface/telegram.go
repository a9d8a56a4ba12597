package surface

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	tgPayloadOption  = "wf:opt:"
	tgPayloadConfirm = "wf:confirm:"
	tgPayloadBack    = "wf:back"
	tgPayloadCancel  = "wf:cancel"
)

// TelegramSurface renders workflow primitives as Telegram messages with
// inline keyboards and feeds message/callback updates into the engine.
type TelegramSurface struct {
	Bot        *tgbotapi.BotAPI
	Dispatcher Dispatcher

	// Start launches a workflow when the user issues /flow <id>. Wired by
	// the host.
	Start func(ctx context.Context, workflowID, userID string) error
	// Observe reports inbound traffic for proactive routing. Optional.
	Observe func(userID string)
}

func NewTelegramSurface(token string, dispatcher Dispatcher) (*TelegramSurface, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	return &TelegramSurface{
		Bot:        bot,
		Dispatcher: dispatcher,
	}, nil
}

func (tg *TelegramSurface) Name() string { return "telegram" }

func (tg *TelegramSurface) Capabilities() Capabilities {
	return Capabilities{
		InlineButtons:    true,
		MultiSelect:      false,
		Reactions:        true,
		MessageEffects:   false,
		FileUpload:       true,
		VoiceMessages:    true,
		Threading:        false,
		RichText:         true,
		Modals:           false,
		MaxButtonsPerRow: 8,
		MaxButtonRows:    10,
		MaxMessageLength: 4096,
	}
}

// Run consumes the update channel until ctx is cancelled.
func (tg *TelegramSurface) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			tg.Bot.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			tg.handleUpdate(ctx, update)
		}
	}
}

func (tg *TelegramSurface) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	var ev Event

	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		// Telegram omits Message for callbacks on old or inaccessible
		// messages; there is no chat to route the event to.
		if cq.Message == nil {
			return
		}
		ev = Event{
			UserID:  strconv.FormatInt(cq.Message.Chat.ID, 10),
			Target:  strconv.FormatInt(cq.Message.Chat.ID, 10),
			Payload: cq.Data,
			AckID:   cq.ID,
		}
	case update.Message != nil:
		msg := update.Message
		ev = Event{
			UserID: strconv.FormatInt(msg.Chat.ID, 10),
			Target: strconv.FormatInt(msg.Chat.ID, 10),
			Text:   msg.Text,
		}
		if msg.IsCommand() && msg.Command() == "flow" {
			tg.startFlow(ctx, ev.UserID, msg.CommandArguments())
			return
		}
	default:
		return
	}

	if tg.Observe != nil {
		tg.Observe(ev.UserID)
	}

	var current *Primitive
	if p, ok := tg.Dispatcher.Prompt(ev.UserID); ok {
		current = &p
	}

	action := tg.ParseAction(ev, current)
	if action == nil {
		return
	}
	if err := tg.Dispatcher.Dispatch(ctx, ev.UserID, *action); err != nil {
		log.Printf("Error handling telegram action: %v", err)
	}
}

func (tg *TelegramSurface) startFlow(ctx context.Context, userID, args string) {
	id := strings.TrimSpace(args)
	if id == "" || tg.Start == nil {
		return
	}
	if err := tg.Start(ctx, id, userID); err != nil {
		log.Printf("Error starting workflow %q for %s: %v", id, userID, err)
		if _, serr := tg.SendMessage(ctx, userID, fmt.Sprintf("Couldn't start %q.", id)); serr != nil {
			log.Printf("Error reporting start failure: %v", serr)
		}
	}
}

func (tg *TelegramSurface) ParseAction(ev Event, current *Primitive) *Action {
	if ev.Payload != "" {
		a := parseTelegramPayload(ev.Payload)
		if a == nil {
			return nil
		}
		a.UserID = ev.UserID
		a.Surface = tg.Name()
		a.AckID = ev.AckID
		return a
	}

	a := ParseText(ev.Text, current)
	if a == nil {
		return nil
	}
	a.UserID = ev.UserID
	a.Surface = tg.Name()
	return a
}

func parseTelegramPayload(payload string) *Action {
	switch {
	case payload == tgPayloadCancel:
		return &Action{Kind: ActionCancel}
	case payload == tgPayloadBack:
		return &Action{Kind: ActionBack}
	case strings.HasPrefix(payload, tgPayloadConfirm):
		return &Action{Kind: ActionConfirm, Confirmed: strings.TrimPrefix(payload, tgPayloadConfirm) == "yes"}
	case strings.HasPrefix(payload, tgPayloadOption):
		return &Action{Kind: ActionSelect, OptionID: strings.TrimPrefix(payload, tgPayloadOption)}
	}
	return nil
}

func (tg *TelegramSurface) Render(ctx context.Context, target string, p Primitive, d Decision) (RenderResult, error) {
	switch d.Strategy {
	case StrategySilentOmit:
		return RenderResult{}, nil
	case StrategyNotifyBlocked:
		return RenderResult{}, fmt.Errorf("primitive %q blocked on telegram: %s", p.Kind, d.BlockedReason)
	case StrategyTextFallback:
		id, err := tg.SendMessage(ctx, target, d.FallbackText)
		return RenderResult{MessageID: id, UsedFallback: true}, err
	}

	chatID, err := tg.chatID(target)
	if err != nil {
		return RenderResult{}, err
	}

	switch p.Kind {
	case KindChoice:
		msg := tgbotapi.NewMessage(chatID, p.Text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.ReplyMarkup = tg.choiceKeyboard(p.Options)
		return tg.sendResult(msg)

	case KindConfirm:
		msg := tgbotapi.NewMessage(chatID, p.Text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.ReplyMarkup = tg.confirmKeyboard()
		return tg.sendResult(msg)

	case KindMedia:
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileURL(p.MediaURL))
		doc.Caption = p.Text
		return tg.sendResult(doc)

	default:
		id, err := tg.SendMessage(ctx, target, p.Text)
		return RenderResult{MessageID: id}, err
	}
}

func (tg *TelegramSurface) choiceKeyboard(options []Option) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(options)+1)
	for _, opt := range options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(opt.Label, tgPayloadOption+opt.ID),
		))
	}
	rows = append(rows, tg.navRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (tg *TelegramSurface) confirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes", tgPayloadConfirm+"yes"),
			tgbotapi.NewInlineKeyboardButtonData("No", tgPayloadConfirm+"no"),
		),
		tg.navRow(),
	)
}

func (tg *TelegramSurface) navRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("◀ Back", tgPayloadBack),
		tgbotapi.NewInlineKeyboardButtonData("✖ Cancel", tgPayloadCancel),
	)
}

func (tg *TelegramSurface) sendResult(c tgbotapi.Chattable) (RenderResult, error) {
	sent, err := tg.Bot.Send(c)
	if err != nil {
		return RenderResult{}, err
	}
	return RenderResult{MessageID: strconv.Itoa(sent.MessageID)}, nil
}

func (tg *TelegramSurface) SendMessage(ctx context.Context, target, text string) (string, error) {
	chatID, err := tg.chatID(target)
	if err != nil {
		return "", err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	sent, err := tg.Bot.Send(msg)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (tg *TelegramSurface) UpdateMessage(ctx context.Context, target, messageID, text string) error {
	chatID, err := tg.chatID(target)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message ID: %s", messageID)
	}
	_, err = tg.Bot.Send(tgbotapi.NewEditMessageText(chatID, msgID, text))
	return err
}

func (tg *TelegramSurface) DeleteMessage(ctx context.Context, target, messageID string) error {
	chatID, err := tg.chatID(target)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message ID: %s", messageID)
	}
	_, err = tg.Bot.Request(tgbotapi.NewDeleteMessage(chatID, msgID))
	return err
}

func (tg *TelegramSurface) AcknowledgeAction(ctx context.Context, ackID string) error {
	_, err := tg.Bot.Request(tgbotapi.NewCallback(ackID, ""))
	return err
}

func (tg *TelegramSurface) chatID(target string) (int64, error) {
	id, err := strconv.ParseInt(target, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid chat ID: %s", target)
	}
	return id, nil
}
