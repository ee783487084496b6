// Package bot is a Telegram front end for triggering generation and managing
// the caller's recurring templates.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"recurring-planner/internal/config"
	"recurring-planner/internal/model"
	"recurring-planner/internal/service"
)

const (
	cbPausePrefix  = "pause:"
	cbResumePrefix = "resume:"
)

const (
	menuLabelTemplates = "📋 Templates"
	menuLabelUpcoming  = "🗓 Upcoming"
	menuLabelGenerate  = "⚙️ Generate"
	menuLabelHelp      = "ℹ️ Help"
)

const (
	defaultUpcomingDays = 7
	maxUpcomingDays     = 60
)

// Sender is the part of the Telegram API the bot uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// UserRegistry maps Telegram accounts to local users.
type UserRegistry interface {
	UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error)
}

// Generator runs one generation batch.
type Generator interface {
	Generate(ctx context.Context, now time.Time) (service.Report, error)
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api       Sender
	poller    *tgbotapi.BotAPI
	users     UserRegistry
	templates *service.TemplateService
	agenda    *service.AgendaService
	gen       Generator
	cfg       config.Config
	now       func() time.Time
	log       *zap.Logger
}

// New authorizes against Telegram with the configured token.
func New(cfg config.Config, users UserRegistry, templates *service.TemplateService, agenda *service.AgendaService, gen Generator, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info("bot authorized", zap.String("account", api.Self.UserName))

	b := NewWithSender(api, cfg, users, templates, agenda, gen, log)
	b.poller = api
	return b, nil
}

// NewWithSender builds a bot around an existing Sender. Only bots created by
// New can Start polling.
func NewWithSender(api Sender, cfg config.Config, users UserRegistry, templates *service.TemplateService, agenda *service.AgendaService, gen Generator, log *zap.Logger) *Bot {
	return &Bot{
		api:       api,
		users:     users,
		templates: templates,
		agenda:    agenda,
		gen:       gen,
		cfg:       cfg,
		now:       time.Now,
		log:       log.Named("bot"),
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.poller == nil {
		return errors.New("bot has no telegram connection")
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.poller.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.poller.StopReceivingUpdates()
	}()

	for update := range updates {
		b.HandleUpdate(ctx, update)
	}
	return nil
}

// HandleUpdate dispatches one update. Errors are logged, not returned.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
			b.log.Warn("handle callback", zap.Error(err))
		}
	case update.Message != nil:
		if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			return
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			b.log.Warn("handle message", zap.Error(err))
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
		return b.sendText(msg.Chat.ID, "I did not understand that. Try /help for the list of commands.")
	}

	b.log.Info("command",
		zap.Int64("telegram_id", msg.From.ID),
		zap.String("command", msg.Command()),
		zap.String("args", msg.CommandArguments()),
	)
	return b.handleCommand(ctx, msg)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "generate":
		return b.handleGenerate(ctx, msg)
	case "templates":
		return b.handleTemplates(ctx, msg)
	case "new":
		return b.handleNew(ctx, msg)
	case "pause":
		return b.handleSetActive(ctx, msg, false)
	case "resume":
		return b.handleSetActive(ctx, msg, true)
	case "upcoming":
		return b.handleUpcoming(ctx, msg)
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelTemplates):
		return true, b.handleTemplates(ctx, msg)
	case strings.ToLower(menuLabelUpcoming):
		return true, b.handleUpcoming(ctx, msg)
	case strings.ToLower(menuLabelGenerate):
		return true, b.handleGenerate(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warn("callback ack", zap.Error(err))
	}

	data := cb.Data
	var active bool
	var prefix string
	switch {
	case strings.HasPrefix(data, cbPausePrefix):
		prefix = cbPausePrefix
	case strings.HasPrefix(data, cbResumePrefix):
		prefix, active = cbResumePrefix, true
	default:
		return nil
	}
	id, err := parseID(strings.TrimPrefix(data, prefix))
	if err != nil {
		return nil
	}
	b.log.Info("callback", zap.Int64("telegram_id", cb.From.ID), zap.String("data", data))
	return b.setActive(ctx, cb.Message.Chat.ID, cb.From, id, active)
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.users.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup any) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelTemplates),
			tgbotapi.NewKeyboardButton(menuLabelUpcoming),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelGenerate),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func parseID(raw string) (uint, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || value == 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(value), nil
}

func escape(s string) string {
	return html.EscapeString(s)
}

func shortTitle(title string, maxLen int) string {
	clean := normalizeTitle(strings.ReplaceAll(title, "\n", " "))
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
