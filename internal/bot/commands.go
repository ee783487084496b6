package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"recurring-planner/internal/model"
	"recurring-planner/internal/recurrence"
	"recurring-planner/internal/service"
	"recurring-planner/internal/store"
)

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	name := user.DisplayName()
	if name == "" {
		name = "there"
	}
	text := fmt.Sprintf("👋 Hi, %s!\n<b>I keep your recurring tasks materialized ahead of time.</b>\n\n%s",
		escape(name), commandList)
	return b.sendText(msg.Chat.ID, text)
}

const commandList = "Commands:\n" +
	"• /new &lt;daily|weekly|monthly|yearly&gt;[/N] &lt;YYYY-MM-DD&gt; &lt;title&gt; — add a template\n" +
	"• /templates — your templates and their schedules\n" +
	"• /upcoming [days] — generated tasks coming up\n" +
	"• /pause &lt;id&gt;, /resume &lt;id&gt; — stop or restart a template\n" +
	"• /generate — run generation now\n" +
	"• /help — this list"

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	return b.sendText(msg.Chat.ID, "ℹ️ <b>Help</b>\n"+commandList)
}

// handleGenerate runs a batch on demand and replies with its outcome.
func (b *Bot) handleGenerate(ctx context.Context, msg *tgbotapi.Message) error {
	if !b.cfg.IsAdmin(msg.From.ID) {
		return b.sendText(msg.Chat.ID, "⛔ Only administrators can run generation.")
	}

	if b.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.BatchTimeout)
		defer cancel()
	}
	report, err := b.gen.Generate(ctx, b.now())
	if err != nil {
		b.log.Error("manual generation failed", zap.Error(err))
		return b.sendText(msg.Chat.ID, fmt.Sprintf("❌ Generation failed: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, formatReport(report))
}

func formatReport(r service.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ Generated <b>%d</b> task(s) across %d template(s).", r.TotalInstancesCreated(), r.TemplatesProcessed())
	if failures := r.Failures(); len(failures) > 0 {
		fmt.Fprintf(&sb, "\n⚠️ %d template(s) failed:", len(failures))
		for _, f := range failures {
			fmt.Fprintf(&sb, "\n   #%d: %s", f.TemplateID, escape(f.Error))
		}
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&sb, "\n⏱ %d template(s) skipped, the run timed out.", len(r.Skipped))
	}
	return sb.String()
}

func (b *Bot) handleTemplates(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	templates, err := b.templates.List(ctx, user.ID)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not load templates: %s", escape(err.Error())))
	}
	if len(templates) == 0 {
		return b.sendText(msg.Chat.ID, "You have no recurring templates yet. Add one with /new.")
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Your templates</b>\n\n")
	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, t := range templates {
		builder.WriteString(b.formatTemplate(t))
		label := fmt.Sprintf("⏸ #%d · %s", t.ID, shortTitle(t.Title, 20))
		data := fmt.Sprintf("%s%d", cbPausePrefix, t.ID)
		if !t.Active {
			label = fmt.Sprintf("▶️ #%d · %s", t.ID, shortTitle(t.Title, 20))
			data = fmt.Sprintf("%s%d", cbResumePrefix, t.ID)
		}
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, data)))
	}
	return b.sendWithReplyMarkup(msg.Chat.ID, strings.TrimSpace(builder.String()), tgbotapi.NewInlineKeyboardMarkup(buttons...))
}

func (b *Bot) formatTemplate(t model.Template) string {
	var sb strings.Builder
	icon := "♻️"
	if !t.Active {
		icon = "⏸"
	}
	fmt.Fprintf(&sb, "%s <b>#%d</b> %s\n", icon, t.ID, escape(normalizeTitle(t.Title)))
	fmt.Fprintf(&sb, "   🔄 %s\n", escape(service.Describe(t)))
	fmt.Fprintf(&sb, "   <code>%s</code>\n", escape(b.templates.RRule(t)))
	if t.GeneratedUntil != nil {
		fmt.Fprintf(&sb, "   ✅ Generated through %s (%d so far)\n", t.GeneratedUntil.Format(time.DateOnly), t.OccurrencesGenerated)
	} else {
		sb.WriteString("   ✅ Nothing generated yet\n")
	}
	sb.WriteByte('\n')
	return sb.String()
}

// handleNew parses "/new weekly/2 2024-01-01 Team sync".
func (b *Bot) handleNew(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	input, err := parseNewArgs(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("%s\nUsage: /new weekly/2 2024-01-01 Team sync", escape(err.Error())))
	}
	input.UserID = user.ID

	t, err := b.templates.CreateTemplate(ctx, input)
	if err != nil {
		var invalid *recurrence.InvalidPatternError
		if errors.As(err, &invalid) {
			return b.sendText(msg.Chat.ID, "❌ Invalid schedule:\n• "+escape(strings.Join(invalid.Violations, "\n• ")))
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not create template: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, "🆕 Template created.\n\n"+strings.TrimSpace(b.formatTemplate(*t)))
}

func parseNewArgs(args string) (service.TemplateInput, error) {
	fields := strings.Fields(args)
	if len(fields) < 3 {
		return service.TemplateInput{}, errors.New("need a frequency, a start date and a title")
	}

	freq, intervalRaw, hasInterval := strings.Cut(fields[0], "/")
	interval := 1
	if hasInterval {
		n, err := strconv.Atoi(intervalRaw)
		if err != nil {
			return service.TemplateInput{}, fmt.Errorf("interval %q is not a number", intervalRaw)
		}
		interval = n
	}

	anchor, err := time.Parse(time.DateOnly, fields[1])
	if err != nil {
		return service.TemplateInput{}, fmt.Errorf("start date %q must be YYYY-MM-DD", fields[1])
	}

	return service.TemplateInput{
		Title:      strings.Join(fields[2:], " "),
		AnchorDate: anchor,
		Pattern:    recurrence.PatternInput{Frequency: freq, Interval: interval},
	}, nil
}

func (b *Bot) handleSetActive(ctx context.Context, msg *tgbotapi.Message, active bool) error {
	id, err := parseID(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Give the template id, e.g. /%s 3", msg.Command()))
	}
	return b.setActive(ctx, msg.Chat.ID, msg.From, id, active)
}

// setActive pauses or resumes a template the caller owns. Admins may touch any template.
func (b *Bot) setActive(ctx context.Context, chatID int64, from *tgbotapi.User, id uint, active bool) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	t, err := b.templates.Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return b.sendText(chatID, "Template not found.")
	case err != nil:
		return b.sendText(chatID, fmt.Sprintf("Error: %s", escape(err.Error())))
	}
	if t.UserID != user.ID && !(len(b.cfg.TelegramAdmins) > 0 && b.cfg.IsAdmin(from.ID)) {
		return b.sendText(chatID, "Template not found.")
	}

	op, verb := b.templates.Pause, "paused"
	if active {
		op, verb = b.templates.Resume, "resumed"
	}
	if err := op(ctx, id); err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not update template: %s", escape(err.Error())))
	}
	return b.sendText(chatID, fmt.Sprintf("Template \"%s\" %s.", escape(normalizeTitle(t.Title)), verb))
}

func (b *Bot) handleUpcoming(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	days := defaultUpcomingDays
	if raw := strings.TrimSpace(msg.CommandArguments()); msg.IsCommand() && raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return b.sendText(msg.Chat.ID, "Days must be a non-negative number, e.g. /upcoming 14")
		}
		days = min(n, maxUpcomingDays)
	}

	now := b.now().In(b.cfg.Location())
	text, err := b.agenda.Upcoming(ctx, user.ID, now, days)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not build the agenda: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, text)
}
