package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"recurring-planner/internal/model"
	"recurring-planner/internal/recurrence"
)

// UpcomingLister reads a user's open generated instances in a date range.
type UpcomingLister interface {
	ListUpcoming(ctx context.Context, userID uint, from, to time.Time) ([]model.Task, error)
}

// CategoryNamer maps category IDs to display names.
type CategoryNamer interface {
	Names(ctx context.Context, userID uint) (map[uint]string, error)
}

// AgendaService builds human-readable summaries of upcoming generated tasks
// for chat replies. Output is Telegram HTML.
type AgendaService struct {
	tasks      UpcomingLister
	categories CategoryNamer
}

// NewAgendaService builds the service. categories may be nil.
func NewAgendaService(tasks UpcomingLister, categories CategoryNamer) *AgendaService {
	return &AgendaService{tasks: tasks, categories: categories}
}

// Upcoming lists the user's instances from today through today+days,
// grouped by date.
func (s *AgendaService) Upcoming(ctx context.Context, userID uint, now time.Time, days int) (string, error) {
	if days < 0 {
		days = 0
	}
	from := recurrence.Day(now)
	to := from.AddDate(0, 0, days)

	tasks, err := s.tasks.ListUpcoming(ctx, userID, from, to)
	if err != nil {
		return "", err
	}

	catNames := map[uint]string{}
	if s.categories != nil {
		if catNames, err = s.categories.Names(ctx, userID); err != nil {
			return "", err
		}
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Upcoming tasks</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s … %s\n", from.Format(time.DateOnly), to.Format(time.DateOnly)))

	if len(tasks) == 0 {
		builder.WriteString("\n— nothing scheduled\n")
		return strings.TrimSpace(builder.String()), nil
	}

	var current time.Time
	for _, task := range tasks {
		day := recurrence.Day(*task.InstanceDate)
		if !day.Equal(current) {
			current = day
			builder.WriteString(fmt.Sprintf("\n<b>%s</b>\n", day.Format("Mon 2006-01-02")))
		}
		builder.WriteString(formatInstance(task, day.Equal(from), catNames))
	}
	return strings.TrimSpace(builder.String()), nil
}

func formatInstance(task model.Task, today bool, catNames map[uint]string) string {
	var sb strings.Builder

	icon := "🟢"
	if today {
		icon = "⏳"
	}
	sb.WriteString(fmt.Sprintf("%s %s", icon, html.EscapeString(strings.TrimSpace(task.Title))))

	if task.CategoryID != nil {
		if name := strings.TrimSpace(catNames[*task.CategoryID]); name != "" {
			sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(name)))
		}
	}
	if task.Description != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(strings.TrimSpace(task.Description))))
	}

	sb.WriteByte('\n')
	return sb.String()
}
