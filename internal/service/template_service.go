package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"recurring-planner/internal/model"
	"recurring-planner/internal/recurrence"
	"recurring-planner/internal/store"
)

// TemplateInput represents data required to create a recurring template.
type TemplateInput struct {
	UserID      uint
	Title       string
	Description string
	Category    string
	AnchorDate  time.Time
	Pattern     recurrence.PatternInput
}

// CategoryResolver turns a category name into a stored category.
type CategoryResolver interface {
	GetOrCreate(ctx context.Context, userID uint, name string) (*model.Category, error)
}

// TemplateService wraps template-related business logic. Pattern validation
// happens here, so a template in the store is always well-formed.
type TemplateService struct {
	store      store.TemplateStore
	categories CategoryResolver
	weekStart  time.Weekday
	log        *zap.Logger
}

// NewTemplateService builds the service. categories may be nil, in which case
// category names are ignored.
func NewTemplateService(st store.TemplateStore, categories CategoryResolver, log *zap.Logger) *TemplateService {
	return &TemplateService{store: st, categories: categories, log: log.Named("templates")}
}

// WithWeekStart sets the week start used when rendering RRULEs. It must match
// the generator's; the default is Sunday.
func (s *TemplateService) WithWeekStart(d time.Weekday) *TemplateService {
	s.weekStart = d
	return s
}

// RRule renders t's pattern as RFC 5545 text.
func (s *TemplateService) RRule(t model.Template) string {
	return t.Pattern().RRule(t.AnchorDate, s.weekStart)
}

func (s *TemplateService) CreateTemplate(ctx context.Context, input TemplateInput) (*model.Template, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidTemplate)
	}
	if input.AnchorDate.IsZero() {
		return nil, fmt.Errorf("%w: anchor date is required", ErrInvalidTemplate)
	}

	anchor := recurrence.Day(input.AnchorDate)
	pattern, err := recurrence.NewPattern(input.Pattern, anchor)
	if err != nil {
		return nil, err
	}

	var categoryID *uint
	if input.Category != "" && s.categories != nil {
		category, err := s.categories.GetOrCreate(ctx, input.UserID, input.Category)
		if err != nil {
			return nil, err
		}
		if category != nil {
			categoryID = &category.ID
		}
	}

	t := model.Template{
		UserID:      input.UserID,
		CategoryID:  categoryID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		AnchorDate:  anchor,
		Active:      true,
	}
	t.SetPattern(pattern)

	if err := s.store.CreateTemplate(ctx, &t); err != nil {
		return nil, err
	}
	s.log.Info("template created",
		zap.Uint("template_id", t.ID),
		zap.Uint("user_id", t.UserID),
		zap.String("rrule", s.RRule(t)),
	)
	return &t, nil
}

// UpdatePattern replaces a template's pattern. Instances already generated and
// the cursor stay as they are; only future runs see the new pattern.
func (s *TemplateService) UpdatePattern(ctx context.Context, id uint, input recurrence.PatternInput) (*model.Template, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	pattern, err := recurrence.NewPattern(input, t.AnchorDate)
	if err != nil {
		return nil, err
	}
	t.SetPattern(pattern)
	if err := s.store.UpdatePattern(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info("template pattern updated", zap.Uint("template_id", id), zap.String("rrule", s.RRule(*t)))
	return t, nil
}

func (s *TemplateService) Pause(ctx context.Context, id uint) error {
	if err := s.store.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.log.Info("template paused", zap.Uint("template_id", id))
	return nil
}

func (s *TemplateService) Resume(ctx context.Context, id uint) error {
	if err := s.store.SetActive(ctx, id, true); err != nil {
		return err
	}
	s.log.Info("template resumed", zap.Uint("template_id", id))
	return nil
}

func (s *TemplateService) Get(ctx context.Context, id uint) (*model.Template, error) {
	return s.store.GetTemplate(ctx, id)
}

// List returns the user's templates; userID 0 lists all of them.
func (s *TemplateService) List(ctx context.Context, userID uint) ([]model.Template, error) {
	return s.store.ListTemplates(ctx, userID)
}

func (s *TemplateService) Instances(ctx context.Context, id uint) ([]model.Task, error) {
	if _, err := s.store.GetTemplate(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListInstances(ctx, id)
}

var weekdayShort = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// Describe renders a template's schedule as a short English phrase, e.g.
// "every 2 weeks on Mon, Wed until 2024-06-30".
func Describe(t model.Template) string {
	p := t.Pattern()

	var sb strings.Builder
	unit := map[recurrence.Frequency]string{
		recurrence.Daily:   "day",
		recurrence.Weekly:  "week",
		recurrence.Monthly: "month",
		recurrence.Yearly:  "year",
	}[p.Frequency]
	if unit == "" {
		unit = string(p.Frequency)
	}
	if p.Interval == 1 {
		sb.WriteString("every " + unit)
	} else {
		fmt.Fprintf(&sb, "every %d %ss", p.Interval, unit)
	}

	switch p.Frequency {
	case recurrence.Weekly:
		days := p.DaysOfWeek
		if len(days) == 0 {
			days = []time.Weekday{t.AnchorDate.Weekday()}
		}
		names := make([]string, 0, len(days))
		for _, d := range days {
			if d >= time.Sunday && d <= time.Saturday {
				names = append(names, weekdayShort[d])
			}
		}
		sb.WriteString(" on " + strings.Join(names, ", "))
	case recurrence.Monthly:
		dom := p.DayOfMonth
		if dom == 0 {
			dom = t.AnchorDate.Day()
		}
		fmt.Fprintf(&sb, " on day %d", dom)
	case recurrence.Yearly:
		sb.WriteString(" on " + t.AnchorDate.Format("Jan 2"))
	}

	fmt.Fprintf(&sb, " from %s", t.AnchorDate.Format(time.DateOnly))
	if p.EndDate != nil {
		fmt.Fprintf(&sb, " until %s", p.EndDate.Format(time.DateOnly))
	}
	if p.MaxOccurrences > 0 {
		fmt.Fprintf(&sb, ", %d times", p.MaxOccurrences)
	}
	return sb.String()
}
