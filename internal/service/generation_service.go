package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recurring-planner/internal/model"
	"recurring-planner/internal/recurrence"
	"recurring-planner/internal/store"
)

const (
	defaultHorizonDays = 90
	defaultAttempts    = 3
)

// GenerationConfig tunes a GenerationService.
type GenerationConfig struct {
	// HorizonDays is how far past today instances are materialized.
	HorizonDays int
	// Location decides which calendar day "now" falls on. Defaults to UTC.
	Location  *time.Location
	WeekStart time.Weekday
	// Concurrency bounds how many templates are processed at once.
	Concurrency int
	// Attempts bounds retries of a template whose cursor moved underneath it.
	Attempts int
}

// TemplateResult is one template's outcome in a Report.
type TemplateResult struct {
	TemplateID       uint       `json:"template_id"`
	InstancesCreated int        `json:"instances_created"`
	GeneratedUntil   *time.Time `json:"-"`
	Deactivated      bool       `json:"deactivated,omitempty"`
	Error            string     `json:"error,omitempty"`
	ErrorKind        ErrorKind  `json:"error_kind,omitempty"`
}

// Report summarizes one generation run.
type Report struct {
	RunID     uuid.UUID
	Timestamp time.Time
	Results   []TemplateResult
	// Skipped lists templates not started because the batch context ended.
	Skipped []uint
}

func (r Report) TemplatesProcessed() int {
	return len(r.Results)
}

func (r Report) TotalInstancesCreated() int {
	total := 0
	for _, res := range r.Results {
		total += res.InstancesCreated
	}
	return total
}

// Counts maps template ID to instances created.
func (r Report) Counts() map[uint]int {
	out := make(map[uint]int, len(r.Results))
	for _, res := range r.Results {
		out[res.TemplateID] = res.InstancesCreated
	}
	return out
}

// Failures returns the results that carry an error.
func (r Report) Failures() []TemplateResult {
	var out []TemplateResult
	for _, res := range r.Results {
		if res.Error != "" {
			out = append(out, res)
		}
	}
	return out
}

// GenerationService materializes task instances for active recurring templates.
// It keeps no state between runs besides what it writes to the store.
type GenerationService struct {
	store store.InstanceStore
	calc  recurrence.Calculator
	cfg   GenerationConfig
	log   *zap.Logger
}

func NewGenerationService(st store.InstanceStore, cfg GenerationConfig, log *zap.Logger) *GenerationService {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = defaultHorizonDays
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	return &GenerationService{
		store: st,
		calc:  recurrence.NewCalculator(cfg.WeekStart),
		cfg:   cfg,
		log:   log.Named("generation"),
	}
}

// Generate runs one batch as of now. Per-template failures are recorded in
// the report; only a failure to list templates returns an error.
//
// Once ctx is done no further templates are started. Templates already in
// progress run to completion so their state stays consistent.
func (s *GenerationService) Generate(ctx context.Context, now time.Time) (Report, error) {
	report := Report{RunID: uuid.New(), Timestamp: now}
	log := s.log.With(zap.String("run_id", report.RunID.String()))

	templates, err := s.store.ListActiveTemplates(ctx)
	if err != nil {
		log.Error("list active templates", zap.Error(err))
		return report, &BatchError{Op: "list active templates", Err: err}
	}

	today := recurrence.Day(now.In(s.cfg.Location))
	results := make([]*TemplateResult, len(templates))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, t := range templates {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res := s.processTemplate(context.WithoutCancel(ctx), log, t.ID, today)
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if res == nil {
			report.Skipped = append(report.Skipped, templates[i].ID)
			continue
		}
		report.Results = append(report.Results, *res)
	}

	log.Info("generation finished",
		zap.Time("now", now),
		zap.Int("templates", report.TemplatesProcessed()),
		zap.Int("instances_created", report.TotalInstancesCreated()),
		zap.Int("failures", len(report.Failures())),
		zap.Int("skipped", len(report.Skipped)),
	)
	return report, nil
}

// processTemplate never returns an error; failures land in the result.
func (s *GenerationService) processTemplate(ctx context.Context, log *zap.Logger, templateID uint, today time.Time) TemplateResult {
	log = log.With(zap.Uint("template_id", templateID))

	var (
		out unitOutcome
		err error
	)
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		out, err = s.generateTemplate(ctx, templateID, today)
		if !errors.Is(err, store.ErrStaleCursor) {
			break
		}
		log.Debug("template cursor moved, retrying", zap.Int("attempt", attempt))
	}

	res := TemplateResult{TemplateID: templateID}
	if err != nil {
		var storageErr *StorageError
		if !errors.As(err, &storageErr) && !errors.Is(err, recurrence.ErrInvalidPattern) {
			err = &StorageError{TemplateID: templateID, Op: "generation unit", Err: err}
		}
		res.Error = err.Error()
		res.ErrorKind = classify(err)
		log.Error("template generation failed", zap.String("kind", string(res.ErrorKind)), zap.Error(err))
		return res
	}

	res.InstancesCreated = out.created
	res.GeneratedUntil = out.cursor
	res.Deactivated = out.deactivated
	if out.created > 0 || out.deactivated {
		log.Info("template generated",
			zap.Int("instances_created", out.created),
			zap.Timep("generated_until", out.cursor),
			zap.Bool("deactivated", out.deactivated),
		)
	}
	return res
}

type unitOutcome struct {
	created     int
	cursor      *time.Time
	deactivated bool
}

// generateTemplate is one atomic unit: candidate computation, instance
// creation and the cursor write.
func (s *GenerationService) generateTemplate(ctx context.Context, templateID uint, today time.Time) (unitOutcome, error) {
	var out unitOutcome
	err := s.store.WithinTemplate(ctx, templateID, func(tx store.TemplateTx) error {
		out = unitOutcome{}
		t := tx.Template()
		out.cursor = t.GeneratedUntil
		if !t.Active {
			return nil
		}

		candidates, err := s.candidates(t, today)
		if err != nil {
			return err
		}

		for _, d := range candidates {
			exists, err := tx.InstanceExists(ctx, t.ID, d)
			if err != nil {
				return &StorageError{TemplateID: t.ID, Op: "check instance", Err: err}
			}
			if exists {
				continue
			}
			task := s.newInstance(t, d)
			if _, err := tx.CreateInstance(ctx, &task); err != nil {
				if errors.Is(err, store.ErrDuplicateInstance) {
					continue
				}
				return &StorageError{TemplateID: t.ID, Op: "create instance", Err: err}
			}
			out.created++
		}

		// Every processed candidate is an occurrence, whether this run or an
		// earlier partial one created it.
		count := t.OccurrencesGenerated + len(candidates)
		cursor := t.GeneratedUntil
		if n := len(candidates); n > 0 {
			last := candidates[n-1]
			cursor = &last
		}
		active := !endReached(t.Pattern(), count, today)

		if len(candidates) == 0 && active {
			return nil
		}
		if err := tx.UpdateTemplateCursor(ctx, store.CursorUpdate{
			TemplateID:           t.ID,
			ExpectedVersion:      t.Version,
			GeneratedUntil:       cursor,
			OccurrencesGenerated: count,
			Active:               active,
		}); err != nil {
			if errors.Is(err, store.ErrStaleCursor) {
				return err
			}
			return &StorageError{TemplateID: t.ID, Op: "update cursor", Err: err}
		}
		out.cursor = cursor
		out.deactivated = !active
		return nil
	})
	return out, err
}

// candidates returns the dates to process for t: the calculator's output over
// the template's window, cut to the remaining occurrence budget.
func (s *GenerationService) candidates(t model.Template, today time.Time) ([]time.Time, error) {
	p := t.Pattern()
	start, end := s.window(t, today)

	dates, err := s.calc.Occurrences(p, t.AnchorDate, start, end)
	if err != nil {
		return nil, err
	}
	if p.MaxOccurrences > 0 {
		remaining := max(p.MaxOccurrences-t.OccurrencesGenerated, 0)
		if len(dates) > remaining {
			dates = dates[:remaining]
		}
	}
	return dates, nil
}

// window is the inclusive date range a run covers for t. It starts at the
// anchor for a fresh template and the day after the cursor otherwise, and
// ends HorizonDays after today. The cursor never moves back, so a run with an
// earlier now than a previous one sees an empty window.
func (s *GenerationService) window(t model.Template, today time.Time) (time.Time, time.Time) {
	start := recurrence.Day(t.AnchorDate)
	if t.GeneratedUntil != nil {
		if next := recurrence.Day(*t.GeneratedUntil).AddDate(0, 0, 1); next.After(start) {
			start = next
		}
	}
	return start, today.AddDate(0, 0, s.cfg.HorizonDays)
}

func (s *GenerationService) newInstance(t model.Template, date time.Time) model.Task {
	templateID := t.ID
	y, m, d := date.Date()
	deadline := time.Date(y, m, d, 23, 59, 59, 0, s.cfg.Location)
	return model.Task{
		UserID:       t.UserID,
		CategoryID:   t.CategoryID,
		TemplateID:   &templateID,
		InstanceDate: &date,
		Title:        t.Title,
		Description:  t.Description,
		Deadline:     &deadline,
	}
}

// endReached reports whether the series is finished: the occurrence budget is
// spent, or today is past the end date.
func endReached(p recurrence.Pattern, count int, today time.Time) bool {
	if p.MaxOccurrences > 0 && count >= p.MaxOccurrences {
		return true
	}
	return p.EndDate != nil && today.After(recurrence.Day(*p.EndDate))
}
