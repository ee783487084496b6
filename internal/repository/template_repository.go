package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"recurring-planner/internal/model"
	"recurring-planner/internal/recurrence"
	"recurring-planner/internal/store"
)

// TemplateRepository handles recurring templates and the generation unit of work.
type TemplateRepository struct {
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

func (r *TemplateRepository) CreateTemplate(ctx context.Context, t *model.Template) error {
	t.AnchorDate = recurrence.Day(t.AnchorDate)
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (r *TemplateRepository) GetTemplate(ctx context.Context, id uint) (*model.Template, error) {
	var t model.Template
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, notFound(fmt.Sprintf("template %d", id), err)
	}
	return &t, nil
}

func (r *TemplateRepository) ListTemplates(ctx context.Context, userID uint) ([]model.Template, error) {
	var templates []model.Template
	db := r.db.WithContext(ctx)
	if userID != 0 {
		db = db.Where("user_id = ?", userID)
	}
	if err := db.Order("id ASC").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

func (r *TemplateRepository) ListActiveTemplates(ctx context.Context) ([]model.Template, error) {
	var templates []model.Template
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}
	return templates, nil
}

// UpdatePattern rewrites the pattern columns and bumps the version so an
// in-flight generation unit for this template retries with the new rule.
func (r *TemplateRepository) UpdatePattern(ctx context.Context, t *model.Template) error {
	res := r.db.WithContext(ctx).Model(&model.Template{}).Where("id = ?", t.ID).Updates(map[string]any{
		"frequency":       t.Frequency,
		"repeat_interval": t.Interval,
		"days_of_week":    t.DaysOfWeek,
		"day_of_month":    t.DayOfMonth,
		"end_date":        t.EndDate,
		"max_occurrences": t.MaxOccurrences,
		"version":         gorm.Expr("version + 1"),
	})
	if res.Error != nil {
		return fmt.Errorf("update pattern: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("template %d: %w", t.ID, store.ErrNotFound)
	}
	t.Version++
	return nil
}

func (r *TemplateRepository) SetActive(ctx context.Context, id uint, active bool) error {
	res := r.db.WithContext(ctx).Model(&model.Template{}).Where("id = ?", id).Updates(map[string]any{
		"active":  active,
		"version": gorm.Expr("version + 1"),
	})
	if res.Error != nil {
		return fmt.Errorf("set active: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("template %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// WithinTemplate wraps fn in a database transaction.
func (r *TemplateRepository) WithinTemplate(ctx context.Context, templateID uint, fn func(tx store.TemplateTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t model.Template
		if err := tx.First(&t, templateID).Error; err != nil {
			return notFound(fmt.Sprintf("template %d", templateID), err)
		}
		return fn(&templateTx{db: tx, tmpl: t})
	})
}

type templateTx struct {
	db   *gorm.DB
	tmpl model.Template
}

func (t *templateTx) Template() model.Template {
	return t.tmpl
}

func (t *templateTx) InstanceExists(ctx context.Context, templateID uint, date time.Time) (bool, error) {
	return instanceExists(t.db.WithContext(ctx), templateID, date)
}

func (t *templateTx) CreateInstance(ctx context.Context, task *model.Task) (uint, error) {
	if err := createInstance(t.db.WithContext(ctx), task); err != nil {
		return 0, err
	}
	return task.ID, nil
}

func (t *templateTx) UpdateTemplateCursor(ctx context.Context, u store.CursorUpdate) error {
	res := t.db.WithContext(ctx).Model(&model.Template{}).
		Where("id = ? AND version = ?", u.TemplateID, u.ExpectedVersion).
		Updates(map[string]any{
			"generated_until":       u.GeneratedUntil,
			"occurrences_generated": u.OccurrencesGenerated,
			"active":                u.Active,
			"version":               gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("update template cursor: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrStaleCursor
	}
	return nil
}

func notFound(what string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("find %s: %w", what, err)
}
