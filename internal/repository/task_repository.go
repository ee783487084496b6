package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"recurring-planner/internal/model"
	"recurring-planner/internal/recurrence"
	"recurring-planner/internal/store"
)

// TaskRepository reads generated task instances.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) ListInstances(ctx context.Context, templateID uint) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("template_id = ?", templateID).
		Order("instance_date ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) ListUpcoming(ctx context.Context, userID uint, from, to time.Time) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND template_id IS NOT NULL AND is_completed = ?", userID, false).
		Where("instance_date BETWEEN ? AND ?", recurrence.Day(from), recurrence.Day(to)).
		Order("instance_date ASC").Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list upcoming: %w", err)
	}
	return tasks, nil
}

// CountInstances returns how many instances exist for a template.
func (r *TaskRepository) CountInstances(ctx context.Context, templateID uint) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Task{}).Where("template_id = ?", templateID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return n, nil
}

func instanceExists(db *gorm.DB, templateID uint, date time.Time) (bool, error) {
	var n int64
	if err := db.Model(&model.Task{}).
		Where("template_id = ? AND instance_date = ?", templateID, recurrence.Day(date)).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("check instance: %w", err)
	}
	return n > 0, nil
}

// createInstance inserts task, leaving an existing row with the same
// template and date untouched.
func createInstance(db *gorm.DB, task *model.Task) error {
	if task.TemplateID == nil || task.InstanceDate == nil {
		return fmt.Errorf("create instance: template id and instance date are required")
	}
	day := recurrence.Day(*task.InstanceDate)
	task.InstanceDate = &day

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(task)
	if res.Error != nil {
		return fmt.Errorf("create instance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrDuplicateInstance
	}
	return nil
}
