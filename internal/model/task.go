package model

import "time"

// Task is a single item in the planner. Tasks generated from a recurring
// template carry TemplateID and InstanceDate; that pair is unique.
type Task struct {
	ID           uint       `gorm:"primaryKey"`
	UserID       uint       `gorm:"index"`
	CategoryID   *uint      `gorm:"index"`
	TemplateID   *uint      `gorm:"uniqueIndex:idx_task_template_date"`
	InstanceDate *time.Time `gorm:"uniqueIndex:idx_task_template_date"`
	Title        string
	Description  string
	Deadline     *time.Time
	IsCompleted  bool `gorm:"default:false"`
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
