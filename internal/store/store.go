// Package store defines the persistence contract recurring generation runs
// against. Implementations live under internal/repository.
package store

import (
	"context"
	"errors"
	"time"

	"recurring-planner/internal/model"
)

var (
	// ErrNotFound is returned when a template does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStaleCursor is returned by UpdateTemplateCursor when the template was
	// advanced by someone else since it was read.
	ErrStaleCursor = errors.New("template cursor changed concurrently")
	// ErrDuplicateInstance is returned by CreateInstance when an instance for
	// the same template and date already exists.
	ErrDuplicateInstance = errors.New("instance already exists")
)

// CursorUpdate is the generation bookkeeping written back to a template.
// It applies only if the stored version still equals ExpectedVersion.
type CursorUpdate struct {
	TemplateID           uint
	ExpectedVersion      int
	GeneratedUntil       *time.Time
	OccurrencesGenerated int
	Active               bool
}

// InstanceStore is what the generation driver needs.
type InstanceStore interface {
	// ListActiveTemplates returns all templates with Active set, ordered by ID.
	ListActiveTemplates(ctx context.Context) ([]model.Template, error)
	// WithinTemplate runs fn as one atomic unit for the given template. If fn
	// returns an error nothing it wrote is kept.
	WithinTemplate(ctx context.Context, templateID uint, fn func(tx TemplateTx) error) error
}

// TemplateTx is the view of the store inside one atomic unit.
type TemplateTx interface {
	// Template is the template as read at the start of the unit.
	Template() model.Template
	InstanceExists(ctx context.Context, templateID uint, date time.Time) (bool, error)
	CreateInstance(ctx context.Context, task *model.Task) (uint, error)
	UpdateTemplateCursor(ctx context.Context, u CursorUpdate) error
}

// TemplateStore covers creating and editing templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, t *model.Template) error
	GetTemplate(ctx context.Context, id uint) (*model.Template, error)
	// ListTemplates returns the user's templates; userID 0 lists everyone's.
	ListTemplates(ctx context.Context, userID uint) ([]model.Template, error)
	// UpdatePattern rewrites only the pattern columns of a template.
	UpdatePattern(ctx context.Context, t *model.Template) error
	SetActive(ctx context.Context, id uint, active bool) error
	ListInstances(ctx context.Context, templateID uint) ([]model.Task, error)
	// ListUpcoming returns the user's open generated instances dated in
	// [from, to], ordered by date.
	ListUpcoming(ctx context.Context, userID uint, from, to time.Time) ([]model.Task, error)
}

// Store is implemented by every backend.
type Store interface {
	InstanceStore
	TemplateStore
}
