package repository

import (
	"gorm.io/gorm"

	"recurring-planner/internal/store"
)

// Store bundles the GORM repositories into a store.Store.
type Store struct {
	*TemplateRepository
	*TaskRepository
}

var _ store.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{
		TemplateRepository: NewTemplateRepository(db),
		TaskRepository:     NewTaskRepository(db),
	}
}
