package service

import (
	"errors"
	"fmt"

	"recurring-planner/internal/recurrence"
)

// ErrorKind classifies a per-template failure in a generation report.
type ErrorKind string

const (
	KindInvalidPattern ErrorKind = "invalid_pattern"
	KindStorage        ErrorKind = "storage"
)

// ErrInvalidTemplate is returned for template input that fails validation
// for reasons other than the recurrence pattern.
var ErrInvalidTemplate = errors.New("invalid template")

// StorageError is a failed store read or write while processing one template.
type StorageError struct {
	TemplateID uint
	Op         string
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("template %d: %s: %v", e.TemplateID, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// BatchError aborts a whole generation run.
type BatchError struct {
	Op  string
	Err error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("generation batch: %s: %v", e.Op, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

func classify(err error) ErrorKind {
	if errors.Is(err, recurrence.ErrInvalidPattern) {
		return KindInvalidPattern
	}
	return KindStorage
}
