// Package types defines core types shared by the scheduling packages
package types

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrTaskCancelled indicates the task was cancelled before completion
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrPoolShutdown indicates a spawn was attempted after shutdown began
	ErrPoolShutdown = errors.New("pool is shutting down")

	// ErrQueueFull indicates the bounded injector queue rejected a spawn
	ErrQueueFull = errors.New("injector queue is full")

	// ErrBlockingQueueFull indicates the bounded blocking queue rejected a submission
	ErrBlockingQueueFull = errors.New("blocking queue is full")

	// ErrTimeout indicates operation timeout
	ErrTimeout = errors.New("operation timeout")
)

// TaskError represents a failure inside a spawned computation. It is produced
// at the poll boundary (including recovered panics) and delivered only through
// that task's join handle; it never propagates into scheduler control state.
type TaskError struct {
	// TaskID identifies the failing task
	TaskID uint64

	// Cause is the underlying error
	Cause error

	// Context contains failure context information (stack trace, worker id)
	Context map[string]interface{}
}

// Error implements the error interface
func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d failed: %v", e.TaskID, e.Cause)
}

// Unwrap returns the underlying error
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is a specific error
func (e *TaskError) Is(target error) bool {
	return errors.Is(e.Cause, target)
}

// NewTaskError creates a new task failure error
func NewTaskError(taskID uint64, cause error) *TaskError {
	return &TaskError{
		TaskID:  taskID,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds failure context
func (e *TaskError) WithContext(key string, value interface{}) *TaskError {
	e.Context[key] = value
	return e
}

// IsCancelled reports whether err marks a cancelled task.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrTaskCancelled)
}
