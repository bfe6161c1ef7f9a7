package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/reviewd/backend/internal/domain"
)

// Task errors
var (
	ErrTaskNotFound        = domain.ErrTaskNotFound
	ErrTaskNotPending      = errors.New("task: not pending")
	ErrTaskAlreadyTerminal = errors.New("task: already completed or failed")
)

// Scheduling errors
var (
	ErrQueueFull     = errors.New("scheduler: queue is full")
	ErrQueueStopped  = errors.New("scheduler: queue is stopped")
	ErrNoAgents      = errors.New("scheduler: no agents selected")
	ErrTokenSealFail = errors.New("submission: could not protect github token")
)

// ValidationError rejects a submission before any task is created.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Details, "; ")
}

func (e *ValidationError) Kind() domain.ErrorKind { return domain.ErrorKindValidation }

// AgentError is a unit failure after retries were exhausted or the backend
// rejected the call outright.
type AgentError struct {
	Agent    domain.AgentName
	Attempts int
	Err      error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s failed after %d attempt(s): %v", e.Agent, e.Attempts, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

func (e *AgentError) Kind() domain.ErrorKind { return domain.ErrorKindAgent }

// MalformedOutputError marks agent output that failed schema validation.
// It is recovered heuristically and only surfaces when nothing could be
// salvaged and the reply was not an empty result either.
type MalformedOutputError struct {
	Agent  domain.AgentName
	Reason string
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("agent %s returned malformed output: %s", e.Agent, e.Reason)
}

func (e *MalformedOutputError) Kind() domain.ErrorKind { return domain.ErrorKindMalformedOutput }

// CancellationError is the terminal error of a cancelled task.
type CancellationError struct {
	TaskID string
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("task %s cancelled", e.TaskID)
}

func (e *CancellationError) Kind() domain.ErrorKind { return domain.ErrorKindCancelled }

// StoreError is a task store failure that survived every retry. The
// coordinator escalates it to a fatal task error.
type StoreError struct {
	Op       string
	TaskID   string
	Attempts int
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s for task %s failed after %d attempt(s): %v", e.Op, e.TaskID, e.Attempts, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Kind() domain.ErrorKind { return domain.ErrorKindStore }

// KindOf maps an error onto the task error taxonomy.
func KindOf(err error) domain.ErrorKind {
	var k interface{ Kind() domain.ErrorKind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	var ferr *domain.FetchError
	if errors.As(err, &ferr) {
		return domain.ErrorKindFetch
	}
	return domain.ErrorKindAgent
}
