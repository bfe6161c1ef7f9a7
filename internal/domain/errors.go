package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound      = errors.New("task: not found")
	ErrConcurrentUpdate  = errors.New("task: concurrent update")
	ErrInvalidTransition = errors.New("invalid task state transition")
	ErrUnknownUnit       = errors.New("unit not planned for task")
	ErrUnitsPending      = errors.New("task has non-terminal units")
)

type FetchErrorKind string

const (
	FetchAuth        FetchErrorKind = "auth"
	FetchRateLimited FetchErrorKind = "rate_limited"
	FetchNotFound    FetchErrorKind = "not_found"
	FetchUnavailable FetchErrorKind = "unavailable"
	FetchInvalidURL  FetchErrorKind = "invalid_url"
)

// FetchError is returned by the pull request collaborator. It is fatal to
// the task it was raised for.
type FetchError struct {
	Kind    FetchErrorKind
	Status  int
	Message string
}

func NewFetchError(kind FetchErrorKind, status int, format string, args ...interface{}) *FetchError {
	return &FetchError{Kind: kind, Status: status, Message: fmt.Sprintf(format, args...)}
}

func (e *FetchError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Temporary reports whether retrying the fetch later may succeed.
func (e *FetchError) Temporary() bool {
	return e.Kind == FetchRateLimited || e.Kind == FetchUnavailable
}
