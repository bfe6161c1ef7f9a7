// Package retry drives operations that report their own retry class.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

type Class int

const (
	ClassOk Class = iota
	ClassRetryable
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassOk:
		return "ok"
	case ClassRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Result is what one attempt of an operation produced.
type Result[T any] struct {
	Value  T
	Class  Class
	Reason error
}

func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v, Class: ClassOk}
}

func Retryable[T any](reason error) Result[T] {
	return Result[T]{Class: ClassRetryable, Reason: reason}
}

func Fatal[T any](reason error) Result[T] {
	return Result[T]{Class: ClassFatal, Reason: reason}
}

type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(p.MaxRetries, 0))), ctx)
}

// ExhaustedError is returned when every attempt was retryable.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Notify is called before each wait with the failed attempt number.
type Notify func(attempt int, reason error, wait time.Duration)

// Do runs op until it returns Ok or Fatal, retries are exhausted, or ctx is
// done. It returns the number of attempts made.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) Result[T], notify Notify) (T, int, error) {
	attempts := 0
	var last error

	v, err := backoff.RetryNotifyWithData(func() (T, error) {
		attempts++
		res := op(ctx, attempts)
		switch res.Class {
		case ClassOk:
			return res.Value, nil
		case ClassRetryable:
			last = res.Reason
			if last == nil {
				last = errors.New("retryable failure")
			}
			return res.Value, last
		default:
			reason := res.Reason
			if reason == nil {
				reason = errors.New("fatal failure")
			}
			return res.Value, backoff.Permanent(reason)
		}
	}, p.backOff(ctx), func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempts, err, wait)
		}
	})
	if err == nil {
		return v, attempts, nil
	}
	if last != nil && errors.Is(err, last) && ctx.Err() == nil {
		return v, attempts, &ExhaustedError{Attempts: attempts, Last: last}
	}
	return v, attempts, err
}
