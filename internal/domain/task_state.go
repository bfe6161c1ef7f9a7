package domain

import (
	"fmt"
	"sort"
	"time"
)

// Task transitions. Every function here is pure: it never mutates its
// input and returns the next state. Returning the input pointer unchanged
// signals an idempotent no-op that needs no write.

// Claim moves a pending task to processing.
func Claim(cur *Task, now time.Time) (*Task, error) {
	if cur.Status != TaskStatusPending {
		return cur, fmt.Errorf("%w: claim from %s", ErrInvalidTransition, cur.Status)
	}
	next := cur.Clone()
	next.Status = TaskStatusProcessing
	next.Message = "Fetching pull request files"
	next.StartedAt = &now
	return touch(next, now), nil
}

// Plan records the full unit set of a claimed task. Outcomes in skipped
// are applied immediately and count towards progress.
func Plan(cur *Task, units []UnitKey, skipped []UnitOutcome, pr *PullRequestInfo, now time.Time) (*Task, error) {
	if cur.Status != TaskStatusProcessing {
		return cur, fmt.Errorf("%w: plan in %s", ErrInvalidTransition, cur.Status)
	}
	if len(cur.Units) > 0 {
		return cur, fmt.Errorf("%w: task already planned", ErrInvalidTransition)
	}
	next := cur.Clone()
	next.PullRequest = pr
	for _, u := range units {
		next.Units[u.String()] = UnitRecord{File: u.File, Agent: u.Agent, State: UnitStateQueued}
	}
	for _, o := range skipped {
		next.Units[o.Unit.String()] = UnitRecord{File: o.Unit.File, Agent: o.Unit.Agent, State: UnitStateQueued}
	}
	next.ProgressTotal = len(next.Units)
	for _, o := range skipped {
		applyUnit(next, o)
	}
	next.Message = progressMessage(next)
	return touch(next, now), nil
}

// ApplyOutcome merges one unit outcome. Applying the same unit twice is a
// no-op; the first terminal outcome of a unit wins.
func ApplyOutcome(cur *Task, o UnitOutcome, now time.Time) (*Task, error) {
	if !o.State.IsTerminal() {
		return cur, fmt.Errorf("%w: outcome state %s is not terminal", ErrInvalidTransition, o.State)
	}
	rec, ok := cur.Units[o.Unit.String()]
	if !ok {
		return cur, fmt.Errorf("%w: %s", ErrUnknownUnit, o.Unit)
	}
	if rec.State.IsTerminal() {
		return cur, nil
	}
	if cur.Status != TaskStatusProcessing {
		return cur, fmt.Errorf("%w: merge in %s", ErrInvalidTransition, cur.Status)
	}
	next := cur.Clone()
	applyUnit(next, o)
	next.Message = progressMessage(next)
	return touch(next, now), nil
}

// RequestCancel flags a processing task for cancellation, or fails a
// pending task outright.
func RequestCancel(cur *Task, now time.Time) (*Task, error) {
	switch cur.Status {
	case TaskStatusPending:
		next := cur.Clone()
		next.CancelRequested = true
		return fail(next, ErrorKindCancelled, "Task cancelled before analysis started", now), nil
	case TaskStatusProcessing:
		if cur.CancelRequested {
			return cur, nil
		}
		next := cur.Clone()
		next.CancelRequested = true
		next.Message = "Cancellation requested"
		return touch(next, now), nil
	default:
		return cur, fmt.Errorf("%w: cancel in %s", ErrInvalidTransition, cur.Status)
	}
}

// Finalize performs the terminal transition once every unit is terminal.
func Finalize(cur *Task, now time.Time) (*Task, error) {
	if cur.Status != TaskStatusProcessing {
		return cur, fmt.Errorf("%w: finalize in %s", ErrInvalidTransition, cur.Status)
	}
	var succeeded, skipped, failed int
	for _, u := range cur.Units {
		switch u.State {
		case UnitStateSucceeded:
			succeeded++
		case UnitStateSkipped:
			skipped++
		case UnitStateFailed:
			failed++
		default:
			return cur, fmt.Errorf("%w: %s is %s", ErrUnitsPending, UnitKey{u.File, u.Agent}, u.State)
		}
	}
	next := cur.Clone()
	if next.CancelRequested {
		return fail(next, ErrorKindCancelled, "Task cancelled", now), nil
	}
	total := len(next.Units)
	switch {
	case total == 0:
		next.Status = TaskStatusCompleted
		next.Message = "No analyzable files found"
	case succeeded+skipped == 0:
		next.Status = TaskStatusFailed
		next.Message = fmt.Sprintf("All %d analysis units failed", failed)
	case failed > 0:
		next.Status = TaskStatusCompleted
		next.Message = fmt.Sprintf("Analysis completed with %d of %d units failed", failed, total)
	default:
		next.Status = TaskStatusCompleted
		next.Message = fmt.Sprintf("Analysis completed: %d issues found", next.Summary().TotalIssues)
	}
	next.CompletedAt = &now
	return touch(next, now), nil
}

// Fail moves a non-terminal task to failed with a task-level error.
// Units not yet terminal are recorded as skipped so progress reaches total.
func Fail(cur *Task, kind ErrorKind, msg string, now time.Time) (*Task, error) {
	if cur.Status.IsTerminal() {
		return cur, fmt.Errorf("%w: fail in %s", ErrInvalidTransition, cur.Status)
	}
	return fail(cur.Clone(), kind, msg, now), nil
}

func fail(next *Task, kind ErrorKind, msg string, now time.Time) *Task {
	for _, key := range sortedUnitKeys(next.Units) {
		u := next.Units[key]
		if !u.State.IsTerminal() {
			applyUnit(next, Skipped(UnitKey{u.File, u.Agent}, string(kind)))
		}
	}
	next.Errors = append(next.Errors, TaskError{Kind: kind, Message: msg})
	next.Status = TaskStatusFailed
	next.Message = msg
	next.CompletedAt = &now
	return touch(next, now)
}

func applyUnit(next *Task, o UnitOutcome) {
	key := o.Unit.String()
	rec := next.Units[key]
	rec.State = o.State
	rec.Cached = o.Cached
	if o.State == UnitStateSkipped {
		rec.Reason = o.Message
	}
	next.Units[key] = rec
	next.ProgressCompleted++

	switch o.State {
	case UnitStateSucceeded:
		if o.Findings != nil {
			byAgent, ok := next.Results[o.Unit.File]
			if !ok {
				byAgent = map[AgentName]FindingSet{}
				next.Results[o.Unit.File] = byAgent
			}
			byAgent[o.Unit.Agent] = o.Findings.Clone()
		}
		if o.Cached {
			next.CacheHits++
		} else {
			next.AgentCalls++
		}
	case UnitStateFailed:
		next.AgentCalls++
		next.Errors = insertUnitError(next.Errors, TaskError{
			Unit:    key,
			File:    o.Unit.File,
			Agent:   o.Unit.Agent,
			Kind:    o.ErrKind,
			Message: o.Message,
		})
	}
}

// insertUnitError keeps unit errors in (file, agent) order ahead of
// task-level errors, which stay in append order.
func insertUnitError(errs []TaskError, e TaskError) []TaskError {
	key := UnitKey{e.File, e.Agent}
	i := sort.Search(len(errs), func(i int) bool {
		if errs[i].Unit == "" {
			return true
		}
		return key.Less(UnitKey{errs[i].File, errs[i].Agent})
	})
	errs = append(errs, TaskError{})
	copy(errs[i+1:], errs[i:])
	errs[i] = e
	return errs
}

func progressMessage(t *Task) string {
	if t.CancelRequested {
		return fmt.Sprintf("Cancelling: %d/%d units finished", t.ProgressCompleted, t.ProgressTotal)
	}
	return fmt.Sprintf("Analyzing files: %d/%d units finished", t.ProgressCompleted, t.ProgressTotal)
}

func touch(t *Task, now time.Time) *Task {
	t.Revision++
	t.UpdatedAt = now
	return t
}
