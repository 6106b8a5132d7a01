// Package worker runs LLM calls on a bounded, elastic pool of goroutines and
// dispatches queued jobs round-robin across users, so one user's large deck
// cannot starve everyone else.
package worker

import (
	"context"
	"errors"
)

var (
	ErrDispatcherBusy   = errors.New("dispatcher queue is full")
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

type jobKind int

const (
	jobRun jobKind = iota
	jobStop
)

// Job is one unit of work owned by a user.
type Job struct {
	kind   jobKind
	UserID int64
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

func (j Job) finish(err error) {
	if j.result != nil {
		j.result <- err
	}
}
