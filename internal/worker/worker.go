// Package worker runs submitted commands in the background and reports
// their output and completion through a state.Handle.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mpataki/exo/internal/actionlog"
	"github.com/mpataki/exo/internal/state"
)

var ErrStopped = errors.New("worker stopped")

type Job struct {
	ID      actionlog.ID
	Command string
}

// Worker is a background producer of log updates. Dispatch hands it a new
// action; Run processes actions until ctx is cancelled.
type Worker interface {
	state.Dispatcher
	Run(ctx context.Context, h *state.Handle) error
}

const (
	KindShell = "shell"
	KindIdle  = "idle"
	KindLua   = "lua"
)

// ValidKind checks a worker kind name from configuration.
func ValidKind(kind string) error {
	switch kind {
	case KindShell, KindIdle, KindLua:
		return nil
	}
	return fmt.Errorf("unknown worker kind %q (want %s, %s or %s)", kind, KindShell, KindIdle, KindLua)
}

// Queue is the bounded job channel between the router and a worker.
type Queue struct {
	jobs     chan Job
	done     chan struct{}
	stopOnce sync.Once
}

func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		jobs: make(chan Job, size),
		done: make(chan struct{}),
	}
}

func (q *Queue) Dispatch(ctx context.Context, id actionlog.ID, command string) error {
	select {
	case <-q.done:
		return ErrStopped
	default:
	}
	select {
	case <-q.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case q.jobs <- Job{ID: id, Command: command}:
		return nil
	}
}

// Jobs returns the receive side of the queue.
func (q *Queue) Jobs() <-chan Job {
	return q.jobs
}

// Stopped is closed once Stop has been called.
func (q *Queue) Stopped() <-chan struct{} {
	return q.done
}

// Stop makes later Dispatch calls fail with ErrStopped.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.done) })
}
