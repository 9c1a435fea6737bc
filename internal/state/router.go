// Package state owns the application state (the pending input and the action
// log) and the router through which every mutation of it passes.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mpataki/exo/internal/actionlog"
	"github.com/mpataki/exo/internal/models"
)

var (
	ErrEmptyInput = errors.New("input is empty")
	ErrClosed     = errors.New("state router closed")
)

// Dispatcher receives every action created by SubmitInput. It is called
// outside the router lock, in submission order.
type Dispatcher interface {
	Dispatch(ctx context.Context, id actionlog.ID, command string) error
}

type EventKind int

const (
	EventSubmitted EventKind = iota
	EventOutput
	EventCompleted
	EventInput
)

func (k EventKind) String() string {
	switch k {
	case EventSubmitted:
		return "submitted"
	case EventOutput:
		return "output"
	case EventCompleted:
		return "completed"
	case EventInput:
		return "input"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event tells subscribers that something changed. It carries no state;
// subscribers read what they need through Snapshot or Get.
type Event struct {
	Kind EventKind
	ID   actionlog.ID
}

// AppState is the single source of truth: the pending input and the log.
type AppState struct {
	input string
	log   *actionlog.Log
}

type pendingJob struct {
	id      actionlog.ID
	command string
}

type Router struct {
	mu     sync.RWMutex
	state  AppState
	closed bool

	// pending holds staged actions not yet handed to the dispatcher, in log
	// order. Guarded by mu; drained under dispatchMu.
	pending []pendingJob

	dispatchMu sync.Mutex
	dispatcher Dispatcher

	subMu sync.Mutex
	subs  []chan Event

	logger *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		state:  AppState{log: actionlog.New()},
		logger: logger,
	}
}

// SetDispatcher installs the worker that executes submitted commands.
func (r *Router) SetDispatcher(d Dispatcher) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	r.dispatcher = d
}

// Seed appends pre-built actions, typically demo entries at startup.
func (r *Router) Seed(actions ...models.Action) []actionlog.ID {
	r.mu.Lock()
	ids := make([]actionlog.ID, 0, len(actions))
	for _, a := range actions {
		ids = append(ids, r.state.log.Append(a))
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.publish(Event{Kind: EventSubmitted, ID: id})
	}
	return ids
}

func (r *Router) SetInput(text string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.state.input = text
	r.mu.Unlock()

	r.publish(Event{Kind: EventInput})
	return nil
}

func (r *Router) Input() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.input
}

// SubmitInput takes the pending input, clears it, appends a running action
// for it and dispatches it. An empty buffer is rejected and leaves the log
// unchanged. If dispatch fails the action is marked failed.
func (r *Router) SubmitInput(ctx context.Context) (actionlog.ID, error) {
	id, err := r.stage("", true)
	if err != nil {
		return 0, err
	}
	return id, r.DispatchPending(ctx)
}

// Submit appends a running action for command without touching the input
// buffer, then dispatches it.
func (r *Router) Submit(ctx context.Context, command string) (actionlog.ID, error) {
	id, err := r.stage(command, false)
	if err != nil {
		return 0, err
	}
	return id, r.DispatchPending(ctx)
}

// StageInput is SubmitInput without the dispatch: the action is appended
// and queued, and a later DispatchPending hands it to the worker. Callers
// that must not block, like the TUI event loop, use it.
func (r *Router) StageInput() (actionlog.ID, error) {
	return r.stage("", true)
}

func (r *Router) stage(command string, fromInput bool) (actionlog.ID, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosed
	}
	if fromInput {
		command = r.state.input
	}
	if command == "" {
		r.mu.Unlock()
		return 0, ErrEmptyInput
	}
	if fromInput {
		r.state.input = ""
	}
	id := r.state.log.Append(models.NewAction(command))
	r.pending = append(r.pending, pendingJob{id: id, command: command})
	r.mu.Unlock()

	r.logger.Debug("action submitted", "id", id, "command", command)
	r.publish(Event{Kind: EventSubmitted, ID: id})
	return id, nil
}

// DispatchPending hands every staged action to the dispatcher in log order.
// An action whose dispatch fails is completed as failed with the error as
// its output; the returned error joins every such failure. Without a
// dispatcher the staged actions are dropped and stay running.
func (r *Router) DispatchPending(ctx context.Context) error {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	var errs []error
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.mu.Unlock()
			break
		}
		job := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()

		if r.dispatcher == nil {
			continue
		}
		if err := r.dispatcher.Dispatch(ctx, job.id, job.command); err != nil {
			r.logger.Warn("dispatch failed", "id", job.id, "err", err)
			r.failDispatch(job.id, err)
			errs = append(errs, fmt.Errorf("dispatch action %d: %w", job.id, err))
		}
	}
	return errors.Join(errs...)
}

// failDispatch completes an action no worker received. It runs even after
// Close so that nothing is left running for good.
func (r *Router) failDispatch(id actionlog.ID, cause error) {
	r.mu.Lock()
	outErr := r.state.log.AppendOutput(id, "dispatch failed: "+cause.Error())
	doneErr := r.state.log.SetStatus(id, models.ActionStatusFailed)
	r.mu.Unlock()

	if outErr == nil {
		r.publish(Event{Kind: EventOutput, ID: id})
	}
	if doneErr == nil {
		r.publish(Event{Kind: EventCompleted, ID: id})
	}
}

func (r *Router) ReportOutput(id actionlog.ID, line string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	err := r.state.log.AppendOutput(id, line)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.publish(Event{Kind: EventOutput, ID: id})
	return nil
}

// ReportCompletion records the final status of an action. status must be
// terminal.
func (r *Router) ReportCompletion(id actionlog.ID, status models.ActionStatus) error {
	return r.complete(id, status, nil)
}

// ReportExit completes an action from a process exit code: zero is success,
// anything else is a failure.
func (r *Router) ReportExit(id actionlog.ID, exitCode int) error {
	status := models.ActionStatusSuccess
	if exitCode != 0 {
		status = models.ActionStatusFailed
	}
	return r.complete(id, status, &exitCode)
}

func (r *Router) complete(id actionlog.ID, status models.ActionStatus, exitCode *int) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	err := r.state.log.Complete(id, status, exitCode)
	r.mu.Unlock()
	if err != nil {
		r.logger.Warn("completion rejected", "id", id, "status", status, "err", err)
		return err
	}

	r.logger.Debug("action completed", "id", id, "status", status)
	r.publish(Event{Kind: EventCompleted, ID: id})
	return nil
}

// Snapshot returns a consistent copy of the log, oldest action first.
func (r *Router) Snapshot() []models.Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.log.Snapshot()
}

func (r *Router) Get(id actionlog.ID) (models.Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.log.Get(id)
}

func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.log.Len()
}

// Handle returns the reporting handle given to background workers.
func (r *Router) Handle() *Handle {
	return &Handle{router: r}
}

// Subscribe returns a channel of change events. Events are dropped for a
// subscriber whose buffer is full; mutations never wait on subscribers.
// The channel is closed by Close.
func (r *Router) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)

	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.isClosed() {
		close(ch)
		return ch
	}
	r.subs = append(r.subs, ch)
	return ch
}

func (r *Router) publish(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close begins shutdown. Every later mutation fails with ErrClosed; reads
// keep working.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
}

func (r *Router) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}
