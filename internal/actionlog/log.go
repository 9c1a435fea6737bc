// Package actionlog holds the ordered, append-only record of submitted
// commands together with their output and completion status.
package actionlog

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mpataki/exo/internal/models"
)

var (
	ErrNotFound          = errors.New("action not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ID identifies an action for the lifetime of a Log. IDs start at 1 and are
// never reused.
type ID = int64

// Log is safe for concurrent use. Entries keep their position forever; only
// their output and status change after Append.
type Log struct {
	mu      sync.RWMutex
	entries []*models.Action
}

func New() *Log {
	return &Log{}
}

// Append stores a copy of action at the tail and returns its ID.
func (l *Log) Append(action models.Action) ID {
	l.mu.Lock()
	defer l.mu.Unlock()

	a := action.Clone()
	a.ID = int64(len(l.entries) + 1)
	if a.Status == "" {
		a.Status = models.ActionStatusRunning
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	l.entries = append(l.entries, &a)
	return a.ID
}

// AppendOutput adds one line to the output of a running action.
func (l *Log) AppendOutput(id ID, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, err := l.lookup(id)
	if err != nil {
		return err
	}
	if a.Status.Terminal() {
		return fmt.Errorf("%w: action %d already %s", ErrInvalidTransition, id, a.Status)
	}
	a.Output = append(a.Output, line)
	return nil
}

// SetStatus moves a running action to a terminal status.
func (l *Log) SetStatus(id ID, status models.ActionStatus) error {
	return l.Complete(id, status, nil)
}

// Complete is SetStatus that also records the exit code of the command.
func (l *Log) Complete(id ID, status models.ActionStatus, exitCode *int) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: cannot set status %q", ErrInvalidTransition, status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	a, err := l.lookup(id)
	if err != nil {
		return err
	}
	if a.Status != models.ActionStatusRunning {
		return fmt.Errorf("%w: action %d already %s", ErrInvalidTransition, id, a.Status)
	}

	now := time.Now()
	a.Status = status
	a.CompletedAt = &now
	if exitCode != nil {
		code := *exitCode
		a.ExitCode = &code
	}
	return nil
}

// Get returns a copy of a single action.
func (l *Log) Get(id ID) (models.Action, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, err := l.lookup(id)
	if err != nil {
		return models.Action{}, err
	}
	return a.Clone(), nil
}

// Snapshot returns a point-in-time copy of every action, oldest first.
func (l *Log) Snapshot() []models.Action {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Action, len(l.entries))
	for i, a := range l.entries {
		out[i] = a.Clone()
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// lookup must be called with mu held.
func (l *Log) lookup(id ID) (*models.Action, error) {
	if id < 1 || id > int64(len(l.entries)) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return l.entries[id-1], nil
}
