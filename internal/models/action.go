package models

import "time"

type ActionStatus string

const (
	ActionStatusRunning ActionStatus = "running"
	ActionStatusFailed  ActionStatus = "failed"
	ActionStatusSuccess ActionStatus = "success"
)

// Valid reports whether s is one of the known statuses.
func (s ActionStatus) Valid() bool {
	switch s {
	case ActionStatusRunning, ActionStatusFailed, ActionStatusSuccess:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s ActionStatus) Terminal() bool {
	return s == ActionStatusFailed || s == ActionStatusSuccess
}

type Action struct {
	ID          int64
	Command     string
	Output      []string
	Status      ActionStatus
	ExitCode    *int
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// NewAction returns a running action for command.
func NewAction(command string) Action {
	return Action{
		Command:   command,
		Status:    ActionStatusRunning,
		CreatedAt: time.Now(),
	}
}

// Clone returns a copy that shares no mutable memory with a.
func (a Action) Clone() Action {
	c := a
	if a.Output != nil {
		c.Output = make([]string, len(a.Output))
		copy(c.Output, a.Output)
	}
	if a.ExitCode != nil {
		code := *a.ExitCode
		c.ExitCode = &code
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
