package worker

import (
	"context"

	"github.com/mpataki/exo/internal/state"
)

// Idle accepts actions and never reports on them; they stay running until
// the process exits.
type Idle struct {
	*Queue
}

func NewIdle() *Idle {
	return &Idle{Queue: NewQueue(1)}
}

func (w *Idle) Run(ctx context.Context, h *state.Handle) error {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.jobs:
		}
	}
}
