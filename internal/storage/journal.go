package storage

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mpataki/exo/internal/actionlog"
	"github.com/mpataki/exo/internal/state"
)

// Journal copies finished actions from the router into the database. Each
// process run is one session.
type Journal struct {
	store     *Storage
	router    *state.Router
	sessionID string
	from      actionlog.ID
	saved     map[actionlog.ID]bool
	logger    *slog.Logger
}

// NewJournal records actions with an ID of at least from, so entries seeded
// before it (demo data) stay out of the database.
func NewJournal(store *Storage, router *state.Router, from actionlog.ID, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := uuid.NewString()
	return &Journal{
		store:     store,
		router:    router,
		sessionID: sessionID,
		from:      from,
		saved:     make(map[actionlog.ID]bool),
		logger:    logger.With("session", sessionID),
	}
}

func (j *Journal) SessionID() string {
	return j.sessionID
}

// Run saves actions as they complete until ctx is done or the router
// closes, then sweeps the log for anything missed.
func (j *Journal) Run(ctx context.Context) error {
	events := j.router.Subscribe(256)
	defer j.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind == state.EventCompleted {
				j.save(ev.ID)
			}
		}
	}
}

// Flush saves every finished action not yet in the journal.
func (j *Journal) Flush() {
	for _, a := range j.router.Snapshot() {
		if a.Status.Terminal() {
			j.save(a.ID)
		}
	}
}

func (j *Journal) save(id actionlog.ID) {
	if id < j.from || j.saved[id] {
		return
	}
	a, err := j.router.Get(id)
	if err != nil || !a.Status.Terminal() {
		return
	}
	if _, err := j.store.SaveAction(j.sessionID, a); err != nil {
		j.logger.Error("failed to save action", "id", id, "err", err)
		return
	}
	j.saved[id] = true
}
