package state

import (
	"github.com/mpataki/exo/internal/actionlog"
	"github.com/mpataki/exo/internal/models"
)

// Handle is the write side given to background workers. It may be copied
// and shared between goroutines.
type Handle struct {
	router *Router
}

func (h *Handle) ReportOutput(id actionlog.ID, line string) error {
	return h.router.ReportOutput(id, line)
}

func (h *Handle) ReportCompletion(id actionlog.ID, status models.ActionStatus) error {
	return h.router.ReportCompletion(id, status)
}

func (h *Handle) ReportExit(id actionlog.ID, exitCode int) error {
	return h.router.ReportExit(id, exitCode)
}

// Done reports whether the router has begun shutdown.
func (h *Handle) Done() bool {
	return h.router.isClosed()
}

// Status returns the current status of an action.
func (h *Handle) Status(id actionlog.ID) (models.ActionStatus, error) {
	a, err := h.router.Get(id)
	if err != nil {
		return "", err
	}
	return a.Status, nil
}
