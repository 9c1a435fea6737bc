package state

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/exo/internal/actionlog"
	"github.com/mpataki/exo/internal/models"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, id actionlog.ID, command string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, fmt.Sprintf("%d:%s", id, command))
	return d.err
}

func TestSubmitScenario(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(nil)

	require.NoError(t, r.SetInput("ls -la"))
	id, err := r.SubmitInput(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", r.Input())

	a, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "ls -la", a.Command)
	assert.Equal(t, models.ActionStatusRunning, a.Status)
	assert.Empty(t, a.Output)

	h := r.Handle()
	require.NoError(t, h.ReportOutput(id, "file1"))
	require.NoError(t, h.ReportOutput(id, "file2"))
	a, _ = r.Get(id)
	assert.Equal(t, []string{"file1", "file2"}, a.Output)

	require.NoError(t, h.ReportCompletion(id, models.ActionStatusSuccess))
	a, _ = r.Get(id)
	assert.Equal(t, models.ActionStatusSuccess, a.Status)

	err = h.ReportCompletion(id, models.ActionStatusFailed)
	assert.ErrorIs(t, err, actionlog.ErrInvalidTransition)
	a, _ = r.Get(id)
	assert.Equal(t, models.ActionStatusSuccess, a.Status)
}

func TestSubmitEmptyInput(t *testing.T) {
	r := NewRouter(nil)
	r.Seed(models.NewAction("seeded"))
	d := &recordingDispatcher{}
	r.SetDispatcher(d)

	_, err := r.SubmitInput(context.Background())
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, 1, r.Len())
	assert.Empty(t, d.jobs)
}

func TestSubmitSingleCharacter(t *testing.T) {
	r := NewRouter(nil)
	require.NoError(t, r.SetInput(" "))
	id, err := r.SubmitInput(context.Background())
	require.NoError(t, err)

	a, _ := r.Get(id)
	assert.Equal(t, " ", a.Command)
}

func TestSubmitLeavesInputAlone(t *testing.T) {
	r := NewRouter(nil)
	require.NoError(t, r.SetInput("half typed"))

	_, err := r.Submit(context.Background(), "make")
	require.NoError(t, err)
	assert.Equal(t, "half typed", r.Input())

	_, err = r.Submit(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, 1, r.Len())
}

func TestSubmitDispatchesInOrder(t *testing.T) {
	r := NewRouter(nil)
	d := &recordingDispatcher{}
	r.SetDispatcher(d)

	for _, c := range []string{"a", "b", "c"} {
		_, err := r.Submit(context.Background(), c)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"1:a", "2:b", "3:c"}, d.jobs)
}

func TestSubmitDispatchErrorFailsAction(t *testing.T) {
	r := NewRouter(nil)
	r.SetDispatcher(&recordingDispatcher{err: context.Canceled})
	events := r.Subscribe(16)

	id, err := r.Submit(context.Background(), "sleep 1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, actionlog.ID(1), id)
	assert.Equal(t, 1, r.Len())

	a, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusFailed, a.Status)
	require.Len(t, a.Output, 1)
	assert.Contains(t, a.Output[0], "dispatch failed")
	assert.Contains(t, a.Output[0], context.Canceled.Error())

	var kinds []EventKind
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	assert.Equal(t, []EventKind{EventSubmitted, EventOutput, EventCompleted}, kinds)
}

func TestStageInputDefersDispatch(t *testing.T) {
	r := NewRouter(nil)
	d := &recordingDispatcher{}
	r.SetDispatcher(d)

	for _, c := range []string{"a", "b"} {
		require.NoError(t, r.SetInput(c))
		_, err := r.StageInput()
		require.NoError(t, err)
	}
	assert.Empty(t, d.jobs)
	assert.Equal(t, "", r.Input())

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, models.ActionStatusRunning, snap[0].Status)

	require.NoError(t, r.DispatchPending(context.Background()))
	assert.Equal(t, []string{"1:a", "2:b"}, d.jobs)

	require.NoError(t, r.DispatchPending(context.Background()))
	assert.Len(t, d.jobs, 2)
}

func TestStageInputEmpty(t *testing.T) {
	r := NewRouter(nil)
	_, err := r.StageInput()
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, 0, r.Len())
}

func TestReportExit(t *testing.T) {
	r := NewRouter(nil)
	ok, _ := r.Submit(context.Background(), "true")
	bad, _ := r.Submit(context.Background(), "false")

	require.NoError(t, r.ReportExit(ok, 0))
	require.NoError(t, r.ReportExit(bad, 2))

	a, _ := r.Get(ok)
	assert.Equal(t, models.ActionStatusSuccess, a.Status)
	require.NotNil(t, a.ExitCode)
	assert.Equal(t, 0, *a.ExitCode)

	b, _ := r.Get(bad)
	assert.Equal(t, models.ActionStatusFailed, b.Status)
	assert.Equal(t, 2, *b.ExitCode)
}

func TestReportUnknownID(t *testing.T) {
	r := NewRouter(nil)
	assert.ErrorIs(t, r.ReportOutput(3, "x"), actionlog.ErrNotFound)
	assert.ErrorIs(t, r.ReportCompletion(3, models.ActionStatusFailed), actionlog.ErrNotFound)
	assert.ErrorIs(t, r.ReportCompletion(3, models.ActionStatusRunning), actionlog.ErrInvalidTransition)
}

func TestCloseRejectsMutation(t *testing.T) {
	r := NewRouter(nil)
	id, _ := r.Submit(context.Background(), "ls")
	events := r.Subscribe(1)
	h := r.Handle()

	r.Close()
	r.Close()

	assert.True(t, h.Done())
	assert.ErrorIs(t, h.ReportOutput(id, "x"), ErrClosed)
	assert.ErrorIs(t, h.ReportCompletion(id, models.ActionStatusSuccess), ErrClosed)
	assert.ErrorIs(t, r.SetInput("pwd"), ErrClosed)
	_, err := r.SubmitInput(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	_, open := <-events
	assert.False(t, open)

	late := r.Subscribe(1)
	_, open = <-late
	assert.False(t, open)

	assert.Len(t, r.Snapshot(), 1)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	r := NewRouter(nil)
	events := r.Subscribe(16)

	id, _ := r.Submit(context.Background(), "ls")
	require.NoError(t, r.ReportOutput(id, "x"))
	require.NoError(t, r.ReportCompletion(id, models.ActionStatusSuccess))

	var kinds []EventKind
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	assert.Equal(t, []EventKind{EventSubmitted, EventOutput, EventCompleted}, kinds)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	r := NewRouter(nil)
	_ = r.Subscribe(0)

	for i := 0; i < 10; i++ {
		_, err := r.Submit(context.Background(), "echo")
		require.NoError(t, err)
	}
	assert.Equal(t, 10, r.Len())
}

// Submissions and completions racing from separate goroutines must leave a
// log that some serial order of the same calls could have produced.
func TestConcurrentSubmitAndComplete(t *testing.T) {
	r := NewRouter(nil)
	ctx := context.Background()
	const n = 100

	ids := make(chan actionlog.ID, n)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(ids)
		for i := 0; i < n; i++ {
			id, err := r.Submit(ctx, fmt.Sprintf("cmd-%d", i))
			if assert.NoError(t, err) {
				ids <- id
			}
		}
	}()

	h := r.Handle()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for id := range ids {
			status := models.ActionStatusSuccess
			if id%2 == 0 {
				status = models.ActionStatusFailed
			}
			assert.NoError(t, h.ReportOutput(id, "out"))
			assert.NoError(t, h.ReportCompletion(id, status))
			_ = r.Snapshot()
		}
	}()
	wg.Wait()

	snap := r.Snapshot()
	require.Len(t, snap, n)
	for i, a := range snap {
		assert.Equal(t, actionlog.ID(i+1), a.ID)
		assert.Equal(t, fmt.Sprintf("cmd-%d", i), a.Command)
		assert.Equal(t, []string{"out"}, a.Output)
		assert.True(t, a.Status.Terminal())
	}
}
