package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/exo/internal/config"
	"github.com/mpataki/exo/internal/logging"
	"github.com/mpataki/exo/internal/models"
	"github.com/mpataki/exo/internal/state"
	"github.com/mpataki/exo/internal/storage"
)

func testConfig(t *testing.T, worker string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	corpus := filepath.Join(dir, "history")
	require.NoError(t, os.WriteFile(corpus, []byte("ls\npwd\ngit log\n"), 0644))
	return &config.Config{
		DataDir:  dir,
		DBPath:   filepath.Join(dir, "exo.db"),
		LogPath:  filepath.Join(dir, "exo.log"),
		Corpus:   corpus,
		Worker:   worker,
		Workers:  2,
		Shell:    "/bin/sh",
		LogLevel: "debug",
	}
}

func TestSessionSeedsDemoAndJournals(t *testing.T) {
	cfg := testConfig(t, "shell")
	logger := logging.NewWithWriters(slog.LevelDebug, os.Stderr)

	sess, err := openSession(cfg, logger, 3)
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, 3, sess.router.Len())

	ctx, cancel := context.WithCancel(context.Background())
	stop, _ := sess.start(ctx)

	id, err := sess.router.Submit(ctx, "echo journaled")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		a, _ := sess.router.Get(id)
		return a.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, stop())

	recs, err := sess.store.ListSession(sess.journal.SessionID())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "echo journaled", recs[0].Command)
	assert.Equal(t, []string{"journaled"}, recs[0].Output)

	err = sess.router.ReportOutput(id, "late")
	assert.ErrorIs(t, err, state.ErrClosed)
}

func TestSessionMissingCorpus(t *testing.T) {
	cfg := testConfig(t, "idle")
	cfg.Corpus = filepath.Join(cfg.DataDir, "missing")
	logger := logging.NewWithWriters(slog.LevelDebug, os.Stderr)

	sess, err := openSession(cfg, logger, 19)
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, 0, sess.router.Len())
}

func TestSessionBadScript(t *testing.T) {
	cfg := testConfig(t, "lua")
	cfg.Script = filepath.Join(cfg.DataDir, "missing.lua")
	logger := logging.NewWithWriters(slog.LevelDebug, os.Stderr)

	_, err := openSession(cfg, logger, 0)
	assert.Error(t, err)
}

func TestPrinterWaitsInOrder(t *testing.T) {
	r := state.NewRouter(nil)
	first, _ := r.Submit(context.Background(), "first")
	second, _ := r.Submit(context.Background(), "second")
	p := newPrinter(r, []int64{first, second})

	require.NoError(t, r.ReportExit(second, 0))
	p.flush()
	assert.False(t, p.done())
	assert.Equal(t, 0, p.next)

	require.NoError(t, r.ReportOutput(first, "line"))
	p.flush()
	assert.Equal(t, 1, p.printed)

	require.NoError(t, r.ReportCompletion(first, models.ActionStatusFailed))
	p.flush()
	assert.True(t, p.done())
	assert.Equal(t, 1, p.failures())
}

func TestLoadedStoreIsReusable(t *testing.T) {
	cfg := testConfig(t, "idle")
	store, err := storage.New(cfg.DBPath)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = storage.New(cfg.DBPath)
	require.NoError(t, err)
	defer store.Close()
	recs, err := store.ListActions(5)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
