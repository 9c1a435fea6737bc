package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mpataki/exo/internal/actionlog"
	"github.com/mpataki/exo/internal/config"
	"github.com/mpataki/exo/internal/demo"
	"github.com/mpataki/exo/internal/logging"
	exoLua "github.com/mpataki/exo/internal/lua"
	"github.com/mpataki/exo/internal/state"
	"github.com/mpataki/exo/internal/storage"
	"github.com/mpataki/exo/internal/worker"
)

// session wires the router to its worker and journal for one process run.
type session struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   *storage.Storage
	router  *state.Router
	worker  worker.Worker
	journal *storage.Journal
}

// loadConfig applies command-line overrides on top of config.New.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("worker") {
		cfg.Worker, _ = flags.GetString("worker")
	}
	if flags.Changed("script") {
		cfg.Script, _ = flags.GetString("script")
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("corpus") {
		cfg.Corpus, _ = flags.GetString("corpus")
	}
	if flags.Changed("demo") {
		cfg.DemoCount, _ = flags.GetInt("demo")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, extra ...io.Writer) (*logging.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(cfg.LogPath, level, extra...)
}

func newWorker(cfg *config.Config, logger *logging.Logger) (worker.Worker, error) {
	switch cfg.Worker {
	case worker.KindIdle:
		return worker.NewIdle(), nil
	case worker.KindLua:
		w, err := exoLua.NewWorker(cfg.Script, logger.Logger)
		if err != nil {
			return nil, err
		}
		return w, nil
	case worker.KindShell:
		dir, _ := os.Getwd()
		return worker.NewShell(worker.ShellOptions{
			Shell:   cfg.Shell,
			Workers: cfg.Workers,
			Timeout: cfg.Timeout,
			Dir:     dir,
			Logger:  logger.Logger,
		}), nil
	}
	return nil, worker.ValidKind(cfg.Worker)
}

// openSession builds the router, seeds demoCount fake actions and starts
// nothing yet; call start to run the worker and journal.
func openSession(cfg *config.Config, logger *logging.Logger, demoCount int) (*session, error) {
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	w, err := newWorker(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	router := state.NewRouter(logger.Logger)
	if demoCount > 0 {
		corpus := demo.LoadCorpusOrEmpty(cfg.Corpus, logger.Logger)
		seeded := router.Seed(demo.NewGenerator(corpus, nil).Actions(demoCount)...)
		logger.Info("seeded demo actions", "count", len(seeded))
	}
	router.SetDispatcher(w)

	journal := storage.NewJournal(store, router, actionlog.ID(router.Len()+1), logger.Logger)

	return &session{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		router:  router,
		worker:  w,
		journal: journal,
	}, nil
}

// start runs the worker until ctx is cancelled and the journal until the
// router closes. stop cancels nothing itself: it waits for the worker, closes
// the router so late reports are rejected, then waits for the journal.
// failed is closed if the worker exits with an error before ctx ends.
func (s *session) start(ctx context.Context) (stop func() error, failed <-chan struct{}) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.worker.Run(gctx, s.router.Handle())
	})

	journalDone := make(chan error, 1)
	go func() {
		journalDone <- s.journal.Run(context.Background())
	}()

	workerFailed := make(chan struct{})
	go func() {
		<-gctx.Done()
		if ctx.Err() == nil {
			close(workerFailed)
		}
	}()

	return func() error {
		err := g.Wait()
		s.router.Close()
		if jerr := <-journalDone; err == nil {
			err = jerr
		}
		return err
	}, workerFailed
}

func (s *session) Close() error {
	return s.store.Close()
}
