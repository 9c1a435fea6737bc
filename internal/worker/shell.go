package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mpataki/exo/internal/models"
	"github.com/mpataki/exo/internal/state"
)

type ShellOptions struct {
	Shell   string
	Workers int
	Timeout time.Duration
	Dir     string
	Logger  *slog.Logger
}

// Shell executes each command with "<shell> -c" and streams its combined
// stdout and stderr into the log line by line.
type Shell struct {
	*Queue
	opts ShellOptions
}

func NewShell(opts ShellOptions) *Shell {
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Shell{
		Queue: NewQueue(opts.Workers * 16),
		opts:  opts,
	}
}

func (w *Shell) Run(ctx context.Context, h *state.Handle) error {
	defer w.Stop()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-w.jobs:
					w.execute(ctx, h, job)
				}
			}
		})
	}
	return g.Wait()
}

func (w *Shell) execute(ctx context.Context, h *state.Handle, job Job) {
	logger := w.opts.Logger.With("id", job.ID)
	if w.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.Timeout)
		defer cancel()
	}

	started := time.Now()
	exitCode, err := w.runCommand(ctx, job, func(line string) {
		if err := h.ReportOutput(job.ID, line); err != nil {
			logger.Debug("output dropped", "err", err)
		}
	})

	switch {
	case err != nil:
		logger.Warn("command failed to run", "command", job.Command, "err", err)
		report(logger, h.ReportOutput(job.ID, err.Error()))
		report(logger, h.ReportCompletion(job.ID, models.ActionStatusFailed))
	case ctx.Err() != nil:
		msg := "killed: " + ctx.Err().Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("killed: timed out after %s", w.opts.Timeout)
		}
		logger.Info("command cancelled", "command", job.Command, "reason", ctx.Err())
		report(logger, h.ReportOutput(job.ID, msg))
		report(logger, h.ReportExit(job.ID, exitCode))
	default:
		logger.Debug("command finished", "exit", exitCode, "elapsed", time.Since(started))
		report(logger, h.ReportExit(job.ID, exitCode))
	}
}

func report(logger *slog.Logger, err error) {
	if err != nil {
		logger.Debug("report rejected", "err", err)
	}
}

// runCommand starts the command in its own process group so cancellation
// reaches every child, and returns its exit code.
func (w *Shell) runCommand(ctx context.Context, job Job, emit func(string)) (int, error) {
	cmd := exec.CommandContext(ctx, w.opts.Shell, "-c", job.Command)
	cmd.Dir = w.opts.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	r, pw, err := os.Pipe()
	if err != nil {
		return 0, err
	}
	defer r.Close()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return 0, err
	}
	pw.Close()

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		emit(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		emit("output truncated: " + err.Error())
		io.Copy(io.Discard, r)
	}

	err = cmd.Wait()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		if ctx.Err() != nil {
			return -1, nil
		}
		return exitCode, err
	}
	return exitCode, nil
}
