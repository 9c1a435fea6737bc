package lua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/exo/internal/actionlog"
	"github.com/mpataki/exo/internal/models"
	"github.com/mpataki/exo/internal/state"
	"github.com/mpataki/exo/internal/worker"
)

// Worker answers submitted actions with a Lua script instead of a shell.
// The script must define on_submit(action); it reports back with
// output(id, line), complete(id, status) and exit(id, code).
type Worker struct {
	*worker.Queue
	scriptPath string
	script     string
	logger     *slog.Logger

	handle *state.Handle
}

// NewWorker reads the script up front so a bad path fails at startup.
func NewWorker(scriptPath string, logger *slog.Logger) (*Worker, error) {
	if !IsScript(scriptPath) {
		return nil, fmt.Errorf("not a Lua script: %s", scriptPath)
	}
	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return newWorker(scriptPath, string(script), logger), nil
}

// NewWorkerFromString is NewWorker for an in-memory script.
func NewWorkerFromString(name, script string, logger *slog.Logger) *Worker {
	return newWorker(name, script, logger)
}

func newWorker(name, script string, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		Queue:      worker.NewQueue(64),
		scriptPath: name,
		script:     script,
		logger:     logger.With("script", name),
	}
}

// Run owns the Lua state; every callback runs on this goroutine.
func (w *Worker) Run(ctx context.Context, h *state.Handle) error {
	defer w.Stop()
	w.handle = h

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	defer L.Close()
	L.SetContext(ctx)

	w.openSafeLibs(L)
	w.registerAPI(L)

	if err := L.DoString(w.script); err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}

	onSubmit := L.GetGlobal("on_submit")
	if onSubmit.Type() != lua.LTFunction {
		return fmt.Errorf("script must define an 'on_submit' function")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-w.Jobs():
			w.handleJob(ctx, L, onSubmit, job)
		}
	}
}

func (w *Worker) handleJob(ctx context.Context, L *lua.LState, fn lua.LValue, job worker.Job) {
	tbl := L.NewTable()
	L.SetField(tbl, "id", lua.LNumber(job.ID))
	L.SetField(tbl, "command", lua.LString(job.Command))

	err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, tbl)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		return
	}

	w.logger.Warn("on_submit failed", "id", job.ID, "err", err)
	// Leave actions the script already finished alone.
	if status, getErr := w.handle.Status(job.ID); getErr == nil && status.Terminal() {
		return
	}
	if reportErr := w.failJob(job.ID, err); reportErr != nil {
		w.logger.Warn("failed to report script error", "id", job.ID, "err", reportErr)
	}
}

// failJob records a script error as the action's last output line and
// completes it as failed.
func (w *Worker) failJob(id actionlog.ID, cause error) error {
	outErr := w.handle.ReportOutput(id, fmt.Sprintf("script error: %v", cause))
	return errors.Join(outErr, w.handle.ReportCompletion(id, models.ActionStatusFailed))
}

// openSafeLibs loads only the safe standard libraries
func (w *Worker) openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // Use log() instead

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

func (w *Worker) registerAPI(L *lua.LState) {
	L.SetGlobal("output", L.NewFunction(w.luaOutput))
	L.SetGlobal("complete", L.NewFunction(w.luaComplete))
	L.SetGlobal("exit", L.NewFunction(w.luaExit))
	L.SetGlobal("log", L.NewFunction(w.luaLog))
}

// luaOutput implements output(id, line) -> ok, err
func (w *Worker) luaOutput(L *lua.LState) int {
	id := L.CheckInt64(1)
	line := L.CheckString(2)
	return pushResult(L, w.handle.ReportOutput(id, line))
}

// luaComplete implements complete(id, "success"|"failed") -> ok, err
func (w *Worker) luaComplete(L *lua.LState) int {
	id := L.CheckInt64(1)
	status := models.ActionStatus(L.CheckString(2))
	return pushResult(L, w.handle.ReportCompletion(id, status))
}

// luaExit implements exit(id, code) -> ok, err
func (w *Worker) luaExit(L *lua.LState) int {
	id := L.CheckInt64(1)
	code := L.CheckInt(2)
	return pushResult(L, w.handle.ReportExit(id, code))
}

// luaLog implements log(message)
func (w *Worker) luaLog(L *lua.LState) int {
	message := L.CheckString(1)
	w.logger.Info(message)
	return 0
}

func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// IsScript checks if a file is a Lua script
func IsScript(path string) bool {
	return filepath.Ext(path) == ".lua"
}
