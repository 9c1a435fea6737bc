// Package logging builds the process logger: a text log file that is always
// written, fanned out to extra writers such as stderr for headless commands.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

type Logger struct {
	*slog.Logger
	level *slog.LevelVar
	file  *os.File
}

// New opens (appending) the log file at path and returns a logger writing
// to it and to every extra writer.
func New(path string, level slog.Level, extra ...io.Writer) (*Logger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := NewWithWriters(level, append([]io.Writer{file}, extra...)...)
	l.file = file
	return l, nil
}

func NewWithWriters(level slog.Level, writers ...io.Writer) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(level)

	var handlers []slog.Handler
	for _, w := range writers {
		handlers = append(handlers, slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: lv,
		}))
	}

	return &Logger{
		Logger: slog.New(slogmulti.Fanout(handlers...)),
		level:  lv,
	}
}

func (l *Logger) SetLevel(level slog.Level) {
	l.level.Set(level)
}

func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
