package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/charmbracelet/log"

	"github.com/drummonds/elibrary/config"
	"github.com/drummonds/elibrary/engine"
	"github.com/drummonds/elibrary/engine/imagecache"
	"github.com/drummonds/elibrary/engine/pdfrenderer"
)

// newLogger creates a terminal logger with short timestamps
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// injectGlobals routes the package slog loggers through the terminal logger
func injectGlobals(l *log.Logger) *slog.Logger {
	logger := slog.New(l)
	config.Logger = logger
	engine.Logger = logger
	pdfrenderer.Logger = logger
	imagecache.Logger = logger
	return logger
}

type ctxKey int

const loggerKey ctxKey = 0

func withLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// loggerFromContext falls back to log.Default() when no logger is attached
func loggerFromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey).(*log.Logger); ok {
		return l
	}
	return log.Default()
}

// elapsed formats the time since start for completion messages
func elapsed(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
