package logging

import (
	"io"
	"log/slog"
)

// Discard returns a Logger that drops everything. Intended for tests and
// for components constructed without a logger.
func Discard() Logger {
	return NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}
