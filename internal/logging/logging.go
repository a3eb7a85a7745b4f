// Package logging provides the structured logging plumbing for the service.
//
// Rules followed across the codebase:
//   - Loggers are injected, never global
//   - Each component scopes its logger once, at construction, with
//     logger.With("component", ...)
//   - A nil logger means "discard"
//
// Output format, level, and destination are decided only in main via New.
// Components must never call slog.SetDefault.
//
// Log at run boundaries and per validation decision. Do not log per HTML
// node or per JSON field while parsing sources.
package logging

import (
	"context"
	"log/slog"
)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns logger, or a discard logger when it is nil:
//
//	func New(cfg Config) *Reconciler {
//	    return &Reconciler{logger: logging.Default(cfg.Logger).With("component", "reconcile")}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}
