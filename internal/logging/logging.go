// Package logging holds the process-wide logger shared by the siftgpu
// root package and every internal subpackage, so a single call to
// siftgpu.SetLogger turns on diagnostics for the whole call graph without
// an import cycle back to the root package.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// Set installs the shared logger. A nil logger reinstalls the no-op default.
func Set(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)
}

// Get returns the currently installed shared logger.
func Get() *slog.Logger {
	return loggerPtr.Load()
}
