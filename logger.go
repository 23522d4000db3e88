package compute

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// discard drops every record and reports all levels disabled.
type discard struct{}

func (discard) Enabled(context.Context, slog.Level) bool  { return false }
func (discard) Handle(context.Context, slog.Record) error { return nil }
func (discard) WithAttrs([]slog.Attr) slog.Handler        { return discard{} }
func (discard) WithGroup(string) slog.Handler             { return discard{} }

var logger atomic.Pointer[slog.Logger]

func init() { logger.Store(slog.New(discard{})) }

// SetLogger sets the logger shared by compute and backend/native. Nothing
// is logged until it is called; nil turns logging off again.
//
// Records carry a "shader" attribute with the shader label where one
// applies. Levels:
//   - Debug: shader ready, uniforms finalized, dispatch group counts, close
//   - Info: adapter opened by the native backend
//   - Warn: arguments ignored for .spv shaders, device teardown problems
//   - Error: failed New or FinishCreateUniforms, and every not-ready call
//
// For example, to see dispatches on stderr:
//
//	compute.SetLogger(slog.New(slog.NewTextHandler(os.Stderr,
//		&slog.HandlerOptions{Level: slog.LevelDebug})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(discard{})
	}
	logger.Store(l)
}

// Logger returns the logger set by SetLogger. Backends log through it.
func Logger() *slog.Logger { return logger.Load() }

func slogger() *slog.Logger { return logger.Load() }
