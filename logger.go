package aligner

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// devices tracks the devices used by live engines so SetLogger can reach
// backends that keep their own logger.
var (
	devicesMu sync.Mutex
	devices   = map[gpucore.Device]int{}
)

// SetLogger configures the logger for aligner and the backends its engines
// use. By default aligner produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to disable logging.
//
// Log levels used by aligner:
//   - [slog.LevelDebug]: per-trial decisions and stage timings
//   - [slog.LevelInfo]: engine creation and run completion
//   - [slog.LevelWarn]: non-fatal issues (backend fallback, release failures)
//
// Example:
//
//	aligner.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	devicesMu.Lock()
	defer devicesMu.Unlock()
	for d := range devices {
		propagateLogger(d, l)
	}
}

// Logger returns the current logger used by aligner.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by devices that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

func propagateLogger(d gpucore.Device, l *slog.Logger) {
	if ls, ok := d.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}

// trackDevice registers a device used by a new engine and hands it the
// current logger.
func trackDevice(d gpucore.Device) {
	devicesMu.Lock()
	defer devicesMu.Unlock()
	if devices[d] == 0 {
		propagateLogger(d, Logger())
	}
	devices[d]++
}

func untrackDevice(d gpucore.Device) {
	devicesMu.Lock()
	defer devicesMu.Unlock()
	if devices[d] <= 1 {
		delete(devices, d)
		return
	}
	devices[d]--
}
