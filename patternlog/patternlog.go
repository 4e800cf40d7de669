// Package patternlog wraps github.com/hashicorp/go-hclog with the small
// set of constructors the module needs for a leveled, key/value structured
// logger. Within the module, transport.LoggingEndpoint is its only user;
// engine.Engine, worker, leadership.Elector and notifier.Notifier do not
// take a patternlog.Logger.
package patternlog

import (
	"io"

	"github.com/hashicorp/go-hclog"
)

// Logger is the structured logger interface used throughout the module.
type Logger = hclog.Logger

// New creates a named logger writing to os.Stderr at the given level
// ("trace", "debug", "info", "warn", "error"; empty defaults to "info").
func New(name, level string) Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  name,
		Level: hclog.LevelFromString(level),
	})
}

// NewWriter creates a named logger writing to w, for tests that want to
// capture log output.
func NewWriter(name, level string, w io.Writer) Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  hclog.LevelFromString(level),
		Output: w,
	})
}

// Discard returns a logger that drops everything, for components under
// test that don't want log noise.
func Discard() Logger {
	return hclog.NewNullLogger()
}

// Default is a process-wide fallback logger for call sites that don't have
// a component-specific logger threaded through yet.
var Default = New("pattern", "info")
