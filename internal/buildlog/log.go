// Package buildlog is a minimal stand-in for the teacher's missing `build`
// package (referenced throughout daemon/log.go as build.LogWriter /
// build.NewSubLogger but not itself present in the example corpus): a
// shared io.Writer log sink plus a constructor for per-subsystem
// btclog.Logger values, so every package in this module can expose the
// same UseLogger(btclog.Logger) convention daemon/log.go drives.
package buildlog

import (
	"io"
	"os"

	"github.com/btcsuite/btclog"
)

// LogWriter buffers logging output, ready to be wrapped by a rotator once
// the daemon has parsed its config and knows the log file path. Mirrors
// the teacher's build.LogWriter (daemon/log.go's `logWriter.RotatorPipe`
// field): a bare io.Writer usable before the real output destination is
// known, later pointed at the write end of the pipe a jrick/logrotate
// rotator reads from.
type LogWriter struct {
	RotatorPipe io.Writer
}

// SetOutput directs subsequent writes to dest -- typically the
// io.PipeWriter half of a pipe whose read end a logrotate.Rotator is
// draining. Called once, after config parsing, by cmd/offsetd's startup
// sequence.
func (w *LogWriter) SetOutput(dest io.Writer) {
	w.RotatorPipe = dest
}

// Write implements io.Writer, falling back to stderr until SetOutput has
// been called -- matching how daemon/log.go logs before log rotation is
// initialized.
func (w *LogWriter) Write(p []byte) (int, error) {
	if w.RotatorPipe == nil {
		return os.Stderr.Write(p)
	}
	return w.RotatorPipe.Write(p)
}

// NewSubLogger creates a tagged btclog.Logger by calling loggerFn(tag).
// Call sites pass a *btclog.Backend's Logger method value, exactly as
// cmd/offsetd/log.go does: buildlog.NewSubLogger("MCRD", backendLog.Logger).
func NewSubLogger(tag string, loggerFn func(string) btclog.Logger) btclog.Logger {
	return loggerFn(tag)
}
