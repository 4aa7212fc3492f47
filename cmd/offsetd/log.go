package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/freedomlayer/offset-sub002/funder"
	"github.com/freedomlayer/offset-sub002/internal/buildlog"
	"github.com/freedomlayer/offset-sub002/liveness"
	"github.com/freedomlayer/offset-sub002/mutualcredit"
	"github.com/freedomlayer/offset-sub002/router"
	"github.com/freedomlayer/offset-sub002/tokenchannel"
)

const (
	maxLogFileSize = 10 // MB
	maxLogFiles    = 3
)

var logRotator *rotator.Rotator

// logWriter is the shared sink every subsystem logger below ultimately
// writes through; offsetdMain points it at the real log file once config
// is loaded (falling back to stderr until then), following daemon/log.go's
// rotator-pipe convention via buildlog's stand-in for the teacher's
// missing build package.
var logWriter = &buildlog.LogWriter{}

var backendLog = btclog.NewBackend(logWriter)

var (
	fundLog = buildlog.NewSubLogger("FUND", backendLog.Logger)
	mcrdLog = buildlog.NewSubLogger("MCRD", backendLog.Logger)
	tchnLog = buildlog.NewSubLogger("TCHN", backendLog.Logger)
	rtrLog  = buildlog.NewSubLogger("RTR", backendLog.Logger)
	lvnsLog = buildlog.NewSubLogger("LVNS", backendLog.Logger)
)

var subsystemLoggers = map[string]btclog.Logger{
	"FUND": fundLog,
	"MCRD": mcrdLog,
	"TCHN": tchnLog,
	"RTR":  rtrLog,
	"LVNS": lvnsLog,
}

func init() {
	funder.UseLogger(fundLog)
	mutualcredit.UseLogger(mcrdLog)
	tokenchannel.UseLogger(tchnLog)
	router.UseLogger(rtrLog)
	liveness.UseLogger(lvnsLog)
}

// initLogRotator mirrors daemon/log.go's function of the same name: open
// a rotating log file at logFile and pipe logWriter's output into it, so
// offsetd's logs survive restarts without growing unbounded.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	r, err := rotator.New(logFile, maxLogFileSize*1024, false, maxLogFiles)
	if err != nil {
		return fmt.Errorf("creating file rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	logWriter.SetOutput(pw)
	logRotator = r
	return nil
}

// setLogLevels mirrors daemon/log.go's setLogLevels: apply level to
// every known subsystem, ignoring ones that don't exist.
func setLogLevels(level string) {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		fmt.Fprintf(os.Stderr, "invalid debuglevel %q, defaulting to info\n", level)
		lvl = btclog.LevelInfo
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(lvl)
	}
}
