package main

import (
	"os"
	"path/filepath"

	"github.com/btcsuite/btcutil"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultDataDirname = "data"
	defaultLogFilename = "offsetd.log"
	defaultRPCListen   = "localhost:10345"
	defaultLogLevel    = "info"
)

// defaultOffsetdDir follows cmd/lncli/main.go's defaultLndDir convention:
// btcutil.AppDataDir resolves the OS-appropriate per-user application
// data directory ($HOME/.offsetd on Unix, %LOCALAPPDATA%\Offsetd on
// Windows, ~/Library/Application Support/Offsetd on macOS).
var defaultOffsetdDir = btcutil.AppDataDir("offsetd", false)

// config mirrors daemon's loadConfig shape (a flat struct parsed by
// jessevdk/go-flags) narrowed to what a single Funder instance needs:
// where its data lives, what address its gRPC surface listens on, and
// how verbose its subsystem loggers should be.
type config struct {
	OffsetdDir string `long:"offsetddir" description:"base directory holding this node's identity key, mutation log and macaroon root key"`
	RPCListen  string `long:"rpclisten" description:"host:port the FunderService gRPC surface listens on"`
	DebugLevel string `long:"debuglevel" description:"logging level for all subsystems {trace, debug, info, warn, error, critical}"`

	DataDir     string
	LogDir      string
	IdentityKey string
	MutationLog string
	MacaroonDB  string
}

func loadConfig(args []string) (*config, error) {
	cfg := config{
		OffsetdDir: defaultOffsetdDir,
		RPCListen:  defaultRPCListen,
		DebugLevel: defaultLogLevel,
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args[1:]); err != nil {
		return nil, err
	}

	cfg.DataDir = filepath.Join(cfg.OffsetdDir, defaultDataDirname)
	cfg.LogDir = cfg.OffsetdDir

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}

	cfg.IdentityKey = filepath.Join(cfg.DataDir, "identity.key")
	cfg.MutationLog = filepath.Join(cfg.DataDir, "funder.db")
	cfg.MacaroonDB = filepath.Join(cfg.DataDir, "macaroons.db")

	return &cfg, nil
}
