package tokenchannel

import "github.com/btcsuite/btclog"

// log is this package's logger, a no-op sink until UseLogger is called by
// the daemon's startup sequence (cmd/offsetd/log.go's TCHN subsystem tag).
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by tokenchannel.
func UseLogger(logger btclog.Logger) {
	log = logger
}
