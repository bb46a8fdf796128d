// Package blog holds the per-subsystem loggers shared by the bridge's
// packages, following the subsystem-logger convention used throughout
// lnd (each package holds a package-level `log` disabled by default
// until the binary's main() wires a real backend via UseLogger).
package blog

import (
	"github.com/btcsuite/btclog"
)

// Subsystem tags, one per package that logs.
const (
	SubsystemClient  = "CLNT"
	SubsystemServer  = "SRVR"
	SubsystemStore   = "STOR"
	SubsystemMusig   = "MSIG"
	SubsystemArkoor  = "ARKR"
	SubsystemBridge  = "BRPC"
)

// disabled is the no-op logger used until a binary installs a real
// backend. Matches lnd's btclog.Disabled default.
var disabled = btclog.Disabled

// loggers holds one logger per subsystem tag, defaulting to disabled.
var loggers = map[string]btclog.Logger{
	SubsystemClient: disabled,
	SubsystemServer: disabled,
	SubsystemStore:  disabled,
	SubsystemMusig:  disabled,
	SubsystemArkoor: disabled,
	SubsystemBridge: disabled,
}

// Logger returns the logger registered for subsystem, or the disabled
// logger if nothing has been registered yet.
func Logger(subsystem string) btclog.Logger {
	if l, ok := loggers[subsystem]; ok {
		return l
	}
	return disabled
}

// UseLogger installs logger as the backend for subsystem. Binaries call
// this during start-up (see cmd/bridged's setupLoggers) after
// constructing a btclog.Backend from the configured log file/level.
func UseLogger(subsystem string, logger btclog.Logger) {
	loggers[subsystem] = logger
}
