//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals stop a long-running command.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
