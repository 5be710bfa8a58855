//go:build windows

package main

import "os"

// shutdownSignals stop a long-running command. Windows has no SIGTERM.
var shutdownSignals = []os.Signal{os.Interrupt}
