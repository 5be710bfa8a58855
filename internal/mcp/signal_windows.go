//go:build windows

package mcp

import "os"

// shutdownSignals stop a long-running command. Windows has no SIGTERM.
var shutdownSignals = []os.Signal{os.Interrupt}
