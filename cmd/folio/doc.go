// Package main hosts the folio CLI entrypoint and command graph.
//
// Commands translate terminal invocations into IPC calls against a running
// daemon. `folio daemon` runs the daemon in the foreground and the hidden
// `folio worker serve` hosts the background unit for child-process mode.
package main
