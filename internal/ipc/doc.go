// Package ipc exposes the folio daemon over JSON-RPC on a Unix socket and
// ships the matching client used by the CLI.
//
// Task failures travel inside ExecuteResponse rather than as RPC errors so
// callers can tell a rejected task from a broken connection.
package ipc
