// Package logs reads the daemon's log file for `folio logs`: the last N lines
// and, optionally, new lines as they are appended.
package logs
