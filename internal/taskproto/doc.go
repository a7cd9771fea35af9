// Package taskproto defines the messages exchanged between the task executor
// and the background unit.
//
// Every envelope carries a correlation identifier and every reply echoes it,
// so any number of tasks may be outstanding on one stream. Messages travel as
// newline-delimited JSON objects.
package taskproto
