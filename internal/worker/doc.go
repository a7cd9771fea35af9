// Package worker owns the background execution unit and its lifecycle.
//
// A Unit dispatches task envelopes to registered handlers and always answers
// with exactly one reply, converting handler errors and panics into ERROR
// replies. A Channel keeps at most one live unit, created lazily through a
// Spawner and torn down only by Terminate or by the unit exiting on its own.
package worker
