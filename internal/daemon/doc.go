// Package daemon coordinates the long-running folio process.
//
// It is the composition root: it wires the cache store, module loader,
// worker channel, task executor, and cache intermediary into a single
// lifecycle with flock-based locking to prevent multiple instances. The
// daemon exposes these components to the HTTP API and the IPC server; it
// does not implement caching or task semantics itself.
package daemon
