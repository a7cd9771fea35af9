// Package cachestore persists response snapshots for the cache intermediary.
//
// Entries live inside named generations. Deleting a generation deletes every
// entry it owns. Writes are last-write-wins upserts keyed by generation,
// method and URL.
package cachestore
