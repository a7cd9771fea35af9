// Package preflight provides readiness checks for the filesystem paths and
// network endpoints folio depends on.
//
// The daemon runs RunAll before starting and logs every failed check; the CLI
// "folio status" command renders the same results. Checks for features that
// are not configured are skipped.
package preflight
