// Package modules acquires large optional code units on demand.
//
// A Loader resolves each named unit at most once per process and hands the
// memoized Module to every later caller. Failed acquisitions are not
// remembered, so the next Load retries. Preload pre-warms the commonly used
// units in the background; its failures are logged and never surfaced.
package modules
