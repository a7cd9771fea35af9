// Package intercept implements the cache intermediary that sits in front of
// the front end's origin.
//
// Install pre-populates the static generation with the application shell and
// fails as a whole if any shell resource cannot be fetched. Activate deletes
// every generation from earlier versions and starts intercepting. Once
// active, GET requests outside the API prefix are answered from the cache
// when possible and refreshed in the background (stale-while-revalidate);
// misses go to the network and successful responses are stored in the
// dynamic generation. Every other request passes straight through.
package intercept
