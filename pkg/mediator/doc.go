// Package mediator layers a local cache source in front of a remote source
// and exposes the combination as per-query pull pagers. Each load serves
// cached data first, computes the sub-ranges the cache could not cover,
// fetches them from the remote under bounded concurrency, persists the
// merged result back into the cache, and reconciles total-size disagreement
// between the two sources by clearing the cache and refetching once.
//
// Stale records are the consumer's notion of expiry: positions whose cached
// value fails the staleness predicate are omitted from local emissions and
// treated as missing, so they are refreshed from the remote on the next
// load that covers them.
package mediator
