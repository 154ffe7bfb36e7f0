// Package backoff holds the pure wait-duration policies used between retry
// attempts and a small retry-loop combinator built on top of them. Policies
// never sleep; suspension is delegated to a Sleeper so callers (and tests)
// decide how waiting happens.
package backoff
