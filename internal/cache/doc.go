// Package cache provides the short-TTL key/value stores behind the score read
// cache: an in-process Memory store and a Redis store guarded by a circuit
// breaker. Both satisfy score.Cache.
package cache
