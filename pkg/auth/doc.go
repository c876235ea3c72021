/*
Package auth is the token gate for match-scoped credentials.

A bearer token is "<id>.<hmac-sha256(id)>": clients hold an opaque string,
the gate holds the authoritative record. Validation checks signature,
existence, expiry, and revocation in that order, and serves hot tokens
from a short-TTL LRU cache so the streaming handlers do not contend on
the record map. Revocation removes the cache entry immediately.

Lifetimes are clamped to [1h default, 24h max]. Tokens for finished
matches expire naturally; RevokeMatch exists for operators who want
eager invalidation.
*/
package auth
