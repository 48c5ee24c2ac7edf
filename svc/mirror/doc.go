// Package mirror is the local copy of a connected account's payment platform
// data together with the entitlement configuration layered on top of it.
//
// Every mirrored object is keyed by (account, external id). Upserts are
// idempotent and replace the stored raw JSON wholesale, so the sync pipeline
// and webhook handlers can re-run any step without coordination. Lookups
// return ErrNotFound for explicit absence.
//
// Two Store implementations are provided: PostgresStore for production and
// MemoryStore for tests and local runs. WithTracking decorates either one to
// emit account and user lifecycle events.
package mirror
