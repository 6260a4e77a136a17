// Package core implements the document repository: sessions, the
// document/version/proxy lifecycle, facets, locks and query entry points.
//
// A Repository owns the backend, the schema registry, the query pipeline
// and the process-wide scroll registry. Callers act through a Session
// bound to a security.Principal.
//
// Transaction model:
//
//   - mutations go to the session's pending set and are visible to the
//     session's own reads immediately
//   - Save stamps change tokens, moves pending states into the transaction
//     overlay (which queries see) and drains invalidations sent by other
//     sessions
//   - Commit writes the overlay in one backend batch and invalidates the
//     committed ids in every other open session
//   - Rollback discards pending and overlay states
//
// Locks bypass the transaction: SetLock and RemoveLock are a single
// compare-and-set in the backend.
//
// Kind-specific rules:
//
//   - versions are immutable unless the session allows version writes, and
//     then only lifecycle state and version-writable fields may change
//   - live proxies forward property writes to their target, version
//     proxies are immutable like the version they point to
//   - a version cannot be removed while a proxy or a live document's base
//     version references it
//
// A Session is not safe for concurrent use. The Repository is.
package core
