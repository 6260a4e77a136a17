// Package store defines the Document Graph Store contract consumed by the
// core, and the helpers shared by its implementations.
//
// # Backends
//
//   - sqlite: relational backend (mattn/go-sqlite3), one row per document
//     with indexed system columns and the JSON state; the pushdown Select
//     is compiled to SQL by package querysql
//   - bolt: schemaless document backend (bbolt), JSON documents in one
//     bucket plus a parent/name index bucket; the pushdown Select is
//     evaluated in Go with queryir.Match
//
// # Contract
//
//   - Apply is atomic: a Batch is applied entirely or not at all
//   - Reads return deep copies; callers may mutate them freely
//   - Find, GetChildren order results by id (byte order) so both backends
//     return identical sequences
//   - Locks live outside document state: SetLock is a single
//     compare-and-set and is not part of any Batch; reads attach the
//     current lock to State.Lock
//   - Deleting a document through Apply drops its lock
//
// Conformance is checked by package storetest, which every backend's tests
// run.
package store
