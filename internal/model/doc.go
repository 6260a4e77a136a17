// Package model provides the core data types of nxdoc: property values,
// persisted document state and access control entries.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Value is sealed: Null, String, Int, Float, Bool, Time, List, Map
//   - Document, Version and Proxy share one State layout discriminated by
//     Kind; behavior differences live in package core
//   - State is stored as JSON; MarshalValue keeps floats and times typed
//   - Property digests use canonical JSON and BLAKE3 with domain separation
package model
