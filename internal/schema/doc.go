// Package schema holds the registry of schemas, facets and document types
// and resolves NXQL property paths against it.
//
// A registry is built once (from CUE via LoadDir/LoadString, or the
// embedded Default) and is read-only afterwards. Schema presence on a
// document is always recomputed from its type and dynamic facets.
package schema
