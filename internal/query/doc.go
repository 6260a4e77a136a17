// Package query executes NXQL plans.
//
// The executor is backend independent. It fetches candidates with the
// plan's pushdown Select, then applies exact NXQL semantics in Go:
//
//   - proxies read their properties and target-held system attributes
//     from their target
//   - wildcard variables are bound per row (columns, ORDER BY) or
//     existentially (correlated WHERE-only), with LEFT JOIN semantics for
//     empty lists
//   - list-valued paths without a wildcard compare with any-element
//     semantics; negative operators mean no element matches
//   - comparisons use three-valued logic; NULL never equals anything
//   - fulltext predicates are matched by package fulltext
//
// Results are filtered to documents the caller may Browse, ordered with an
// ecm:uuid tie-break, deduplicated for DISTINCT, counted and paginated.
package query
