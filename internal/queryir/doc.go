// Package queryir provides the resolved intermediate representation of an
// NXQL query.
//
// ARCHITECTURE:
//
// QueryIR sits between the NXQL parser and the execution layers:
//
//	[NXQL text] → [nxql.Statement] → planner → [queryir.Plan] → query executor
//	                                               ↓
//	                                   [queryir.Select] → backend Find
//	                                                      (SQL via querysql,
//	                                                       bbolt in Go)
//
// A Plan is fully resolved: every property reference carries its
// schema.Path, every wildcard carries a variable name, and the scopes
// (live documents, versions, proxies) the query ranges over are decided.
// The executor evaluates a Plan with exact NXQL semantics.
//
// PUSHDOWN FRAGMENT:
//
// Select is the portable subset a backend can evaluate natively. It is a
// conservative prefilter: every document matching the Plan must match its
// Select, but not the reverse. The fragment includes:
//   - Type and kind restriction
//   - Equals / In on system columns and on scalar, single-valued,
//     top-level properties
//   - And
//
// The fragment excludes OR, NOT, ranges, LIKE, lists and wildcards. Those
// are evaluated by the executor after candidates are fetched.
//
// SEALED INTERFACES:
//
// Operand, Predicate and Condition are sealed with marker methods, so the
// executor and the SQL compiler can switch exhaustively:
//
//	switch p := pred.(type) {
//	case *And:
//	case *Or:
//	case *Not:
//	case *Compare:
//	case *Fulltext:
//	}
package queryir
