// Package nxql parses NXQL, the SQL subset used to query documents.
//
//	SELECT [DISTINCT] * | ref {, ref}
//	FROM type {, type}
//	[WHERE expr]
//	[ORDER BY ref [ASC|DESC] {, ...}]
//	[LIMIT n] [OFFSET n]
//
// References are left unresolved: "dc:title", "cpx:people/*1/firstname",
// "ecm:acl/*1/principal" and "ecm:fulltext.dc:title" all lex as single
// identifiers. Resolution against the schema registry happens in package
// planner.
package nxql
