package query

import (
	"golang.org/x/text/cases"
)

var likeFolder = cases.Fold()

// Like matches s against an NXQL LIKE pattern: % matches any run, _ any
// single character, and a backslash escapes the next character. With fold
// set, both sides are case folded first (ILIKE).
func Like(s, pattern string, fold bool) bool {
	if fold {
		s = likeFolder.String(s)
		pattern = likeFolder.String(pattern)
	}
	return likeRunes([]rune(s), compilePattern(pattern))
}

type likeToken struct {
	any     bool // %
	one     bool // _
	literal rune
}

func compilePattern(pattern string) []likeToken {
	var out []likeToken
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			out = append(out, likeToken{literal: r})
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			// Collapse runs of %.
			if len(out) > 0 && out[len(out)-1].any {
				continue
			}
			out = append(out, likeToken{any: true})
		case r == '_':
			out = append(out, likeToken{one: true})
		default:
			out = append(out, likeToken{literal: r})
		}
	}
	if escaped {
		out = append(out, likeToken{literal: '\\'})
	}
	return out
}

// likeRunes is the classic greedy wildcard match with a single backtrack
// point.
func likeRunes(s []rune, p []likeToken) bool {
	si, pi := 0, 0
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(p) && !p[pi].any && (p[pi].one || p[pi].literal == s[si]):
			si++
			pi++
		case pi < len(p) && p[pi].any:
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi].any {
		pi++
	}
	return pi == len(p)
}
