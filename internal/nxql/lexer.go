package nxql

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/roach88/nxdoc/internal/errs"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokStar
)

type token struct {
	kind tokenKind
	text string // keywords are upper-cased
	pos  int
}

var keywords = map[string]bool{
	"SELECT": true, "DISTINCT": true, "FROM": true, "WHERE": true,
	"ORDER": true, "BY": true, "ASC": true, "DESC": true,
	"LIMIT": true, "OFFSET": true,
	"AND": true, "OR": true, "NOT": true,
	"LIKE": true, "ILIKE": true, "IN": true, "BETWEEN": true,
	"IS": true, "NULL": true, "TRUE": true, "FALSE": true,
	"TIMESTAMP": true, "DATE": true, "STARTSWITH": true,
}

func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		r, size := utf8.DecodeRuneInString(input[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		case r == '*':
			toks = append(toks, token{kind: tokStar, text: "*", pos: i})
			i++
		case r == '\'' || r == '"':
			s, n, err := lexString(input, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i += n
		case r == '=':
			toks = append(toks, token{kind: tokOp, text: "=", pos: i})
			i++
		case r == '<' || r == '>' || r == '!':
			op := string(r)
			if i+1 < len(input) && (input[i+1] == '=' || (r == '<' && input[i+1] == '>')) {
				op += string(input[i+1])
			}
			if op == "!" {
				return nil, lexErr(input, i, "unexpected '!'")
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		case unicode.IsDigit(r) || ((r == '-' || r == '+') && i+1 < len(input) && isDigitByte(input[i+1])):
			n := lexNumber(input, i)
			toks = append(toks, token{kind: tokNumber, text: input[i : i+n], pos: i})
			i += n
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(input) {
				c, sz := utf8.DecodeRuneInString(input[i:])
				if !isIdentRune(c) {
					break
				}
				i += sz
			}
			word := input[start:i]
			if upper := strings.ToUpper(word); keywords[upper] {
				toks = append(toks, token{kind: tokKeyword, text: upper, pos: start})
			} else {
				toks = append(toks, token{kind: tokIdent, text: word, pos: start})
			}
		default:
			return nil, lexErr(input, i, "unexpected character "+string(r))
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(input)})
	return toks, nil
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) ||
		r == '_' || r == ':' || r == '.' || r == '/' || r == '*' || r == '-'
}

func isDigitByte(b byte) bool { return b >= '0' && b <= '9' }

func lexNumber(input string, start int) int {
	i := start
	if input[i] == '-' || input[i] == '+' {
		i++
	}
	for i < len(input) && isDigitByte(input[i]) {
		i++
	}
	if i < len(input) && input[i] == '.' {
		i++
		for i < len(input) && isDigitByte(input[i]) {
			i++
		}
	}
	if i < len(input) && (input[i] == 'e' || input[i] == 'E') {
		j := i + 1
		if j < len(input) && (input[j] == '-' || input[j] == '+') {
			j++
		}
		if j < len(input) && isDigitByte(input[j]) {
			i = j
			for i < len(input) && isDigitByte(input[i]) {
				i++
			}
		}
	}
	return i - start
}

// lexString reads a quoted literal. The quote character is escaped by
// doubling it or with a backslash.
func lexString(input string, start int) (string, int, error) {
	quote := input[start]
	var b strings.Builder
	i := start + 1
	for i < len(input) {
		c := input[i]
		switch {
		case c == '\\' && i+1 < len(input):
			b.WriteByte(input[i+1])
			i += 2
		case c == quote && i+1 < len(input) && input[i+1] == quote:
			b.WriteByte(quote)
			i += 2
		case c == quote:
			return b.String(), i + 1 - start, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, lexErr(input, start, "unterminated string literal")
}

func lexErr(input string, pos int, msg string) error {
	return errs.Parse("%s at position %d", msg, pos).With("query", input)
}
