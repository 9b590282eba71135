// Package condition implements the restricted rule condition language:
// comparisons between a feature reference and a literal, joined with AND/OR
// and grouped with parentheses. There are no function calls, assignments or
// arithmetic; a condition can only read features.
package condition

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokTrue
	tokFalse
	tokAnd
	tokOr
	tokOp
	tokLParen
	tokRParen
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of condition"
	case tokIdent:
		return "identifier"
	case tokNumber:
		return "number"
	case tokString:
		return "string"
	case tokTrue, tokFalse:
		return "boolean"
	case tokAnd:
		return "AND"
	case tokOr:
		return "OR"
	case tokOp:
		return "operator"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	default:
		return "token"
	}
}

type token struct {
	kind tokenKind
	text string // identifier path, operator, or unquoted string body
	pos  int
}

// SyntaxError reports a malformed condition.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// tokenize splits src into tokens. Identifiers may contain dots
// (namespace.feature) and a trailing '+' per segment, so that service names
// such as "TV+" can be referenced.
func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++

		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++

		case c == '>' || c == '<' || c == '=' || c == '!':
			start := i
			op := string(c)
			if i+1 < len(src) && src[i+1] == '=' {
				op += "="
			}
			if op == "=" || op == "!" {
				return nil, &SyntaxError{Pos: start, Msg: fmt.Sprintf("unexpected %q", op)}
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: start})
			i += len(op)

		case c == '"' || c == '\'':
			start := i
			quote := c
			var sb strings.Builder
			i++
			closed := false
			for i < len(src) {
				if src[i] == '\\' && i+1 < len(src) {
					sb.WriteByte(src[i+1])
					i += 2
					continue
				}
				if src[i] == quote {
					closed = true
					i++
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, &SyntaxError{Pos: start, Msg: "unterminated string"}
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), pos: start})

		case isDigit(c) || ((c == '-' || c == '.') && i+1 < len(src) && (isDigit(src[i+1]) || src[i+1] == '.')):
			start := i
			if c == '-' {
				i++
			}
			seenDot := false
			for i < len(src) && (isDigit(src[i]) || (src[i] == '.' && !seenDot)) {
				if src[i] == '.' {
					seenDot = true
				}
				i++
			}
			if i < len(src) && isIdentStart(src[i]) {
				return nil, &SyntaxError{Pos: start, Msg: "malformed number"}
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], pos: start})

		case isIdentStart(c):
			start := i
			for i < len(src) {
				for i < len(src) && isIdentPart(src[i]) {
					i++
				}
				for i < len(src) && src[i] == '+' {
					i++
				}
				if i+1 < len(src) && src[i] == '.' && isIdentStart(src[i+1]) {
					i++
					continue
				}
				break
			}
			word := src[start:i]
			toks = append(toks, keyword(word, start))

		default:
			return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func keyword(word string, pos int) token {
	switch strings.ToUpper(word) {
	case "AND":
		return token{kind: tokAnd, text: word, pos: pos}
	case "OR":
		return token{kind: tokOr, text: word, pos: pos}
	case "TRUE":
		return token{kind: tokTrue, text: word, pos: pos}
	case "FALSE":
		return token{kind: tokFalse, text: word, pos: pos}
	}
	return token{kind: tokIdent, text: word, pos: pos}
}
