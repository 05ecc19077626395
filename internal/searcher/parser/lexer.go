package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/errors"
)

type lexKind int

const (
	lexEOF lexKind = iota
	lexWord
	lexPhrase
	lexLParen
	lexRParen
	lexAnd
	lexOr
	lexNot
	lexMinus
)

type lexeme struct {
	kind lexKind
	text string
	pos  int
}

func lex(raw string) ([]lexeme, error) {
	var out []lexeme
	i := 0
	for i < len(raw) {
		r, size := utf8.DecodeRuneInString(raw[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '(':
			out = append(out, lexeme{kind: lexLParen, text: "(", pos: i})
			i++
		case r == ')':
			out = append(out, lexeme{kind: lexRParen, text: ")", pos: i})
			i++
		case r == '"':
			end := strings.IndexByte(raw[i+1:], '"')
			if end < 0 {
				return nil, apperrors.InvalidQuery(i, "unterminated quote")
			}
			out = append(out, lexeme{kind: lexPhrase, text: raw[i+1 : i+1+end], pos: i})
			i += end + 2
		case r == '-':
			out = append(out, lexeme{kind: lexMinus, text: "-", pos: i})
			i++
		default:
			start := i
			for i < len(raw) {
				r, size := utf8.DecodeRuneInString(raw[i:])
				if unicode.IsSpace(r) || r == '(' || r == ')' || r == '"' {
					break
				}
				i += size
			}
			word := raw[start:i]
			out = append(out, lexeme{kind: keyword(word), text: word, pos: start})
		}
	}
	return append(out, lexeme{kind: lexEOF, pos: len(raw)}), nil
}

func keyword(word string) lexKind {
	switch strings.ToUpper(word) {
	case "AND":
		return lexAnd
	case "OR":
		return lexOr
	case "NOT":
		return lexNot
	default:
		return lexWord
	}
}
