// Package tokenizer provides text analysis for the search engine. It
// lower-cases input, splits on non-alphanumeric boundaries, optionally
// removes English stop-words, and applies the Snowball English stemmer.
// Ingestion and query parsing share it so both sides agree on term space.
package tokenizer

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

// Token represents a single normalised term and its position in the
// analysed text.
type Token struct {
	Term     string
	Position int
}

// Options configures a Tokenizer.
type Options struct {
	// StopWords drops common English words before stemming.
	StopWords bool
}

// Tokenizer turns text into stemmed terms.
type Tokenizer struct {
	opts Options
}

// New returns a Tokenizer with the given options.
func New(opts Options) *Tokenizer {
	return &Tokenizer{opts: opts}
}

var defaultTokenizer = New(Options{})

// Tokenize analyses text with the default options (stop-words kept).
func Tokenize(text string) []Token {
	return defaultTokenizer.Tokenize(text)
}

// Tokenize breaks text into a slice of stemmed, lowercased Tokens. Positions
// count emitted tokens only, so phrase adjacency survives stop-word removal
// of surrounding words.
func (t *Tokenizer) Tokenize(text string) []Token {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, word := range words {
		if t.opts.StopWords && english.IsStopWord(word) {
			continue
		}
		term := english.Stem(word, false)
		if term == "" {
			continue
		}
		tokens = append(tokens, Token{
			Term:     term,
			Position: pos,
		})
		pos++
	}
	return tokens
}

// Terms returns just the term strings of Tokenize(text).
func (t *Tokenizer) Terms(text string) []string {
	tokens := t.Tokenize(text)
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
	}
	return terms
}
