// Package parser turns a query string into a boolean expression tree over
// analysed terms.
//
//	or      := and ("OR" and)*
//	and     := unary (["AND"] unary)*
//	unary   := ("NOT" | "-") unary | primary
//	primary := "(" or ")" | '"' words '"' | word
//
// Operators are case-insensitive. Words run through the same tokenizer as
// ingestion; a word that analyses to several tokens becomes a phrase and a
// word that analyses to none is dropped.
package parser

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/notes-search/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/errors"
)

// Node is an expression tree node.
type Node interface {
	String() string
}

type Term struct {
	Term string
}

// Phrase matches documents containing Terms at consecutive positions.
type Phrase struct {
	Terms []string
}

type And struct {
	Children []Node
}

type Or struct {
	Children []Node
}

type Not struct {
	Child Node
}

func (t *Term) String() string   { return t.Term }
func (p *Phrase) String() string { return `"` + strings.Join(p.Terms, " ") + `"` }
func (a *And) String() string    { return "(" + join(a.Children, " AND ") + ")" }
func (o *Or) String() string     { return "(" + join(o.Children, " OR ") + ")" }
func (n *Not) String() string    { return "NOT " + n.Child.String() }

func join(nodes []Node, sep string) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, sep)
}

// Query is a parsed query. Root is nil when nothing searchable remains.
type Query struct {
	Raw  string
	Root Node
}

// Empty reports whether the query can match nothing by construction.
func (q *Query) Empty() bool {
	return q.Root == nil
}

// Canonical renders the analysed tree; equivalent spellings of a query share
// it.
func (q *Query) Canonical() string {
	if q.Root == nil {
		return ""
	}
	return q.Root.String()
}

// PositiveTerms lists the distinct terms that contribute to scoring: those
// not under a NOT.
func (q *Query) PositiveTerms() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(term string) {
		if _, ok := seen[term]; !ok {
			seen[term] = struct{}{}
			out = append(out, term)
		}
	}
	var walk func(Node)
	walk = func(n Node) {
		switch n := n.(type) {
		case *Term:
			add(n.Term)
		case *Phrase:
			for _, t := range n.Terms {
				add(t)
			}
		case *And:
			for _, c := range n.Children {
				walk(c)
			}
		case *Or:
			for _, c := range n.Children {
				walk(c)
			}
		}
	}
	if q.Root != nil {
		walk(q.Root)
	}
	return out
}

// Parser analyses query words with a tokenizer shared with ingestion.
type Parser struct {
	tok *tokenizer.Tokenizer
}

func New(tok *tokenizer.Tokenizer) *Parser {
	return &Parser{tok: tok}
}

// Parse parses raw with default analysis options.
func Parse(raw string) (*Query, error) {
	return New(tokenizer.New(tokenizer.Options{})).Parse(raw)
}

// Parse returns ErrInvalidQuery (as an *AppError carrying the byte offset)
// for syntax errors. A blank query parses to an empty Query.
func (p *Parser) Parse(raw string) (*Query, error) {
	lexemes, err := lex(raw)
	if err != nil {
		return nil, err
	}
	st := &state{p: p, lexemes: lexemes}
	q := &Query{Raw: raw}
	if st.peek().kind == lexEOF {
		return q, nil
	}
	root, err := st.parseOr()
	if err != nil {
		return nil, err
	}
	if l := st.peek(); l.kind != lexEOF {
		if l.kind == lexRParen {
			return nil, apperrors.InvalidQuery(l.pos, "unbalanced ')'")
		}
		return nil, apperrors.InvalidQuery(l.pos, "unexpected %q", l.text)
	}
	q.Root = root
	return q, nil
}

type state struct {
	p       *Parser
	lexemes []lexeme
	i       int
}

func (s *state) peek() lexeme {
	return s.lexemes[s.i]
}

func (s *state) next() lexeme {
	l := s.lexemes[s.i]
	if l.kind != lexEOF {
		s.i++
	}
	return l
}

func (s *state) parseOr() (Node, error) {
	first, err := s.parseAnd()
	if err != nil {
		return nil, err
	}
	children := appendNode(nil, first)
	for s.peek().kind == lexOr {
		op := s.next()
		if !startsUnary(s.peek().kind) {
			return nil, apperrors.InvalidQuery(op.pos, "missing operand after OR")
		}
		right, err := s.parseAnd()
		if err != nil {
			return nil, err
		}
		children = appendNode(children, right)
	}
	return combine(children, func(c []Node) Node { return &Or{Children: c} }), nil
}

func (s *state) parseAnd() (Node, error) {
	if l := s.peek(); !startsUnary(l.kind) {
		return nil, s.missingOperand(l)
	}
	first, err := s.parseUnary()
	if err != nil {
		return nil, err
	}
	children := appendNode(nil, first)
	for {
		l := s.peek()
		if l.kind == lexAnd {
			s.next()
			if !startsUnary(s.peek().kind) {
				return nil, apperrors.InvalidQuery(l.pos, "missing operand after AND")
			}
		} else if !startsUnary(l.kind) {
			break
		}
		n, err := s.parseUnary()
		if err != nil {
			return nil, err
		}
		children = appendNode(children, n)
	}
	return combine(children, func(c []Node) Node { return &And{Children: c} }), nil
}

func (s *state) parseUnary() (Node, error) {
	l := s.peek()
	if l.kind == lexNot || l.kind == lexMinus {
		s.next()
		if !startsUnary(s.peek().kind) {
			return nil, apperrors.InvalidQuery(l.pos, "missing operand after %s", strings.ToUpper(l.text))
		}
		child, err := s.parseUnary()
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, nil
		}
		return &Not{Child: child}, nil
	}
	return s.parsePrimary()
}

func (s *state) parsePrimary() (Node, error) {
	l := s.next()
	switch l.kind {
	case lexLParen:
		if s.peek().kind == lexRParen {
			return nil, apperrors.InvalidQuery(l.pos, "empty parentheses")
		}
		inner, err := s.parseOr()
		if err != nil {
			return nil, err
		}
		if s.next().kind != lexRParen {
			return nil, apperrors.InvalidQuery(l.pos, "unbalanced '('")
		}
		return inner, nil
	case lexPhrase, lexWord:
		return s.p.analyze(l.text), nil
	default:
		return nil, s.missingOperand(l)
	}
}

func (s *state) missingOperand(l lexeme) error {
	switch l.kind {
	case lexEOF:
		return apperrors.InvalidQuery(l.pos, "unexpected end of query")
	case lexRParen:
		return apperrors.InvalidQuery(l.pos, "unbalanced ')'")
	default:
		return apperrors.InvalidQuery(l.pos, "missing operand before %s", strings.ToUpper(l.text))
	}
}

func (p *Parser) analyze(text string) Node {
	terms := p.tok.Terms(text)
	switch len(terms) {
	case 0:
		return nil
	case 1:
		return &Term{Term: terms[0]}
	default:
		return &Phrase{Terms: terms}
	}
}

func startsUnary(k lexKind) bool {
	switch k {
	case lexWord, lexPhrase, lexLParen, lexNot, lexMinus:
		return true
	}
	return false
}

func appendNode(nodes []Node, n Node) []Node {
	if n == nil {
		return nodes
	}
	return append(nodes, n)
}

func combine(children []Node, build func([]Node) Node) Node {
	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	default:
		return build(children)
	}
}
