// Package expr implements a small arithmetic expression language used for
// formula metrics: + - * /, unary minus, parentheses, float literals,
// identifiers, and the constants pi and e. No function calls.
//
// Parsed expressions are immutable and safe for concurrent evaluation with
// different scopes.
package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Constants are the predeclared names available in every scope. They shadow
// nothing: a scope entry with the same name is ignored.
var Constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

// EvalError describes a parse or evaluation failure, with the byte offset of
// the offending token where known.
type EvalError struct {
	Expr   string
	Pos    int
	Reason string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("expr: %s at position %d in %q", e.Reason, e.Pos, e.Expr)
}

// Expr is a parsed expression ready for evaluation.
type Expr struct {
	src  string
	root node
	vars []string
}

// String returns the original source of the expression.
func (e *Expr) String() string { return e.src }

// Vars returns the free variables referenced by the expression, deduplicated,
// in first-appearance order. Constants (pi, e) are excluded.
func (e *Expr) Vars() []string {
	out := make([]string, len(e.vars))
	copy(out, e.vars)
	return out
}

// Eval evaluates the expression against scope. It fails if the expression
// references a name absent from the scope, divides by zero, or produces a
// non-finite result.
func (e *Expr) Eval(scope map[string]float64) (float64, error) {
	v, err := e.root.eval(e, scope)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &EvalError{Expr: e.src, Pos: 0, Reason: "non-finite result"}
	}
	return v, nil
}

// Parse parses src into an Expr. The grammar is standard arithmetic with
// usual precedence: unary minus binds tighter than * and /, which bind
// tighter than + and -.
func Parse(src string) (*Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &EvalError{Expr: src, Pos: 0, Reason: "empty expression"}
	}
	p := &parser{src: src}
	p.next()
	root, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, &EvalError{Expr: src, Pos: p.tok.pos, Reason: fmt.Sprintf("unexpected %q", p.tok.text)}
	}

	e := &Expr{src: src, root: root}
	seen := map[string]bool{}
	collectVars(root, seen, &e.vars)
	return e, nil
}

// node is one AST node.
type node interface {
	eval(e *Expr, scope map[string]float64) (float64, error)
}

type numNode struct {
	val float64
}

func (n numNode) eval(*Expr, map[string]float64) (float64, error) { return n.val, nil }

type varNode struct {
	name string
	pos  int
}

func (n varNode) eval(e *Expr, scope map[string]float64) (float64, error) {
	if v, ok := Constants[n.name]; ok {
		return v, nil
	}
	v, ok := scope[n.name]
	if !ok {
		return 0, &EvalError{Expr: e.src, Pos: n.pos, Reason: fmt.Sprintf("unknown variable %q", n.name)}
	}
	return v, nil
}

type unaryNode struct {
	child node
}

func (n unaryNode) eval(e *Expr, scope map[string]float64) (float64, error) {
	v, err := n.child.eval(e, scope)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

type binNode struct {
	op          byte // one of + - * /
	pos         int
	left, right node
}

func (n binNode) eval(e *Expr, scope map[string]float64) (float64, error) {
	l, err := n.left.eval(e, scope)
	if err != nil {
		return 0, err
	}
	r, err := n.right.eval(e, scope)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	default:
		if r == 0 {
			return 0, &EvalError{Expr: e.src, Pos: n.pos, Reason: "division by zero"}
		}
		return l / r, nil
	}
}

func collectVars(n node, seen map[string]bool, out *[]string) {
	switch t := n.(type) {
	case varNode:
		if _, isConst := Constants[t.name]; isConst {
			return
		}
		if !seen[t.name] {
			seen[t.name] = true
			*out = append(*out, t.name)
		}
	case unaryNode:
		collectVars(t.child, seen, out)
	case binNode:
		collectVars(t.left, seen, out)
		collectVars(t.right, seen, out)
	}
}

// --- lexer/parser ---

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokIdent
	tokOp    // + - * /
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
	pos  int
	val  float64
}

type parser struct {
	src string
	off int
	tok token
}

func (p *parser) next() {
	for p.off < len(p.src) && (p.src[p.off] == ' ' || p.src[p.off] == '\t' || p.src[p.off] == '\n' || p.src[p.off] == '\r') {
		p.off++
	}
	start := p.off
	if p.off >= len(p.src) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}

	c := p.src[p.off]
	switch {
	case c == '(':
		p.off++
		p.tok = token{kind: tokLParen, text: "(", pos: start}
	case c == ')':
		p.off++
		p.tok = token{kind: tokRParen, text: ")", pos: start}
	case c == '+' || c == '-' || c == '*' || c == '/':
		p.off++
		p.tok = token{kind: tokOp, text: string(c), pos: start}
	case c >= '0' && c <= '9' || c == '.':
		for p.off < len(p.src) && (p.src[p.off] >= '0' && p.src[p.off] <= '9' || p.src[p.off] == '.') {
			p.off++
		}
		text := p.src[start:p.off]
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.tok = token{kind: tokNum, text: text, pos: start, val: math.NaN()}
			return
		}
		p.tok = token{kind: tokNum, text: text, pos: start, val: v}
	case isIdentStart(rune(c)):
		for p.off < len(p.src) && isIdentPart(rune(p.src[p.off])) {
			p.off++
		}
		p.tok = token{kind: tokIdent, text: p.src[start:p.off], pos: start}
	default:
		// Unknown byte: surface it as a one-char token the parser will reject.
		p.off++
		p.tok = token{kind: tokOp, text: string(c), pos: start}
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// parseSum handles + and -.
func (p *parser) parseSum() (node, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "+" || p.tok.text == "-") {
		op := p.tok.text[0]
		pos := p.tok.pos
		p.next()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = binNode{op: op, pos: pos, left: left, right: right}
	}
	return left, nil
}

// parseProduct handles * and /.
func (p *parser) parseProduct() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "*" || p.tok.text == "/") {
		op := p.tok.text[0]
		pos := p.tok.pos
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binNode{op: op, pos: pos, left: left, right: right}
	}
	return left, nil
}

// parseUnary handles leading minus (and a redundant leading plus).
func (p *parser) parseUnary() (node, error) {
	if p.tok.kind == tokOp && p.tok.text == "-" {
		p.next()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{child: child}, nil
	}
	if p.tok.kind == tokOp && p.tok.text == "+" {
		p.next()
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	switch p.tok.kind {
	case tokNum:
		if math.IsNaN(p.tok.val) {
			return nil, &EvalError{Expr: p.src, Pos: p.tok.pos, Reason: fmt.Sprintf("malformed number %q", p.tok.text)}
		}
		n := numNode{val: p.tok.val}
		p.next()
		return n, nil
	case tokIdent:
		n := varNode{name: p.tok.text, pos: p.tok.pos}
		p.next()
		return n, nil
	case tokLParen:
		p.next()
		inner, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, &EvalError{Expr: p.src, Pos: p.tok.pos, Reason: "missing closing parenthesis"}
		}
		p.next()
		return inner, nil
	case tokEOF:
		return nil, &EvalError{Expr: p.src, Pos: p.tok.pos, Reason: "unexpected end of expression"}
	default:
		return nil, &EvalError{Expr: p.src, Pos: p.tok.pos, Reason: fmt.Sprintf("unexpected %q", p.tok.text)}
	}
}
