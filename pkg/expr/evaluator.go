// Package expr implements a lightweight expression engine for admission rules.
//
// Expressions are small boolean or arithmetic programs authored by operators,
// e.g. "query.term_count <= 1000 && (filters == null || filters['cost'] < 50)".
// The engine supports comparison operators, logical combinators, member access
// on maps and opaque objects, argument-free method invocation, map indexing by
// string key, and null tests. Compilation and evaluation are separate steps so
// compiled expressions can be cached and evaluated concurrently.
package expr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrSyntax indicates the expression could not be parsed.
	ErrSyntax = errors.New("expression syntax error")
	// ErrUnknownIdentifier indicates a referenced variable is not available in scope.
	ErrUnknownIdentifier = errors.New("unknown identifier")
	// ErrUnknownMember indicates a member or method name could not be resolved
	// on the value it was invoked on.
	ErrUnknownMember = errors.New("unknown member")
	// ErrTypeMismatch indicates the expression attempted an unsupported type coercion.
	ErrTypeMismatch = errors.New("type mismatch")
)

// Object exposes named accessors for duck-typed member resolution. Both field
// access (obj.count) and argument-free method invocation (obj.getCount())
// resolve through Member; the second return reports whether the name resolved.
// Implementations must be safe for concurrent calls.
type Object interface {
	Member(name string) (any, bool)
}

// Compiled is the reusable compiled form of one expression's source text.
// It is immutable and safe for concurrent evaluation by multiple requests.
type Compiled struct {
	src  string
	root node
}

// Compile parses source text into a reusable Compiled expression.
func Compile(src string) (*Compiled, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}

	p := newParser(newLexer(trimmed))
	root, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokenEOF); err != nil {
		return nil, err
	}

	return &Compiled{src: src, root: root}, nil
}

// Source returns the original expression text.
func (c *Compiled) Source() string {
	return c.src
}

// Evaluate executes the expression against the supplied scope and returns the
// raw result value. Callers apply Truthy when a boolean gate result is needed.
func (c *Compiled) Evaluate(ctx context.Context, scope *Context) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if scope == nil {
		scope = NewContext(nil, nil, nil)
	}
	return c.root.Eval(ctx, scope)
}

// Truthy coerces an expression result to the boolean gate semantics:
// null is false, a boolean is itself, and any other value is compared
// case-insensitively against "true" after string conversion, so an
// unparseable value defaults to false. Operators author rules assuming
// exactly this coercion; do not change it.
func Truthy(value any) bool {
	if value == nil {
		return false
	}
	if b, ok := value.(bool); ok {
		return b
	}
	return strings.EqualFold(fmt.Sprint(value), "true")
}

// --- Lexer ---

type tokenType int

type token struct {
	typ     tokenType
	literal string
}

const (
	tokenIllegal tokenType = iota
	tokenEOF
	tokenIdentifier
	tokenNumber
	tokenString
	tokenBool
	tokenNull
	tokenAnd
	tokenOr
	tokenNot
	tokenEq
	tokenNeq
	tokenGt
	tokenGte
	tokenLt
	tokenLte
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenDot
	tokenMinus
	tokenPlus
)

func (t tokenType) String() string {
	switch t {
	case tokenIllegal:
		return "illegal"
	case tokenEOF:
		return "eof"
	case tokenIdentifier:
		return "identifier"
	case tokenNumber:
		return "number"
	case tokenString:
		return "string"
	case tokenBool:
		return "bool"
	case tokenNull:
		return "null"
	case tokenAnd:
		return "&&"
	case tokenOr:
		return "||"
	case tokenNot:
		return "!"
	case tokenEq:
		return "=="
	case tokenNeq:
		return "!="
	case tokenGt:
		return ">"
	case tokenGte:
		return ">="
	case tokenLt:
		return "<"
	case tokenLte:
		return "<="
	case tokenLParen:
		return "("
	case tokenRParen:
		return ")"
	case tokenLBracket:
		return "["
	case tokenRBracket:
		return "]"
	case tokenDot:
		return "."
	case tokenMinus:
		return "-"
	case tokenPlus:
		return "+"
	default:
		return "unknown"
	}
}

type lexer struct {
	input  string
	length int
	pos    int
}

func newLexer(input string) *lexer {
	return &lexer{input: input, length: len(input)}
}

func (l *lexer) nextToken() token {
	l.skipWhitespace()
	if l.pos >= l.length {
		return token{typ: tokenEOF}
	}

	ch := l.input[l.pos]

	switch ch {
	case '(':
		l.pos++
		return token{typ: tokenLParen, literal: "("}
	case ')':
		l.pos++
		return token{typ: tokenRParen, literal: ")"}
	case '[':
		l.pos++
		return token{typ: tokenLBracket, literal: "["}
	case ']':
		l.pos++
		return token{typ: tokenRBracket, literal: "]"}
	case '.':
		l.pos++
		return token{typ: tokenDot, literal: "."}
	case '!':
		if l.peek() == '=' {
			l.pos += 2
			return token{typ: tokenNeq, literal: "!="}
		}
		l.pos++
		return token{typ: tokenNot, literal: "!"}
	case '=':
		if l.peek() == '=' {
			l.pos += 2
			return token{typ: tokenEq, literal: "=="}
		}
	case '>':
		if l.peek() == '=' {
			l.pos += 2
			return token{typ: tokenGte, literal: ">="}
		}
		l.pos++
		return token{typ: tokenGt, literal: ">"}
	case '<':
		if l.peek() == '=' {
			l.pos += 2
			return token{typ: tokenLte, literal: "<="}
		}
		l.pos++
		return token{typ: tokenLt, literal: "<"}
	case '&':
		if l.peek() == '&' {
			l.pos += 2
			return token{typ: tokenAnd, literal: "&&"}
		}
	case '|':
		if l.peek() == '|' {
			l.pos += 2
			return token{typ: tokenOr, literal: "||"}
		}
	case '-':
		l.pos++
		return token{typ: tokenMinus, literal: "-"}
	case '+':
		l.pos++
		return token{typ: tokenPlus, literal: "+"}
	case '\'', '"':
		return l.scanString()
	}

	if isDigit(ch) {
		return l.scanNumber()
	}

	if isIdentifierStart(ch) {
		return l.scanIdentifier()
	}

	return token{typ: tokenIllegal, literal: string(ch)}
}

func (l *lexer) skipWhitespace() {
	for l.pos < l.length {
		switch l.input[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *lexer) peek() byte {
	if l.pos+1 >= l.length {
		return 0
	}
	return l.input[l.pos+1]
}

func (l *lexer) advance() byte {
	if l.pos >= l.length {
		return 0
	}
	ch := l.input[l.pos]
	l.pos++
	return ch
}

func (l *lexer) scanNumber() token {
	start := l.pos
	hasDot := false

	for l.pos < l.length {
		ch := l.input[l.pos]
		if ch == '.' {
			// A digit must follow for the dot to belong to the number;
			// otherwise it is member access on a numeric literal.
			if hasDot || l.pos+1 >= l.length || !isDigit(l.input[l.pos+1]) {
				break
			}
			hasDot = true
			l.pos++
			continue
		}
		if !isDigit(ch) {
			break
		}
		l.pos++
	}

	return token{typ: tokenNumber, literal: l.input[start:l.pos]}
}

func (l *lexer) scanIdentifier() token {
	start := l.pos
	for l.pos < l.length {
		if isIdentifierPart(l.input[l.pos]) {
			l.pos++
			continue
		}
		break
	}
	literal := l.input[start:l.pos]
	switch strings.ToLower(literal) {
	case "true", "false":
		return token{typ: tokenBool, literal: literal}
	case "null":
		return token{typ: tokenNull, literal: literal}
	}
	return token{typ: tokenIdentifier, literal: literal}
}

func (l *lexer) scanString() token {
	quote := l.advance()
	var builder strings.Builder
	escaped := false

	for l.pos < l.length {
		ch := l.advance()
		if escaped {
			switch ch {
			case 'n':
				builder.WriteByte('\n')
			case 't':
				builder.WriteByte('\t')
			case 'r':
				builder.WriteByte('\r')
			default:
				builder.WriteByte(ch)
			}
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == quote {
			return token{typ: tokenString, literal: builder.String()}
		}
		builder.WriteByte(ch)
	}

	return token{typ: tokenIllegal, literal: "unterminated string"}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentifierStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '$'
}

func isIdentifierPart(ch byte) bool {
	return isIdentifierStart(ch) || isDigit(ch)
}

// --- Parser ---

type parser struct {
	lex  *lexer
	cur  token
	peek token
}

func newParser(lex *lexer) *parser {
	p := &parser{lex: lex}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *parser) nextToken() {
	p.cur = p.peek
	p.peek = p.lex.nextToken()
}

func (p *parser) parseExpression() (node, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.cur.typ == tokenOr {
		op := p.cur.typ
		p.nextToken()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	for p.cur.typ == tokenAnd {
		op := p.cur.typ
		p.nextToken()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		switch p.cur.typ {
		case tokenEq, tokenNeq, tokenGt, tokenGte, tokenLt, tokenLte:
			op := p.cur.typ
			p.nextToken()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &binaryExpr{op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (node, error) {
	switch p.cur.typ {
	case tokenNot, tokenMinus, tokenPlus:
		op := p.cur.typ
		p.nextToken()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: op, operand: operand}, nil
	}
	return p.parsePostfix()
}

// parsePostfix handles member access, argument-free method invocation, and
// map indexing chained onto a primary expression.
func (p *parser) parsePostfix() (node, error) {
	target, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch p.cur.typ {
		case tokenDot:
			p.nextToken()
			if p.cur.typ != tokenIdentifier {
				return nil, fmt.Errorf("%w: expected member name after '.', got %s", ErrSyntax, p.cur.typ)
			}
			name := p.cur.literal
			p.nextToken()
			call := false
			if p.cur.typ == tokenLParen {
				p.nextToken()
				if p.cur.typ != tokenRParen {
					return nil, fmt.Errorf("%w: method %q takes no arguments", ErrSyntax, name)
				}
				p.nextToken()
				call = true
			}
			target = &memberExpr{target: target, name: name, call: call}
		case tokenLBracket:
			p.nextToken()
			key, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokenRBracket); err != nil {
				return nil, err
			}
			p.nextToken()
			target = &indexExpr{target: target, key: key}
		default:
			return target, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.cur
	switch tok.typ {
	case tokenIdentifier:
		p.nextToken()
		return &identifierExpr{name: tok.literal}, nil
	case tokenNumber:
		p.nextToken()
		value, err := strconv.ParseFloat(tok.literal, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid number %q", ErrSyntax, tok.literal)
		}
		return &literalExpr{value: value}, nil
	case tokenString:
		p.nextToken()
		return &literalExpr{value: tok.literal}, nil
	case tokenBool:
		p.nextToken()
		return &literalExpr{value: strings.EqualFold(tok.literal, "true")}, nil
	case tokenNull:
		p.nextToken()
		return &literalExpr{value: nil}, nil
	case tokenLParen:
		p.nextToken()
		exprNode, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokenRParen); err != nil {
			return nil, err
		}
		p.nextToken()
		return exprNode, nil
	default:
		return nil, fmt.Errorf("%w: unexpected token %q", ErrSyntax, tok.literal)
	}
}

func (p *parser) expect(expected tokenType) error {
	if p.cur.typ == tokenIllegal {
		return fmt.Errorf("%w: %s", ErrSyntax, p.cur.literal)
	}
	if p.cur.typ != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrSyntax, expected.String(), p.cur.typ.String())
	}
	return nil
}

// --- AST Nodes ---

type node interface {
	Eval(ctx context.Context, scope *Context) (any, error)
}

type binaryExpr struct {
	op    tokenType
	left  node
	right node
}

type unaryExpr struct {
	op      tokenType
	operand node
}

type identifierExpr struct {
	name string
}

type literalExpr struct {
	value any
}

type memberExpr struct {
	target node
	name   string
	call   bool
}

type indexExpr struct {
	target node
	key    node
}

func (n *binaryExpr) Eval(ctx context.Context, scope *Context) (any, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	leftVal, err := n.left.Eval(ctx, scope)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokenAnd:
		leftBool, err := toBool(leftVal)
		if err != nil {
			return nil, err
		}
		if !leftBool {
			return false, nil
		}
		rightVal, err := n.right.Eval(ctx, scope)
		if err != nil {
			return nil, err
		}
		return toBoolValue(rightVal)
	case tokenOr:
		leftBool, err := toBool(leftVal)
		if err != nil {
			return nil, err
		}
		if leftBool {
			return true, nil
		}
		rightVal, err := n.right.Eval(ctx, scope)
		if err != nil {
			return nil, err
		}
		return toBoolValue(rightVal)
	}

	rightVal, err := n.right.Eval(ctx, scope)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokenEq:
		return equals(leftVal, rightVal)
	case tokenNeq:
		eq, err := equals(leftVal, rightVal)
		if err != nil {
			return nil, err
		}
		return !eq, nil
	case tokenGt, tokenGte, tokenLt, tokenLte:
		return compare(leftVal, rightVal, n.op)
	default:
		return nil, fmt.Errorf("%w: unsupported binary operator", ErrSyntax)
	}
}

func (n *unaryExpr) Eval(ctx context.Context, scope *Context) (any, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	value, err := n.operand.Eval(ctx, scope)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokenNot:
		boolVal, err := toBool(value)
		if err != nil {
			return nil, err
		}
		return !boolVal, nil
	case tokenMinus:
		number, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("%w: unary - expects numeric operand", ErrTypeMismatch)
		}
		return -number, nil
	case tokenPlus:
		number, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("%w: unary + expects numeric operand", ErrTypeMismatch)
		}
		return number, nil
	default:
		return nil, fmt.Errorf("%w: unsupported unary operator", ErrSyntax)
	}
}

func (n *identifierExpr) Eval(ctx context.Context, scope *Context) (any, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if value, ok := scope.Resolve(n.name); ok {
		return value, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownIdentifier, n.name)
}

func (n *literalExpr) Eval(ctx context.Context, _ *Context) (any, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	return n.value, nil
}

func (n *memberExpr) Eval(ctx context.Context, scope *Context) (any, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	target, err := n.target.Eval(ctx, scope)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("%w: cannot access %q on null", ErrTypeMismatch, n.name)
	}

	switch t := target.(type) {
	case Object:
		value, ok := t.Member(n.name)
		if !ok {
			return nil, fmt.Errorf("%w: %q on %T", ErrUnknownMember, n.name, target)
		}
		return value, nil
	case map[string]any:
		if n.call {
			// Maps hold data, not behaviour; method syntax needs an Object.
			return nil, fmt.Errorf("%w: no method %q on map", ErrUnknownMember, n.name)
		}
		return t[n.name], nil
	default:
		return nil, fmt.Errorf("%w: %q on %T", ErrUnknownMember, n.name, target)
	}
}

func (n *indexExpr) Eval(ctx context.Context, scope *Context) (any, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	target, err := n.target.Eval(ctx, scope)
	if err != nil {
		return nil, err
	}
	key, err := n.key.Eval(ctx, scope)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("%w: cannot index null", ErrTypeMismatch)
	}

	keyStr, ok := key.(string)
	if !ok {
		return nil, fmt.Errorf("%w: index key must be a string, got %T", ErrTypeMismatch, key)
	}

	m, ok := target.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: cannot index %T", ErrTypeMismatch, target)
	}
	return m[keyStr], nil
}

// --- Helpers ---

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	default:
		return false, fmt.Errorf("%w: expected boolean, got %T", ErrTypeMismatch, value)
	}
}

func toBoolValue(value any) (any, error) {
	b, err := toBool(value)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func equals(left, right any) (bool, error) {
	if left == nil || right == nil {
		return left == nil && right == nil, nil
	}

	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return lf == rf, nil
		}
	}

	switch l := left.(type) {
	case string:
		if r, ok := right.(string); ok {
			return l == r, nil
		}
	case bool:
		if r, ok := right.(bool); ok {
			return l == r, nil
		}
	}

	return false, fmt.Errorf("%w: cannot compare %T and %T", ErrTypeMismatch, left, right)
}

func compare(left, right any, op tokenType) (bool, error) {
	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			switch op {
			case tokenGt:
				return lf > rf, nil
			case tokenGte:
				return lf >= rf, nil
			case tokenLt:
				return lf < rf, nil
			case tokenLte:
				return lf <= rf, nil
			}
		}
	}

	ls, leftIsString := left.(string)
	rs, rightIsString := right.(string)
	if leftIsString && rightIsString {
		switch op {
		case tokenGt:
			return ls > rs, nil
		case tokenGte:
			return ls >= rs, nil
		case tokenLt:
			return ls < rs, nil
		case tokenLte:
			return ls <= rs, nil
		}
	}

	return false, fmt.Errorf("%w: cannot apply comparator to %T and %T", ErrTypeMismatch, left, right)
}
