// Package expr is a minimal, explicitly-scoped condition evaluator
// for workflow expressions. It supports boolean, comparison and
// arithmetic operators over declared variables only; there is no
// attribute or method access beyond dot-path traversal of plain maps,
// and no way to reach anything outside the supplied variable scope.
package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Evaluate evaluates an expression against the given variables and
// returns its boolean value.
//
// Operators, loosest binding first: ||, &&, comparisons
// (== != > < >= <=), + -, * / %, unary ! and -. Literals: numbers,
// double-quoted strings, true, false. Identifiers resolve from vars;
// "a.b" traverses vars["a"].(map[string]any)["b"]. Unknown variables
// resolve to nil.
func Evaluate(expression string, vars map[string]any) (bool, error) {
	v, err := EvaluateValue(expression, vars)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// EvaluateValue evaluates an expression and returns its raw value.
func EvaluateValue(expression string, vars map[string]any) (any, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, nil
	}

	tokens, err := tokenize(expression)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	p := &parser{tokens: tokens, vars: vars}
	val, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.tokens[p.pos].value, p.pos)
	}
	return val, nil
}

type tokenKind int

const (
	tkNumber tokenKind = iota // 42, 0.8, -3.14
	tkString                  // "hello"
	tkIdent                   // variable name or true/false
	tkOp                      // operators
	tkLParen
	tkRParen
)

type token struct {
	kind  tokenKind
	value string
}

func tokenize(expression string) ([]token, error) {
	var tokens []token
	runes := []rune(expression)
	i := 0

	for i < len(runes) {
		ch := runes[i]

		if unicode.IsSpace(ch) {
			i++
			continue
		}

		if ch == '(' {
			tokens = append(tokens, token{tkLParen, "("})
			i++
			continue
		}
		if ch == ')' {
			tokens = append(tokens, token{tkRParen, ")"})
			i++
			continue
		}

		if ch == '"' {
			s, n, err := readString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tkString, s})
			i = n
			continue
		}

		if i+1 < len(runes) {
			two := string(runes[i : i+2])
			switch two {
			case "==", "!=", ">=", "<=", "&&", "||":
				tokens = append(tokens, token{tkOp, two})
				i += 2
				continue
			}
		}

		switch ch {
		case '>', '<', '!', '+', '-', '*', '/', '%':
			tokens = append(tokens, token{tkOp, string(ch)})
			i++
			continue
		}

		if isDigit(ch) {
			num, n := readNumber(runes, i)
			tokens = append(tokens, token{tkNumber, num})
			i = n
			continue
		}

		if isIdentStart(ch) {
			ident, n := readIdent(runes, i)
			tokens = append(tokens, token{tkIdent, ident})
			i = n
			continue
		}

		return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
	}

	return tokens, nil
}

func readString(runes []rune, start int) (string, int, error) {
	i := start + 1
	var sb strings.Builder
	for i < len(runes) {
		if runes[i] == '\\' && i+1 < len(runes) {
			sb.WriteRune(runes[i+1])
			i += 2
			continue
		}
		if runes[i] == '"' {
			return sb.String(), i + 1, nil
		}
		sb.WriteRune(runes[i])
		i++
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func readNumber(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isDigit(runes[i]) {
		i++
	}
	if i < len(runes) && runes[i] == '.' {
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	return string(runes[start:i]), i
}

func readIdent(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isIdentPart(runes[i]) {
		i++
	}
	return string(runes[start:i]), i
}

func isDigit(ch rune) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch rune) bool { return unicode.IsLetter(ch) || ch == '_' }
func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.'
}

type parser struct {
	tokens []token
	pos    int
	vars   map[string]any
}

func (p *parser) peek() *token {
	if p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) peekOp(ops ...string) (string, bool) {
	t := p.peek()
	if t == nil || t.kind != tkOp {
		return "", false
	}
	for _, op := range ops {
		if t.value == op {
			return op, true
		}
	}
	return "", false
}

// parseOr handles: expr || expr
func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("||"); !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
}

// parseAnd handles: expr && expr
func (p *parser) parseAnd() (any, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("&&"); !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
}

// parseComparison handles: expr (==|!=|>|<|>=|<=) expr
func (p *parser) parseComparison() (any, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	op, ok := p.peekOp("==", "!=", ">", "<", ">=", "<=")
	if !ok {
		return left, nil
	}
	p.advance()
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return compare(left, op, right), nil
}

// parseAdditive handles: expr (+|-) expr
func (p *parser) parseAdditive() (any, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOp("+", "-")
		if !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left, err = arith(left, op, right)
		if err != nil {
			return nil, err
		}
	}
}

// parseMultiplicative handles: expr (*|/|%) expr
func (p *parser) parseMultiplicative() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left, err = arith(left, op, right)
		if err != nil {
			return nil, err
		}
	}
}

// parseUnary handles: !expr, -expr, primary
func (p *parser) parseUnary() (any, error) {
	if _, ok := p.peekOp("!"); ok {
		p.advance()
		val, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return !truthy(val), nil
	}
	if _, ok := p.peekOp("-"); ok {
		p.advance()
		val, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		f, ok := toFloat(val)
		if !ok {
			return nil, fmt.Errorf("cannot negate %v", val)
		}
		return -f, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (any, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch t.kind {
	case tkNumber:
		p.advance()
		return strconv.ParseFloat(t.value, 64)

	case tkString:
		p.advance()
		return t.value, nil

	case tkIdent:
		p.advance()
		switch t.value {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return resolve(t.value, p.vars), nil
		}

	case tkLParen:
		p.advance()
		val, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek() == nil || p.peek().kind != tkRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}
		p.advance()
		return val, nil

	default:
		return nil, fmt.Errorf("unexpected token %q", t.value)
	}
}

// resolve walks a dot-notation path through plain maps. Any segment
// that is not a map[string]any, or any missing key, yields nil.
func resolve(path string, vars map[string]any) any {
	parts := strings.Split(path, ".")
	var current any = vars
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

// arith applies a numeric operator. "+" additionally concatenates
// when either operand is a string.
func arith(left any, op string, right any) (any, error) {
	if op == "+" {
		if ls, ok := left.(string); ok {
			return ls + stringify(right), nil
		}
		if rs, ok := right.(string); ok {
			return stringify(left) + rs, nil
		}
	}
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, fmt.Errorf("non-numeric operand for %q", op)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return float64(int64(lf) % int64(rf)), nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

// compare evaluates a comparison. nil equals only nil and orders
// below every non-nil value; numeric comparison is tried first, then
// string comparison.
func compare(left any, op string, right any) bool {
	if left == nil && right == nil {
		return op == "==" || op == ">=" || op == "<="
	}
	if left == nil || right == nil {
		switch op {
		case "!=":
			return true
		case "==":
			return false
		}
		if left == nil {
			return op == "<" || op == "<="
		}
		return op == ">" || op == ">="
	}

	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		case ">":
			return lf > rf
		case "<":
			return lf < rf
		case ">=":
			return lf >= rf
		case "<=":
			return lf <= rf
		}
	}

	ls, rs := stringify(left), stringify(right)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case ">":
		return ls > rs
	case "<":
		return ls < rs
	case ">=":
		return ls >= rs
	case "<=":
		return ls <= rs
	}
	return false
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case string:
		return val != "" && val != "false" && val != "0"
	default:
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}
