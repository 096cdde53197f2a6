package dynamotest

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokName
	tokValue
	tokPunct
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	isWord := func(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case strings.ContainsRune("(),+-=", r):
			toks = append(toks, token{tokPunct, string(r)})
			i++
		case r == '<':
			if i+1 < len(rs) && (rs[i+1] == '>' || rs[i+1] == '=') {
				toks = append(toks, token{tokPunct, string(rs[i : i+2])})
				i += 2
			} else {
				toks = append(toks, token{tokPunct, "<"})
				i++
			}
		case r == '>':
			if i+1 < len(rs) && rs[i+1] == '=' {
				toks = append(toks, token{tokPunct, ">="})
				i += 2
			} else {
				toks = append(toks, token{tokPunct, ">"})
				i++
			}
		case r == '#' || r == ':':
			j := i + 1
			for j < len(rs) && isWord(rs[j]) {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("empty placeholder at %d in %q", i, s)
			}
			kind := tokName
			if r == ':' {
				kind = tokValue
			}
			toks = append(toks, token{kind, string(rs[i:j])})
			i = j
		case isWord(r):
			j := i
			for j < len(rs) && isWord(rs[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, string(rs[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("unexpected %q at %d in %q", r, i, s)
		}
	}
	return toks, nil
}

// parser evaluates condition and update expressions against a single item.
type parser struct {
	toks   []token
	pos    int
	names  map[string]string
	values map[string]types.AttributeValue
	item   map[string]types.AttributeValue
}

func newParser(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (*parser, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	return &parser{toks: toks, names: names, values: values, item: item}, nil
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (token, error) {
	t, ok := p.peek()
	if !ok {
		return token{}, fmt.Errorf("unexpected end of expression")
	}
	p.pos++
	return t, nil
}

func (p *parser) expect(text string) error {
	t, err := p.next()
	if err != nil {
		return err
	}
	if t.text != text {
		return fmt.Errorf("expected %q, got %q", text, t.text)
	}
	return nil
}

func (p *parser) keyword(word string) bool {
	t, ok := p.peek()
	if ok && t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) punct(text string) bool {
	t, ok := p.peek()
	if ok && t.kind == tokPunct && t.text == text {
		p.pos++
		return true
	}
	return false
}

// evalCondition evaluates a full condition expression.
func evalCondition(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	p, err := newParser(expr, names, values, item)
	if err != nil {
		return false, err
	}
	ok, err := p.parseOr()
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", expr, err)
	}
	if p.pos != len(p.toks) {
		return false, fmt.Errorf("condition %q: trailing tokens", expr)
	}
	return ok, nil
}

func (p *parser) parseOr() (bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for p.keyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *parser) parseAnd() (bool, error) {
	left, err := p.parseNot()
	if err != nil {
		return false, err
	}
	for p.keyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *parser) parseNot() (bool, error) {
	if p.keyword("NOT") {
		v, err := p.parseNot()
		return !v, err
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (bool, error) {
	if p.punct("(") {
		v, err := p.parseOr()
		if err != nil {
			return false, err
		}
		return v, p.expect(")")
	}

	t, ok := p.peek()
	if !ok {
		return false, fmt.Errorf("unexpected end of expression")
	}
	if t.kind == tokIdent {
		switch strings.ToLower(t.text) {
		case "attribute_exists", "attribute_not_exists":
			p.pos++
			if err := p.expect("("); err != nil {
				return false, err
			}
			name, err := p.path()
			if err != nil {
				return false, err
			}
			if err := p.expect(")"); err != nil {
				return false, err
			}
			_, present := p.item[name]
			if strings.EqualFold(t.text, "attribute_exists") {
				return present, nil
			}
			return !present, nil
		case "begins_with":
			p.pos++
			if err := p.expect("("); err != nil {
				return false, err
			}
			a, err := p.operand()
			if err != nil {
				return false, err
			}
			if err := p.expect(","); err != nil {
				return false, err
			}
			b, err := p.operand()
			if err != nil {
				return false, err
			}
			if err := p.expect(")"); err != nil {
				return false, err
			}
			as, aok := a.(*types.AttributeValueMemberS)
			bs, bok := b.(*types.AttributeValueMemberS)
			return aok && bok && strings.HasPrefix(as.Value, bs.Value), nil
		}
	}

	left, err := p.operand()
	if err != nil {
		return false, err
	}
	if p.keyword("IN") {
		if err := p.expect("("); err != nil {
			return false, err
		}
		found := false
		for {
			v, err := p.operand()
			if err != nil {
				return false, err
			}
			if eq, _ := compare(left, v, "="); eq {
				found = true
			}
			if p.punct(",") {
				continue
			}
			break
		}
		return found, p.expect(")")
	}

	op, err := p.next()
	if err != nil {
		return false, err
	}
	switch op.text {
	case "=", "<>", "<", "<=", ">", ">=":
	default:
		return false, fmt.Errorf("unsupported comparator %q", op.text)
	}
	right, err := p.operand()
	if err != nil {
		return false, err
	}
	return compare(left, right, op.text)
}

// path resolves an attribute name token.
func (p *parser) path() (string, error) {
	t, err := p.next()
	if err != nil {
		return "", err
	}
	switch t.kind {
	case tokIdent:
		return t.text, nil
	case tokName:
		n, ok := p.names[t.text]
		if !ok {
			return "", fmt.Errorf("undefined attribute name %s", t.text)
		}
		return n, nil
	default:
		return "", fmt.Errorf("expected attribute path, got %q", t.text)
	}
}

// operand returns nil for a missing attribute.
func (p *parser) operand() (types.AttributeValue, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	if t.kind == tokValue {
		p.pos++
		v, ok := p.values[t.text]
		if !ok {
			return nil, fmt.Errorf("undefined attribute value %s", t.text)
		}
		return v, nil
	}
	name, err := p.path()
	if err != nil {
		return nil, err
	}
	return p.item[name], nil
}

// updateOperand supports if_not_exists and list_append on top of operand.
func (p *parser) updateOperand() (types.AttributeValue, error) {
	t, ok := p.peek()
	if ok && t.kind == tokIdent {
		switch strings.ToLower(t.text) {
		case "if_not_exists":
			p.pos++
			if err := p.expect("("); err != nil {
				return nil, err
			}
			name, err := p.path()
			if err != nil {
				return nil, err
			}
			if err := p.expect(","); err != nil {
				return nil, err
			}
			fallback, err := p.updateOperand()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			if v, ok := p.item[name]; ok {
				return v, nil
			}
			return fallback, nil
		case "list_append":
			p.pos++
			if err := p.expect("("); err != nil {
				return nil, err
			}
			a, err := p.updateOperand()
			if err != nil {
				return nil, err
			}
			if err := p.expect(","); err != nil {
				return nil, err
			}
			b, err := p.updateOperand()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			la, aok := a.(*types.AttributeValueMemberL)
			lb, bok := b.(*types.AttributeValueMemberL)
			if !aok || !bok {
				return nil, fmt.Errorf("list_append on non-list")
			}
			out := append(append([]types.AttributeValue{}, la.Value...), lb.Value...)
			return &types.AttributeValueMemberL{Value: out}, nil
		}
	}
	v, err := p.operand()
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("update operand refers to a missing attribute")
	}
	return v, nil
}

func (p *parser) updateValue() (types.AttributeValue, error) {
	left, err := p.updateOperand()
	if err != nil {
		return nil, err
	}
	for {
		var sign string
		switch {
		case p.punct("+"):
			sign = "+"
		case p.punct("-"):
			sign = "-"
		default:
			return left, nil
		}
		right, err := p.updateOperand()
		if err != nil {
			return nil, err
		}
		left, err = arith(left, right, sign)
		if err != nil {
			return nil, err
		}
	}
}

// applyUpdate evaluates every action against the original item and returns the
// resulting item.
func applyUpdate(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	p, err := newParser(expr, names, values, item)
	if err != nil {
		return nil, err
	}
	sets := map[string]types.AttributeValue{}
	var removes []string

	for p.pos < len(p.toks) {
		switch {
		case p.keyword("SET"):
			for {
				name, err := p.path()
				if err != nil {
					return nil, err
				}
				if err := p.expect("="); err != nil {
					return nil, err
				}
				v, err := p.updateValue()
				if err != nil {
					return nil, fmt.Errorf("update %q: %w", expr, err)
				}
				sets[name] = v
				if !p.punct(",") {
					break
				}
			}
		case p.keyword("REMOVE"):
			for {
				name, err := p.path()
				if err != nil {
					return nil, err
				}
				removes = append(removes, name)
				if !p.punct(",") {
					break
				}
			}
		default:
			t, _ := p.peek()
			return nil, fmt.Errorf("update %q: unsupported clause at %q", expr, t.text)
		}
	}

	out := cloneItem(item)
	for k, v := range sets {
		out[k] = cloneAV(v)
	}
	for _, k := range removes {
		delete(out, k)
	}
	return out, nil
}

func compare(a, b types.AttributeValue, op string) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return op == "<>", nil
		}
		x, err := decimal.NewFromString(av.Value)
		if err != nil {
			return false, err
		}
		y, err := decimal.NewFromString(bv.Value)
		if err != nil {
			return false, err
		}
		return ordered(x.Cmp(y), op), nil
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return op == "<>", nil
		}
		return ordered(strings.Compare(av.Value, bv.Value), op), nil
	default:
		eq := reflect.DeepEqual(a, b)
		switch op {
		case "=":
			return eq, nil
		case "<>":
			return !eq, nil
		default:
			return false, fmt.Errorf("comparator %s unsupported for %T", op, a)
		}
	}
}

func ordered(c int, op string) bool {
	switch op {
	case "=":
		return c == 0
	case "<>":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func arith(a, b types.AttributeValue, sign string) (types.AttributeValue, error) {
	an, aok := a.(*types.AttributeValueMemberN)
	bn, bok := b.(*types.AttributeValueMemberN)
	if !aok || !bok {
		return nil, fmt.Errorf("arithmetic on non-number operands")
	}
	x, err := decimal.NewFromString(an.Value)
	if err != nil {
		return nil, err
	}
	y, err := decimal.NewFromString(bn.Value)
	if err != nil {
		return nil, err
	}
	if sign == "-" {
		return &types.AttributeValueMemberN{Value: x.Sub(y).String()}, nil
	}
	return &types.AttributeValueMemberN{Value: x.Add(y).String()}, nil
}

func cloneItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = cloneAV(v)
	}
	return out
}

func cloneAV(v types.AttributeValue) types.AttributeValue {
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: tv.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: tv.Value}
	case *types.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: tv.Value}
	case *types.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: tv.Value}
	case *types.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: append([]byte(nil), tv.Value...)}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: append([]string(nil), tv.Value...)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: append([]string(nil), tv.Value...)}
	case *types.AttributeValueMemberL:
		out := make([]types.AttributeValue, len(tv.Value))
		for i, e := range tv.Value {
			out[i] = cloneAV(e)
		}
		return &types.AttributeValueMemberL{Value: out}
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: cloneItem(tv.Value)}
	default:
		return v
	}
}
