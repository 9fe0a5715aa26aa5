package rules

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

// ParseNetblock parses "addr/bits" or a bare address, which covers a single
// host (/32 or /128).
func ParseNetblock(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	ip, bits, hasBits := strings.Cut(s, "/")

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("not a valid IP address %q", ip)
	}
	addr = addr.WithZone("")

	n := addr.BitLen()
	if hasBits {
		n, err = strconv.Atoi(bits)
		if err != nil || n < 0 || n > addr.BitLen() {
			return netip.Prefix{}, fmt.Errorf("invalid prefix length in %q", s)
		}
	}
	return netip.PrefixFrom(addr, n).Masked(), nil
}

var asnTerm = regexp.MustCompile(`^\s*([+-])?\s*([^-+\s]+)\s*`)

// ParseASNNetblock parses a customer expression such as "3 +127.0.0.1/16 -4".
// Digits are AS numbers matched against the "asn" attribute, anything else
// is a netblock. Terms prefixed with "-" are excluded. The result is
//
//	AND(OR(+asn...), NOT(OR(-asn...)), OR(+net...), NOT(OR(-net...)))
//
// with empty groups left out.
func ParseASNNetblock(expr string) (*Rule, error) {
	var plusASN, minusASN, plusNet, minusNet []*Rule

	rest := expr
	for rest != "" {
		m := asnTerm.FindStringSubmatchIndex(rest)
		if m == nil {
			return nil, fmt.Errorf("invalid asn/netblock rule %q", expr)
		}
		sign := ""
		if m[2] >= 0 {
			sign = rest[m[2]:m[3]]
		}
		data := rest[m[4]:m[5]]
		rest = rest[m[1]:]

		if isDigits(data) {
			asn, err := strconv.ParseUint(data, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid AS number %q in %q", data, expr)
			}
			rule := Contains(Eq("asn", strconv.FormatUint(asn, 10)))
			if sign == "-" {
				minusASN = append(minusASN, rule)
			} else {
				plusASN = append(plusASN, rule)
			}
			continue
		}

		prefix, err := ParseNetblock(data)
		if err != nil {
			return nil, fmt.Errorf("invalid asn/netblock rule %q: %w", expr, err)
		}
		if sign == "-" {
			minusNet = append(minusNet, Netblock(prefix))
		} else {
			plusNet = append(plusNet, Netblock(prefix))
		}
	}

	var total []*Rule
	if len(plusASN) > 0 {
		total = append(total, Or(plusASN...))
	}
	if len(minusASN) > 0 {
		total = append(total, Not(Or(minusASN...)))
	}
	if len(plusNet) > 0 {
		total = append(total, Or(plusNet...))
	}
	if len(minusNet) > 0 {
		total = append(total, Not(Or(minusNet...)))
	}
	if len(total) == 0 {
		return nil, fmt.Errorf("empty asn/netblock rule")
	}
	return And(total...), nil
}

// ParseASNNetblocks ORs together several customer expressions
func ParseASNNetblocks(exprs []string) (*Rule, error) {
	if len(exprs) == 0 {
		return nil, fmt.Errorf("no asn/netblock rules given")
	}
	parsed := make([]*Rule, 0, len(exprs))
	for _, expr := range exprs {
		r, err := ParseASNNetblock(expr)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, r)
	}
	return Or(parsed...), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Parse reads a rule in the canonical form produced by Rule.String
func Parse(text string) (*Rule, error) {
	p := &parser{input: text}
	p.next()
	r, err := p.rule()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %s after rule", p.tok)
	}
	return r, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokLParen
	tokRParen
	tokComma
	tokEquals
	tokSemicolon
	tokError
)

type token struct {
	kind  tokenKind
	value string
	pos   int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokWord:
		return strconv.Quote(t.value)
	case tokError:
		return "invalid token"
	default:
		return "'" + t.value + "'"
	}
}

type parser struct {
	input string
	pos   int
	tok   token
	err   error
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("parse rule at offset %d: %s", p.tok.pos, fmt.Sprintf(format, args...))
}

func (p *parser) next() {
	for p.pos < len(p.input) && strings.ContainsRune(" \t\r\n", rune(p.input[p.pos])) {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.input) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}

	switch c := p.input[p.pos]; c {
	case '(':
		p.pos++
		p.tok = token{tokLParen, "(", start}
	case ')':
		p.pos++
		p.tok = token{tokRParen, ")", start}
	case ',':
		p.pos++
		p.tok = token{tokComma, ",", start}
	case '=':
		p.pos++
		p.tok = token{tokEquals, "=", start}
	case ';':
		p.pos++
		p.tok = token{tokSemicolon, ";", start}
	case '"':
		end := p.pos + 1
		for end < len(p.input) && p.input[end] != '"' {
			if p.input[end] == '\\' {
				end++
			}
			end++
		}
		if end >= len(p.input) {
			p.tok = token{kind: tokError, pos: start}
			p.err = fmt.Errorf("unterminated string")
			p.pos = len(p.input)
			return
		}
		value, err := strconv.Unquote(p.input[p.pos : end+1])
		if err != nil {
			p.tok = token{kind: tokError, pos: start}
			p.err = err
			p.pos = end + 1
			return
		}
		p.pos = end + 1
		p.tok = token{tokWord, value, start}
	default:
		end := p.pos
		for end < len(p.input) && !strings.ContainsRune("=,;()\" \t\r\n", rune(p.input[end])) {
			end++
		}
		p.tok = token{tokWord, p.input[p.pos:end], start}
		p.pos = end
	}
}

func (p *parser) expect(kind tokenKind, what string) error {
	if p.tok.kind != kind {
		if p.tok.kind == tokError {
			return p.errorf("%v", p.err)
		}
		return p.errorf("expected %s, got %s", what, p.tok)
	}
	p.next()
	return nil
}

func (p *parser) rule() (*Rule, error) {
	if p.tok.kind != tokWord {
		return nil, p.errorf("expected rule name, got %s", p.tok)
	}
	name := strings.ToUpper(p.tok.value)
	p.next()
	if err := p.expect(tokLParen, "'('"); err != nil {
		return nil, err
	}

	var r *Rule
	var err error
	switch name {
	case "CONTAINS":
		r, err = p.contains()
	case "NETBLOCK":
		r, err = p.netblock()
	case "AND", "OR":
		var children []*Rule
		children, err = p.ruleList()
		if err == nil {
			if name == "AND" {
				r = And(children...)
			} else {
				r = Or(children...)
			}
		}
	case "NOT":
		var child *Rule
		child, err = p.rule()
		if err == nil {
			r = Not(child)
		}
	default:
		return nil, p.errorf("unknown rule %q", name)
	}
	if err != nil {
		return nil, err
	}

	if err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *parser) ruleList() ([]*Rule, error) {
	var children []*Rule
	if p.tok.kind == tokRParen {
		return children, nil
	}
	for {
		child, err := p.rule()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
		if p.tok.kind != tokComma {
			return children, nil
		}
		p.next()
	}
}

func (p *parser) contains() (*Rule, error) {
	var conds []Condition
	if p.tok.kind == tokRParen {
		return Contains(), nil
	}
	for {
		if p.tok.kind != tokWord {
			return nil, p.errorf("expected attribute name, got %s", p.tok)
		}
		key := p.tok.value
		p.next()

		if p.tok.kind == tokEquals {
			p.next()
			if p.tok.kind != tokWord {
				return nil, p.errorf("expected value for %q, got %s", key, p.tok)
			}
			conds = append(conds, Eq(key, p.tok.value))
			p.next()
		} else {
			conds = append(conds, Present(key))
		}

		if p.tok.kind != tokComma {
			return Contains(conds...), nil
		}
		p.next()
	}
}

func (p *parser) netblock() (*Rule, error) {
	if p.tok.kind != tokWord {
		return nil, p.errorf("expected netblock, got %s", p.tok)
	}
	prefix, err := ParseNetblock(p.tok.value)
	if err != nil {
		return nil, p.errorf("%v", err)
	}
	p.next()

	var keys []string
	if p.tok.kind == tokSemicolon {
		p.next()
		for {
			if p.tok.kind != tokWord {
				return nil, p.errorf("expected attribute name, got %s", p.tok)
			}
			keys = append(keys, p.tok.value)
			p.next()
			if p.tok.kind != tokComma {
				break
			}
			p.next()
		}
	}
	return Netblock(prefix, keys...), nil
}
