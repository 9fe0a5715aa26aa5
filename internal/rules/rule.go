// Package rules implements the boolean predicates that decide which events a
// roomgraph session forwards.
//
// A Rule is an immutable tree of five node kinds. Contains and Netblock test
// event attributes; And, Or and Not combine other rules. Every rule has a
// canonical string form that doubles as its identity when rules are counted.
package rules

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"roomgraph/internal/events"
)

// Kind identifies the node type of a Rule
type Kind int

const (
	KindContains Kind = iota + 1
	KindNetblock
	KindAnd
	KindOr
	KindNot
)

func (k Kind) String() string {
	switch k {
	case KindContains:
		return "CONTAINS"
	case KindNetblock:
		return "NETBLOCK"
	case KindAnd:
		return "AND"
	case KindOr:
		return "OR"
	case KindNot:
		return "NOT"
	default:
		return "UNKNOWN"
	}
}

// DefaultNetblockKeys are the attributes a Netblock inspects when none are given
var DefaultNetblockKeys = []string{"ip"}

// Condition is one requirement of a Contains rule. With Any set only the
// presence of Key is required.
type Condition struct {
	Key   string
	Value string
	Any   bool
}

// Eq requires value among the values of key
func Eq(key, value string) Condition {
	return Condition{Key: key, Value: value}
}

// Present requires key to have at least one value
func Present(key string) Condition {
	return Condition{Key: key, Any: true}
}

func (c Condition) String() string {
	if c.Any {
		return quote(c.Key)
	}
	return quote(c.Key) + "=" + quote(c.Value)
}

// Rule is an immutable predicate over events. Build rules with the
// constructors; the zero value is not a valid rule.
type Rule struct {
	kind       Kind
	conditions []Condition
	prefix     netip.Prefix
	keys       []string
	children   []*Rule
	text       string
}

// Contains matches events satisfying every condition. With no conditions
// it matches every event.
func Contains(conditions ...Condition) *Rule {
	conds := make([]Condition, len(conditions))
	copy(conds, conditions)
	sort.SliceStable(conds, func(i, j int) bool {
		if conds[i].Key != conds[j].Key {
			return conds[i].Key < conds[j].Key
		}
		if conds[i].Any != conds[j].Any {
			return conds[i].Any
		}
		return conds[i].Value < conds[j].Value
	})
	conds = dedupe(conds)

	r := &Rule{kind: KindContains, conditions: conds}
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = c.String()
	}
	r.text = "CONTAINS(" + strings.Join(parts, ",") + ")"
	return r
}

// MatchAll is the rule used when a session names none
func MatchAll() *Rule {
	return Contains()
}

// Netblock matches events where any value of keys (default "ip") is an
// address inside prefix. The prefix is masked to its network address.
func Netblock(prefix netip.Prefix, keys ...string) *Rule {
	prefix = prefix.Masked()
	if len(keys) == 0 {
		keys = DefaultNetblockKeys
	}
	ks := make([]string, len(keys))
	copy(ks, keys)
	sort.Strings(ks)

	r := &Rule{kind: KindNetblock, prefix: prefix, keys: ks}
	if isDefaultKeys(ks) {
		r.text = "NETBLOCK(" + prefix.String() + ")"
	} else {
		quoted := make([]string, len(ks))
		for i, k := range ks {
			quoted[i] = quote(k)
		}
		r.text = "NETBLOCK(" + prefix.String() + ";" + strings.Join(quoted, ",") + ")"
	}
	return r
}

// And matches when every child matches. And() is always true.
func And(children ...*Rule) *Rule {
	return combine(KindAnd, children)
}

// Or matches when any child matches. Or() is always false.
func Or(children ...*Rule) *Rule {
	return combine(KindOr, children)
}

// Not inverts child
func Not(child *Rule) *Rule {
	if child == nil {
		panic("rules.Not: nil child")
	}
	return &Rule{
		kind:     KindNot,
		children: []*Rule{child},
		text:     "NOT(" + child.text + ")",
	}
}

func combine(kind Kind, children []*Rule) *Rule {
	cs := make([]*Rule, len(children))
	parts := make([]string, len(children))
	for i, c := range children {
		if c == nil {
			panic(fmt.Sprintf("rules.%s: nil child", kind))
		}
		cs[i] = c
		parts[i] = c.text
	}
	return &Rule{
		kind:     kind,
		children: cs,
		text:     kind.String() + "(" + strings.Join(parts, ",") + ")",
	}
}

// Kind returns the node type
func (r *Rule) Kind() Kind { return r.kind }

// Conditions returns a copy of a Contains rule's conditions
func (r *Rule) Conditions() []Condition {
	return append([]Condition(nil), r.conditions...)
}

// Prefix returns a Netblock rule's network
func (r *Rule) Prefix() netip.Prefix { return r.prefix }

// Keys returns the attributes a Netblock rule inspects
func (r *Rule) Keys() []string { return append([]string(nil), r.keys...) }

// Children returns the operands of And, Or and Not
func (r *Rule) Children() []*Rule { return append([]*Rule(nil), r.children...) }

// String returns the canonical form, e.g. AND(CONTAINS(type=malware),NETBLOCK(10.0.0.0/24))
func (r *Rule) String() string {
	if r == nil {
		return "<nil>"
	}
	return r.text
}

// Equal reports whether two rules have the same canonical form
func (r *Rule) Equal(other *Rule) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.text == other.text
}

// Match evaluates the rule against e. It never fails: malformed attribute
// values simply do not match.
func (r *Rule) Match(e *events.Event) bool {
	switch r.kind {
	case KindContains:
		for _, c := range r.conditions {
			if c.Any {
				if !e.Has(c.Key) {
					return false
				}
			} else if !e.Contains(c.Key, c.Value) {
				return false
			}
		}
		return true

	case KindNetblock:
		for _, key := range r.keys {
			for _, value := range e.Values(key) {
				addr, err := netip.ParseAddr(strings.TrimSpace(value))
				if err != nil {
					continue
				}
				if r.prefix.Contains(addr.WithZone("").Unmap()) {
					return true
				}
			}
		}
		return false

	case KindAnd:
		for _, c := range r.children {
			if !c.Match(e) {
				return false
			}
		}
		return true

	case KindOr:
		for _, c := range r.children {
			if c.Match(e) {
				return true
			}
		}
		return false

	case KindNot:
		return !r.children[0].Match(e)

	default:
		return false
	}
}

// Match evaluates rule against e
func Match(rule *Rule, e *events.Event) bool {
	return rule.Match(e)
}

func isDefaultKeys(keys []string) bool {
	return len(keys) == len(DefaultNetblockKeys) && keys[0] == DefaultNetblockKeys[0]
}

func dedupe(conds []Condition) []Condition {
	out := conds[:0]
	for i, c := range conds {
		if i > 0 && c == conds[i-1] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// quote leaves plain tokens alone and quotes anything that would make the
// canonical form ambiguous.
func quote(s string) string {
	if s == "" || strings.ContainsAny(s, "=,;()\"\\ \t\n") {
		return strconv.Quote(s)
	}
	return s
}
