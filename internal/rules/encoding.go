package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// wireRule is the object form of a rule:
//
//	{"contains": {"type": "malware", "asn": ["3", "4"]}, "keys": ["ip"]}
//	{"netblock": "10.0.0.0/8", "keys": ["src"]}
//	{"and": [...]} {"or": [...]} {"not": {...}}
//
// For contains, "keys" lists attributes that only need to be present; for
// netblock it lists the attributes holding addresses.
type wireRule struct {
	Contains *map[string]valueList `json:"contains,omitempty" yaml:"contains,omitempty"`
	Netblock string                `json:"netblock,omitempty" yaml:"netblock,omitempty"`
	Keys     []string              `json:"keys,omitempty" yaml:"keys,omitempty"`
	And      *[]*Rule              `json:"and,omitempty" yaml:"and,omitempty"`
	Or       *[]*Rule              `json:"or,omitempty" yaml:"or,omitempty"`
	Not      *Rule                 `json:"not,omitempty" yaml:"not,omitempty"`
}

// valueList accepts a single string or a list of strings
type valueList []string

func (v valueList) MarshalJSON() ([]byte, error) {
	if len(v) == 1 {
		return json.Marshal(v[0])
	}
	return json.Marshal([]string(v))
}

func (v *valueList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*v = valueList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("contains values must be a string or a list of strings")
	}
	*v = many
	return nil
}

func (v valueList) MarshalYAML() (interface{}, error) {
	if len(v) == 1 {
		return v[0], nil
	}
	return []string(v), nil
}

func (v *valueList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*v = valueList{node.Value}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}
		*v = many
		return nil
	default:
		return fmt.Errorf("line %d: contains values must be a string or a list of strings", node.Line)
	}
}

func (r *Rule) toWire() wireRule {
	var w wireRule
	switch r.kind {
	case KindContains:
		m := make(map[string]valueList)
		for _, c := range r.conditions {
			if c.Any {
				w.Keys = append(w.Keys, c.Key)
				continue
			}
			m[c.Key] = append(m[c.Key], c.Value)
		}
		w.Contains = &m
	case KindNetblock:
		w.Netblock = r.prefix.String()
		if !isDefaultKeys(r.keys) {
			w.Keys = r.Keys()
		}
	case KindAnd:
		children := r.operands()
		w.And = &children
	case KindOr:
		children := r.operands()
		w.Or = &children
	case KindNot:
		w.Not = r.children[0]
	}
	return w
}

// operands is never nil, so an empty And or Or encodes as [] rather than null
func (r *Rule) operands() []*Rule {
	children := make([]*Rule, len(r.children))
	copy(children, r.children)
	return children
}

// decodeError prefixes a rule decoding failure once, however deep the
// failing operand is nested.
type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode rule: " + e.err.Error() }

func (e *decodeError) Unwrap() error { return e.err }

func wrapDecode(err error) error {
	var de *decodeError
	if errors.As(err, &de) {
		return err
	}
	return &decodeError{err: err}
}

func fromWire(w wireRule) (*Rule, error) {
	set := 0
	for _, present := range []bool{w.Contains != nil, w.Netblock != "", w.And != nil, w.Or != nil, w.Not != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("a rule needs exactly one of contains, netblock, and, or, not")
	}
	if len(w.Keys) > 0 && w.Contains == nil && w.Netblock == "" {
		return nil, fmt.Errorf("keys only apply to contains and netblock rules")
	}

	switch {
	case w.Contains != nil:
		keys := make([]string, 0, len(*w.Contains))
		for k := range *w.Contains {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var conds []Condition
		for _, k := range keys {
			for _, v := range (*w.Contains)[k] {
				conds = append(conds, Eq(k, v))
			}
		}
		for _, k := range w.Keys {
			conds = append(conds, Present(k))
		}
		return Contains(conds...), nil

	case w.Netblock != "":
		prefix, err := ParseNetblock(w.Netblock)
		if err != nil {
			return nil, err
		}
		return Netblock(prefix, w.Keys...), nil

	case w.And != nil:
		if err := checkChildren(*w.And); err != nil {
			return nil, err
		}
		return And(*w.And...), nil

	case w.Or != nil:
		if err := checkChildren(*w.Or); err != nil {
			return nil, err
		}
		return Or(*w.Or...), nil

	default:
		return Not(w.Not), nil
	}
}

func checkChildren(children []*Rule) error {
	for i, c := range children {
		if c == nil {
			return fmt.Errorf("operand %d is null", i)
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (r *Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toWire())
}

// UnmarshalJSON implements json.Unmarshaler. Besides the object form it
// accepts a string in canonical form.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		parsed, err := Parse(text)
		if err != nil {
			return err
		}
		*r = *parsed
		return nil
	}

	var w wireRule
	if err := json.Unmarshal(data, &w); err != nil {
		return wrapDecode(err)
	}
	parsed, err := fromWire(w)
	if err != nil {
		return wrapDecode(err)
	}
	*r = *parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (r *Rule) MarshalYAML() (interface{}, error) {
	return r.toWire(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler. A scalar is read as the
// canonical form.
func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		parsed, err := Parse(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*r = *parsed
		return nil
	}

	var w wireRule
	if err := node.Decode(&w); err != nil {
		return err
	}
	parsed, err := fromWire(w)
	if err != nil {
		return fmt.Errorf("line %d: %s", node.Line, strings.TrimPrefix(err.Error(), "decode rule: "))
	}
	*r = *parsed
	return nil
}
