// Package events defines the feed event carried between rooms and the codecs
// that put it on the wire.
//
// An Event is a multimap from attribute keys to sets of string values. Key
// order and value order follow insertion so encodings are stable.
package events

import (
	"fmt"
	"sort"
	"strings"
)

// Event is an ordered multimap of string attributes. The zero value is an
// empty event ready to use. Events are not safe for concurrent mutation;
// the distributor only reads them.
type Event struct {
	keys   []string
	values map[string][]string
}

// New builds an event from alternating key, value arguments
func New(pairs ...string) *Event {
	if len(pairs)%2 != 0 {
		panic("events.New: odd number of arguments")
	}
	e := &Event{}
	for i := 0; i < len(pairs); i += 2 {
		e.Add(pairs[i], pairs[i+1])
	}
	return e
}

// FromMap builds an event from a map, sorting keys for determinism
func FromMap(m map[string][]string) *Event {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e := &Event{}
	for _, k := range keys {
		e.Add(k, m[k]...)
	}
	return e
}

// Add appends values to key, ignoring values already present
func (e *Event) Add(key string, values ...string) {
	if e.values == nil {
		e.values = make(map[string][]string)
	}
	existing, ok := e.values[key]
	for _, v := range values {
		if contains(existing, v) {
			continue
		}
		existing = append(existing, v)
	}
	if len(existing) == 0 {
		return
	}
	if !ok {
		e.keys = append(e.keys, key)
	}
	e.values[key] = existing
}

// Update replaces every value of key
func (e *Event) Update(key string, values ...string) {
	e.Clear(key)
	e.Add(key, values...)
}

// Discard removes a single value, dropping key when no values remain
func (e *Event) Discard(key, value string) {
	existing := e.values[key]
	for i, v := range existing {
		if v != value {
			continue
		}
		existing = append(existing[:i:i], existing[i+1:]...)
		if len(existing) == 0 {
			e.Clear(key)
		} else {
			e.values[key] = existing
		}
		return
	}
}

// Clear removes key and all its values
func (e *Event) Clear(key string) {
	if _, ok := e.values[key]; !ok {
		return
	}
	delete(e.values, key)
	for i, k := range e.keys {
		if k == key {
			e.keys = append(e.keys[:i:i], e.keys[i+1:]...)
			break
		}
	}
}

// Values returns a copy of the values of key in insertion order
func (e *Event) Values(key string) []string {
	if e == nil {
		return nil
	}
	vs := e.values[key]
	if len(vs) == 0 {
		return nil
	}
	out := make([]string, len(vs))
	copy(out, vs)
	return out
}

// Value returns the first value of key, or def when key is absent
func (e *Event) Value(key, def string) string {
	if e == nil {
		return def
	}
	if vs := e.values[key]; len(vs) > 0 {
		return vs[0]
	}
	return def
}

// Contains reports whether value is among the values of key
func (e *Event) Contains(key, value string) bool {
	if e == nil {
		return false
	}
	return contains(e.values[key], value)
}

// Has reports whether key has at least one value
func (e *Event) Has(key string) bool {
	if e == nil {
		return false
	}
	return len(e.values[key]) > 0
}

// Keys returns the keys in insertion order
func (e *Event) Keys() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}

// Len returns the number of keys
func (e *Event) Len() int {
	if e == nil {
		return 0
	}
	return len(e.keys)
}

// Clone returns a deep copy
func (e *Event) Clone() *Event {
	c := &Event{}
	if e == nil {
		return c
	}
	for _, k := range e.keys {
		c.Add(k, e.values[k]...)
	}
	return c
}

// Equal compares keys and value sets, ignoring order
func (e *Event) Equal(other *Event) bool {
	if e.Len() != other.Len() {
		return false
	}
	for _, k := range e.Keys() {
		a, b := e.values[k], other.values[k]
		if len(a) != len(b) {
			return false
		}
		for _, v := range a {
			if !contains(b, v) {
				return false
			}
		}
	}
	return true
}

// String renders the event as key=value pairs for logs
func (e *Event) String() string {
	var b strings.Builder
	for i, k := range e.Keys() {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%s", k, strings.Join(e.values[k], ","))
	}
	return b.String()
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
