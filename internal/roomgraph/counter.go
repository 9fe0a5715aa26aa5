package roomgraph

import (
	"fmt"
	"sync"

	"roomgraph/internal/common/errors"
	"roomgraph/internal/rules"
)

// Destination is one entry of a Counter snapshot: a destination room and
// its registered rules in registration order.
type Destination struct {
	Room  string
	Rules []*rules.Rule
}

type ruleCount struct {
	rule  *rules.Rule
	key   string
	count int
}

type destinationRules struct {
	room  string
	rules []*ruleCount
}

// Counter is the reference counted multiset of (destination, rule) pairs
// registered for one source room. Rules are identified by their canonical
// form, so two sessions with equal rules share an entry.
type Counter struct {
	mu           sync.Mutex
	destinations []*destinationRules
	snapshot     []Destination
}

func NewCounter() *Counter {
	return &Counter{}
}

// Increment registers one more use of rule for destination and returns the
// new count.
func (c *Counter) Increment(destination string, rule *rules.Rule) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := rule.String()
	dst := c.find(destination)
	if dst == nil {
		dst = &destinationRules{room: destination}
		c.destinations = append(c.destinations, dst)
	}
	for _, rc := range dst.rules {
		if rc.key == key {
			rc.count++
			return rc.count
		}
	}

	dst.rules = append(dst.rules, &ruleCount{rule: rule, key: key, count: 1})
	c.snapshot = nil
	return 1
}

// Decrement drops one use of rule for destination and returns the remaining
// count. Decrementing a pair that is not registered panics with a lifecycle
// error.
func (c *Counter) Decrement(destination string, rule *rules.Rule) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := rule.String()
	dst := c.find(destination)
	if dst != nil {
		for i, rc := range dst.rules {
			if rc.key != key {
				continue
			}
			rc.count--
			if rc.count > 0 {
				return rc.count
			}

			dst.rules = append(dst.rules[:i:i], dst.rules[i+1:]...)
			if len(dst.rules) == 0 {
				c.removeDestination(destination)
			}
			c.snapshot = nil
			return 0
		}
	}

	panic(errors.LifecycleError(fmt.Sprintf("decrement of unregistered rule %s for %s", key, destination)))
}

// Count returns the current count of a pair
func (c *Counter) Count(destination string, rule *rules.Rule) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dst := c.find(destination); dst != nil {
		key := rule.String()
		for _, rc := range dst.rules {
			if rc.key == key {
				return rc.count
			}
		}
	}
	return 0
}

// IsEmpty reports whether no pair has a positive count
func (c *Counter) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.destinations) == 0
}

// EntriesFor returns the rules registered for destination in registration order
func (c *Counter) EntriesFor(destination string) []*rules.Rule {
	c.mu.Lock()
	defer c.mu.Unlock()

	dst := c.find(destination)
	if dst == nil {
		return nil
	}
	out := make([]*rules.Rule, len(dst.rules))
	for i, rc := range dst.rules {
		out[i] = rc.rule
	}
	return out
}

// Snapshot returns every destination with its rules. The result is shared
// between callers until the next change and must not be modified.
func (c *Counter) Snapshot() []Destination {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot != nil || len(c.destinations) == 0 {
		return c.snapshot
	}

	snap := make([]Destination, len(c.destinations))
	for i, dst := range c.destinations {
		rs := make([]*rules.Rule, len(dst.rules))
		for j, rc := range dst.rules {
			rs[j] = rc.rule
		}
		snap[i] = Destination{Room: dst.room, Rules: rs}
	}
	c.snapshot = snap
	return snap
}

func (c *Counter) find(destination string) *destinationRules {
	for _, dst := range c.destinations {
		if dst.room == destination {
			return dst
		}
	}
	return nil
}

func (c *Counter) removeDestination(destination string) {
	for i, dst := range c.destinations {
		if dst.room == destination {
			c.destinations = append(c.destinations[:i:i], c.destinations[i+1:]...)
			return
		}
	}
}
