package event

import (
	"fmt"
	"maps"
	"slices"
)

// Subscription binds a filter to a target.
type Subscription struct {
	Name   string
	Filter FilterPolicy
	Target Target
}

// RoutingTable is the fixed set of subscriptions the router evaluates. It
// is built once at start and never mutated, so it is shared without locks.
type RoutingTable struct {
	subs []Subscription
}

// NewRoutingTable validates and freezes subs. Names must be unique and
// every subscription needs a target.
func NewRoutingTable(subs ...Subscription) (*RoutingTable, error) {
	seen := make(map[string]bool, len(subs))
	frozen := make([]Subscription, len(subs))
	for i, s := range subs {
		if s.Name == "" {
			return nil, fmt.Errorf("subscription %d has no name", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate subscription %q", s.Name)
		}
		if s.Target == nil {
			return nil, fmt.Errorf("subscription %q has no target", s.Name)
		}
		seen[s.Name] = true

		filter := make(FilterPolicy, len(s.Filter))
		for k, v := range maps.All(s.Filter) {
			filter[k] = slices.Clone(v)
		}
		s.Filter = filter
		frozen[i] = s
	}
	return &RoutingTable{subs: frozen}, nil
}

// Len returns the number of subscriptions.
func (t *RoutingTable) Len() int { return len(t.subs) }

// Subscriptions yields the subscriptions in configuration order.
func (t *RoutingTable) Subscriptions() []Subscription {
	return slices.Clone(t.subs)
}

// Match returns the subscriptions whose filter accepts attrs.
func (t *RoutingTable) Match(attrs map[string]string) []Subscription {
	var out []Subscription
	for _, s := range t.subs {
		if s.Filter.Matches(attrs) {
			out = append(out, s)
		}
	}
	return out
}
