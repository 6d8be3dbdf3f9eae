package event

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// FilterPolicy is an allow-list keyed by attribute name. A message matches
// when, for every key, its attribute value is one of the listed values. An
// empty policy matches every message.
type FilterPolicy map[string][]string

// Matches reports whether attrs satisfy the policy.
func (p FilterPolicy) Matches(attrs map[string]string) bool {
	for key, allowed := range p {
		v, ok := attrs[key]
		if !ok || !slices.Contains(allowed, v) {
			return false
		}
	}
	return true
}

// String renders the policy in the form ParseFilter accepts.
func (p FilterPolicy) String() string {
	if len(p) == 0 {
		return ""
	}
	clauses := make([]string, 0, len(p))
	for _, key := range slices.Sorted(maps.Keys(p)) {
		values := p[key]
		if len(values) == 1 {
			clauses = append(clauses, key+" == "+values[0])
			continue
		}
		clauses = append(clauses, key+" in ("+strings.Join(values, ", ")+")")
	}
	return strings.Join(clauses, " && ")
}

// ParseFilter parses the configuration form of a filter policy:
//
//	eventType == ORDER_CREATED
//	eventType in (ORDER_CREATED, ORDER_UPDATED) && requesterEmail == a@b.c
//
// An empty expression yields an empty policy. Repeating a key intersects
// its allowed values.
func ParseFilter(expr string) (FilterPolicy, error) {
	policy := FilterPolicy{}
	if strings.TrimSpace(expr) == "" {
		return policy, nil
	}

	for _, clause := range strings.Split(expr, "&&") {
		key, values, err := parseClause(strings.TrimSpace(clause))
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", expr, err)
		}
		if prev, ok := policy[key]; ok {
			values = slices.DeleteFunc(values, func(v string) bool { return !slices.Contains(prev, v) })
		}
		policy[key] = values
	}
	return policy, nil
}

func parseClause(clause string) (string, []string, error) {
	if key, value, ok := strings.Cut(clause, "=="); ok {
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key == "" || value == "" {
			return "", nil, fmt.Errorf("malformed clause %q", clause)
		}
		return key, []string{value}, nil
	}

	key, list, ok := strings.Cut(clause, " in ")
	if !ok {
		return "", nil, fmt.Errorf("clause %q must use == or in", clause)
	}
	key, list = strings.TrimSpace(key), strings.TrimSpace(list)
	if key == "" || !strings.HasPrefix(list, "(") || !strings.HasSuffix(list, ")") {
		return "", nil, fmt.Errorf("malformed clause %q", clause)
	}

	var values []string
	for v := range strings.SplitSeq(list[1:len(list)-1], ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return "", nil, fmt.Errorf("empty value list in %q", clause)
	}
	return key, values, nil
}
