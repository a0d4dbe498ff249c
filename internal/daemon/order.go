package daemon

import (
	"fmt"
	"sort"
	"strings"
)

// startOrder sorts components so every dependency precedes its dependents.
// Ties keep registration order, which makes the order stable across runs.
func startOrder(components []Component) ([]Component, error) {
	byName := make(map[string]Component, len(components))
	for _, c := range components {
		if _, dup := byName[c.Name()]; dup {
			return nil, fmt.Errorf("component %s registered twice", c.Name())
		}
		byName[c.Name()] = c
	}

	pending := make(map[string]int, len(components))
	dependents := make(map[string][]string, len(components))
	for _, c := range components {
		for _, dep := range c.Dependencies() {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("component %s depends on %s which is not registered", c.Name(), dep)
			}
			pending[c.Name()]++
			dependents[dep] = append(dependents[dep], c.Name())
		}
	}

	order := make([]Component, 0, len(components))
	placed := make(map[string]bool, len(components))
	for len(order) < len(components) {
		progressed := false
		for _, c := range components {
			name := c.Name()
			if placed[name] || pending[name] > 0 {
				continue
			}
			placed[name] = true
			order = append(order, c)
			for _, d := range dependents[name] {
				pending[d]--
			}
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("circular dependency among %s", strings.Join(unplaced(components, placed), ", "))
		}
	}
	return order, nil
}

func unplaced(components []Component, placed map[string]bool) []string {
	var out []string
	for _, c := range components {
		if !placed[c.Name()] {
			out = append(out, c.Name())
		}
	}
	sort.Strings(out)
	return out
}

func names(components []Component) []string {
	out := make([]string, len(components))
	for i, c := range components {
		out[i] = c.Name()
	}
	return out
}
