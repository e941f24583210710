package scheduler

import "github.com/vk/filtergrid/internal/nodegraph"

// SelectAll returns every filter in the view, in view order.
func SelectAll(view nodegraph.View) []nodegraph.ID {
	var ids []nodegraph.ID
	for _, id := range view.Nodes() {
		if view.Kind(id) == nodegraph.KindFilter {
			ids = append(ids, id)
		}
	}
	return ids
}

// SelectOnly keeps the filters among ids, dropping duplicates.
func SelectOnly(view nodegraph.View, ids []nodegraph.ID) []nodegraph.ID {
	seen := make(map[nodegraph.ID]bool, len(ids))
	var out []nodegraph.ID
	for _, id := range ids {
		if seen[id] || view.Kind(id) != nodegraph.KindFilter {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// SelectWithAncestors returns the filters among ids together with every
// filter upstream of them.
func SelectWithAncestors(view nodegraph.View, ids []nodegraph.ID) []nodegraph.ID {
	return selectReachable(view, ids, view.Parents)
}

// SelectWithDescendants returns the filters among ids together with every
// filter downstream of them.
func SelectWithDescendants(view nodegraph.View, ids []nodegraph.ID) []nodegraph.ID {
	return selectReachable(view, ids, view.Children)
}

func selectReachable(view nodegraph.View, ids []nodegraph.ID, next func(nodegraph.ID) []nodegraph.ID) []nodegraph.ID {
	out := SelectOnly(view, ids)
	seen := make(map[nodegraph.ID]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}

	stack := append([]nodegraph.ID(nil), ids...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range next(cur) {
			if seen[n] {
				continue
			}
			seen[n] = true
			if view.Kind(n) == nodegraph.KindFilter {
				out = append(out, n)
			}
			stack = append(stack, n)
		}
	}
	return out
}
