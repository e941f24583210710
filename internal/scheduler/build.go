package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/vk/filtergrid/internal/ctxlog"
	"github.com/vk/filtergrid/internal/nodegraph"
	"github.com/vk/filtergrid/internal/operation"
	"github.com/vk/filtergrid/internal/pubsub"
)

// ErrCycle is returned by Build when the filters form a cycle.
var ErrCycle = errors.New("filter dependencies contain a cycle")

// RunSet is the set of filters requested for one invocation.
type RunSet struct {
	Filters []nodegraph.ID
	// SkipUnchanged lets up-to-date filters be skipped when Run is used.
	SkipUnchanged bool
}

type edge struct {
	from, to nodegraph.ID
}

type builder struct {
	view    nodegraph.View
	members map[nodegraph.ID]bool
	byID    map[nodegraph.ID]*Node
	order   []*Node
	visited map[edge]bool
}

// Build constructs the execution DAG for runSet over view. Filters that
// cannot be reached from an accepted root are left out; they are reported
// by Unscheduled and are not an error.
func Build(ctx context.Context, view nodegraph.View, runSet RunSet) (*Scheduler, error) {
	logger := ctxlog.FromContext(ctx)

	b := &builder{
		view:    view,
		members: make(map[nodegraph.ID]bool, len(runSet.Filters)),
		byID:    make(map[nodegraph.ID]*Node),
		visited: make(map[edge]bool),
	}

	var requested []nodegraph.ID
	for _, id := range runSet.Filters {
		if b.members[id] {
			continue
		}
		if view.Kind(id) != nodegraph.KindFilter {
			logger.Warn("Ignoring run-set entry that is not a filter.", "nodeID", id)
			continue
		}
		if view.Filter(id) == nil {
			return nil, fmt.Errorf("filter '%s' has no handle", id)
		}
		b.members[id] = true
		requested = append(requested, id)
	}

	sentinel := &Node{sentinel: true}
	for _, id := range requested {
		if b.hasRunSetAncestor(id) {
			continue
		}
		if !b.canRun(id) {
			logger.Debug("Dropping root filter without an acceptable input.", "nodeID", id, "prototype", view.Prototype(id))
			continue
		}
		root, created := b.getOrCreate(id)
		sentinel.addChild(root)
		if created {
			b.expand(root, id)
		}
	}

	if err := checkAcyclic(b.order); err != nil {
		return nil, err
	}

	var unscheduled []nodegraph.ID
	for _, id := range requested {
		if _, ok := b.byID[id]; !ok {
			unscheduled = append(unscheduled, id)
		}
	}
	if len(unscheduled) > 0 {
		logger.Warn("Some requested filters cannot be scheduled.", "filters", unscheduled)
	}

	logger.Debug("Execution graph built.", "requested", len(requested), "scheduled", len(b.order), "roots", len(sentinel.children))

	// Subscribers must be able to hold a whole run: every filter publishes
	// at most two transitions and one progress update.
	op := operation.New(fmt.Sprintf("Run %d filter(s)", len(b.order)),
		operation.WithExpectedUpdates(len(b.order)))
	events := pubsub.NewBrokerWithBuffer[NodeEvent](2*len(b.order) + 1)

	return &Scheduler{
		runSet:      RunSet{Filters: requested, SkipUnchanged: runSet.SkipUnchanged},
		sentinel:    sentinel,
		nodes:       b.order,
		byID:        b.byID,
		unscheduled: unscheduled,
		op:          op,
		events:      events,
	}, nil
}

// hasRunSetAncestor walks the parents of id through nodes of any kind and
// reports whether a run-set filter is found upstream.
func (b *builder) hasRunSetAncestor(id nodegraph.ID) bool {
	seen := map[nodegraph.ID]bool{id: true}
	stack := b.view.Parents(id)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if b.members[cur] {
			return true
		}
		stack = append(stack, b.view.Parents(cur)...)
	}
	return false
}

// canRun reports whether one of the direct parents of id has a prototype the
// filter accepts. Filters without input restrictions can always run.
func (b *builder) canRun(id nodegraph.ID) bool {
	allowed := b.view.AllowedInputTypes(b.view.Prototype(id))
	if len(allowed) == 0 {
		return true
	}
	for _, p := range b.view.Parents(id) {
		if slices.Contains(allowed, b.view.Prototype(p)) {
			return true
		}
	}
	return false
}

func (b *builder) getOrCreate(id nodegraph.ID) (*Node, bool) {
	if n, ok := b.byID[id]; ok {
		return n, false
	}
	n := newNode(id, b.view.Filter(id))
	b.byID[id] = n
	b.order = append(b.order, n)
	return n, true
}

// expand discovers the run-set filters downstream of from and links them to
// parent. Non-filter nodes and filters outside the run-set are looked
// through, so the edge always starts at the nearest scheduled ancestor.
func (b *builder) expand(parent *Node, from nodegraph.ID) {
	for _, child := range b.view.Children(from) {
		key := edge{from: parent.id, to: child}
		if b.visited[key] {
			continue
		}
		b.visited[key] = true

		if !b.members[child] {
			b.expand(parent, child)
			continue
		}

		cn, created := b.getOrCreate(child)
		parent.addChild(cn)
		if created {
			b.expand(cn, child)
		}
	}
}

// checkAcyclic runs Kahn's algorithm over the scheduled nodes.
func checkAcyclic(nodes []*Node) error {
	remaining := make(map[*Node]int, len(nodes))
	var ready []*Node
	for _, n := range nodes {
		remaining[n] = n.inDegree
		if n.inDegree == 0 {
			ready = append(ready, n)
		}
	}

	seen := 0
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		seen++
		for _, c := range n.children {
			remaining[c]--
			if remaining[c] == 0 {
				ready = append(ready, c)
			}
		}
	}

	if seen != len(nodes) {
		var stuck []nodegraph.ID
		for _, n := range nodes {
			if remaining[n] > 0 {
				stuck = append(stuck, n.id)
			}
		}
		return fmt.Errorf("%w: %v", ErrCycle, stuck)
	}
	return nil
}
