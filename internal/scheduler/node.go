package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/vk/filtergrid/internal/filter"
	"github.com/vk/filtergrid/internal/nodegraph"
)

// State is the execution state of a scheduled filter.
type State int32

const (
	// Pending nodes wait for their in-edges to report.
	Pending State = iota
	// Running nodes have a task in flight.
	Running
	// Skipped nodes were up to date and did not run.
	Skipped
	// Finished nodes ran successfully.
	Finished
	// Cancelled nodes never ran because of an upstream failure or a cancel.
	Cancelled
	// Failed nodes ran and reported an error, or their task disappeared.
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Skipped:
		return "skipped"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == Skipped || s == Finished || s == Cancelled || s == Failed
}

// Node is the scheduling state of one filter. Everything except the state
// and the error is owned by the control goroutine once execution starts.
type Node struct {
	id       nodegraph.ID
	handle   filter.Handle
	sentinel bool

	inDegree  int
	processed int
	// parentChanged accumulates whether any reporting predecessor ran.
	parentChanged bool
	children      []*Node

	state atomic.Int32
	mu    sync.Mutex
	err   error

	stopCancelForward func()
	finalizeOnce      sync.Once
}

func newNode(id nodegraph.ID, h filter.Handle) *Node {
	return &Node{id: id, handle: h}
}

// ID returns the filter's node id. The sentinel has an empty id.
func (n *Node) ID() nodegraph.ID { return n.id }

// InDegree is the number of scheduled predecessors.
func (n *Node) InDegree() int { return n.inDegree }

// State atomically loads the node's state.
func (n *Node) State() State { return State(n.state.Load()) }

// Err returns the error the node failed with, if any.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Children returns the ids of the node's scheduled successors.
func (n *Node) Children() []nodegraph.ID {
	ids := make([]nodegraph.ID, len(n.children))
	for i, c := range n.children {
		ids[i] = c.id
	}
	return ids
}

func (n *Node) setState(s State) { n.state.Store(int32(s)) }

func (n *Node) setErr(err error) {
	n.mu.Lock()
	n.err = err
	n.mu.Unlock()
}

func (n *Node) addChild(c *Node) {
	n.children = append(n.children, c)
	if !n.sentinel {
		c.inDegree++
	}
}
