// Package scheduler re-runs a set of filters in dependency order.
//
// # Building
//
// Build turns a run-set (the filters requested for this invocation) and a
// nodegraph.View into an execution DAG. Filters can be separated by any
// number of non-filter nodes, and by filters that are not part of the
// run-set; both are looked through when edges are discovered. Every
// run-set filter that has no run-set filter upstream is a root candidate.
// A root is accepted only if its prototype accepts one of its direct
// parents as input. Accepted roots hang off a synthetic sentinel node.
//
// # Executing
//
// Execute starts the roots and returns. From then on, every state
// transition happens on a single control goroutine that consumes a
// mailbox of callbacks. Filter computations run wherever their AsyncTask
// runs them; their completion is posted back to the mailbox.
//
// A node leaves Pending once all of its in-edges have reported. It is
// Skipped when none of its predecessors changed and it does not need
// recalculation; otherwise it is Running until its task completes
// (Finished or Failed). The first failure is sticky: descendants of the
// failed node are Cancelled at once, and any other node that becomes ready
// afterwards is Cancelled instead of started.
//
// A CompletionBarrier counts one slot per node plus one for the sentinel.
// When the last slot is released the enclosing operation finishes, exactly
// once, with ErrFiltersFailed if anything failed or was cancelled.
package scheduler
