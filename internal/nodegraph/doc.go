// Package nodegraph holds the node graph that filters live in.
//
// The graph is larger than the set of filters: data nodes and other
// non-filter nodes sit between them. View is the read-only query surface the
// scheduler consumes; Graph is a thread-safe, in-memory implementation of it
// used by the pipeline loader and by tests.
package nodegraph
