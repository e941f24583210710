// Package filter defines the contract between the scheduler and a single
// filter: a Handle that can tell whether its output is stale and start a
// run, and the AsyncTask that a run returns.
//
// Task is the stock AsyncTask implementation. It delivers exactly one
// outcome: either a completion (with or without an error) or a destruction
// without completion. Observers registered after the outcome is known are
// invoked immediately on the registering goroutine.
package filter
