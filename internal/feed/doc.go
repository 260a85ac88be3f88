// Package feed distributes readings and connection states from the
// connection manager to local consumers.
//
// A Hub owns one unbounded GrowableBuffer per subscriber so a slow consumer
// (database writer, broker relay, browser socket) never stalls the manager.
// The status feed has latest-value semantics: every new subscriber first
// receives the current state.
package feed
