// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns one data source per session: a live WebSocket or the simulator
//   - Retries a failed live source a bounded number of times, then falls
//     back to simulated readings until a manual reconnect or toggle
//   - Decodes inbound frames into readings and drops malformed payloads
//   - Publishes readings and connection states to a Publisher (the feed hub)
//
// State transitions live in Transition, a pure function over Machine, so
// they can be tested without a network or real timers.
package connection
