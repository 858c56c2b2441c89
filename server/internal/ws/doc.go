// Package ws streams monitor status, alert, and prediction events to
// dashboard clients over WebSocket. Each client receives a snapshot of the
// current monitor statuses on connect, then live events from the bus.
package ws
