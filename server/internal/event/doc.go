// Package event is the in-process fan-out between the engine, the alert
// manager, the training orchestrator, and the websocket hub. Delivery is
// best-effort: slow subscribers drop events instead of blocking producers.
package event
