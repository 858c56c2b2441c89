// Package store persists monitor state, alerts, predictions, and training
// jobs. Two implementations share the Store interface: Memory for single-node
// runs and Postgres for deployments that must survive restarts.
package store
