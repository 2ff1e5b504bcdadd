// Package lease implements the liveness marker for background ingestion
// jobs as a Redis key with a TTL.
//
// The marker is a durable, externally observable boolean: created on start,
// deleted on stop, renewed by the running job's periodic check. Keeping it
// in a shared store (rather than a local sentinel file) survives process
// restarts and multi-instance deployments.
package lease
