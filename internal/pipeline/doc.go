// Package pipeline drives QA runs through their stages. A pool of workers
// claims queued runs, executes the stage handlers in order, persists progress
// after every stage, and publishes progress events once the state is durable.
// Stages are idempotent so a run reclaimed after a stale heartbeat can be
// replayed safely.
package pipeline
