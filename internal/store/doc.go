// Package store persists organizations, design files, QA runs, findings,
// artifacts, and the credits ledger in SQLite. The qa_runs table doubles as
// the work queue: queued runs are claimed by pipeline workers with a
// conditional update, heartbeats mark liveness, and stale running rows are
// reclaimed back to queued.
package store
