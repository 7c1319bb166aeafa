// Package storage is the persistence layer read and written by the engine core.
//
// It covers exactly the state the scheduler and agent runtime touch:
//   - Scheduled tasks (scan, last-run stamping, response log, one-shot disable)
//   - Aether programs (pending scan, status transitions, source merge)
//   - Conversations and messages (hidden orchestration chats included)
//   - Per-identity eido settings (provider, agents, modes)
//
// All rows are partitioned by Identity; there is no cross-identity sharing.
// Per-row write serialization is provided by the backing database, not here.
package storage
