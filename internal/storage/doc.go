// Package storage persists the bot's subscribers and a log of reminder
// delivery outcomes.
//
// Drivers:
//   - "memory": process-local, nothing survives a restart (default)
//   - "file": JSON Lines journal + snapshot, no external dependencies
//   - "sqlite": SQLite database file (pure Go driver)
package storage
