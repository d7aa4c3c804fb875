// Package storage persists game tracking records between runs.
//
// FileStore keeps one JSON document per game in a data directory and moves
// finished games into an archive subdirectory. SQLStore keeps the same
// documents in a SQLite or PostgreSQL table.
package storage
