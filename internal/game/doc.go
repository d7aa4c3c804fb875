// Package game provides the snapshot model for a tracked game and the diff
// engine that compares two snapshots.
//
// A Snapshot is one point-in-time read of a game from the feed. Occurrences
// inside a snapshot (goals, penalties, ...) are identified by a Fingerprint
// derived from what happened and when, never by the feed's own event id,
// because the feed renumbers events between reads. Diff is a pure function:
// it turns two snapshots into a DeltaSet and never fails.
package game
