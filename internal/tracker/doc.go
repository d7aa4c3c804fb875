// Package tracker runs the poll loop for tracked games.
//
// Each game gets its own Tracker goroutine that owns the game's GameState.
// A cycle fetches a snapshot, diffs it against the last accepted one, applies
// it to the state machine, plans emissions, hands them to the dispatcher,
// records what was handed off and persists the state. The tracker then sleeps
// for the interval chosen by the cadence policy.
//
// A stop signal is only observed between cycles, so a cycle that started
// always finishes and persists. The Supervisor runs several trackers side by
// side; a permanent failure of one game does not stop the others.
package tracker
