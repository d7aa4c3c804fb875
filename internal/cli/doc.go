// Package cli implements the command-line interface for hockeygamebot.
//
// The cli package provides the Cobra-based CLI: track follows live games until
// they are final, state prints what was recorded for a game (text/JSON,
// sortable), and replay runs a tracker against recorded feed documents with a
// dry-run publisher. It wires configuration, storage, the feed client, the
// dispatcher and the optional status server together.
package cli
