// Package workflow implements the graph compiler and execution engine.
//
// A workflow is a node-and-edge definition produced by the visual
// builder. Compile resolves it against a node registry into an
// executable Graph: named transitions, sequential fan-out nodes for
// multi-target edges, per-node input mappings and the set of root
// nodes. Engine walks the compiled graph against a per-run Context,
// driving each node through its Prepare/Compute/Finalize lifecycle,
// routing by the transition name Finalize returns and emitting
// lifecycle events to a Sink.
//
// The walk is transition-driven, not a one-pass topological traversal:
// loop and while nodes route back to themselves, so a node may be
// visited any number of times. Node results live in an
// order-preserving map where rewriting a key moves it to the end, so
// the most recently produced value is always the last entry.
package workflow
