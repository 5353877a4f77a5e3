// Package coordinator spawns and terminates agent instances, derives the
// agent types a workflow needs from its external-system context, selects
// a coordination strategy, and reacts to reported agent failures.
package coordinator
