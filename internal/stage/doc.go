// Package stage provides the runtime shared by every pipeline stage: the Stage
// interface, a cooperative stop signal, an advisory wake notifier and channel
// operations bounded by a timeout so that no stage ever blocks indefinitely.
package stage
