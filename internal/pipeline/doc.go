// Package pipeline assembles the frame source, segmenter and transcriber
// into a running pipeline. It owns the queues between them, the shared stop
// signal and the wake notifier, delivers final transcripts to sinks and
// reports how each stage terminated on shutdown.
package pipeline
