// Package segment implements the Segmenter stage: it classifies each frame
// with a stateful VAD detector, accumulates speech and emits an utterance
// once trailing silence exceeds the configured limit.
package segment
