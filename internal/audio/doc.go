// Package audio defines the frame and utterance types that flow through the
// pipeline, the speech buffer the segmenter accumulates into, and the WAV and
// PCM conversions used by file replay and HTTP transcription.
package audio
