// Package vad implements streaming voice activity detection. A Detector owns
// the recurrent model state and trailing audio context carried between calls
// and enforces the window contract of the Silero VAD model; the model itself
// sits behind the Model interface.
package vad
