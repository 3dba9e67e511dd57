// Package capture implements the FrameSource stage and the capture devices
// it reads from: the system microphone through miniaudio and WAV file replay.
package capture
