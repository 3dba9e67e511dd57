// Package transcription implements the Transcriber stage and the
// speech-to-text backends it drives: whisper.cpp in-process, or a
// whisper-compatible HTTP inference server.
package transcription
