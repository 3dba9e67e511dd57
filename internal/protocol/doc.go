// Package protocol implements the frame packet codec used to stream audio
// frames over UDP: an 8-byte big-endian header followed by little-endian
// float32 samples.
package protocol
