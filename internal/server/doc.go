// Package server implements the network edges of the pipeline: a UDP receiver that turns frame
// packets into capture frames, the matching sender used to stream audio files, the HTTP
// monitoring API and a model-free inference endpoint for local testing.
package server
