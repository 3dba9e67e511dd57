// Package metrics defines the Prometheus metrics exported by the pipeline.
package metrics
