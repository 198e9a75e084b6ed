// Package stats aggregates the per-event deltas of repeated measurements
// into distribution summaries.
package stats
