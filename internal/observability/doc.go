// Package observability builds the structured logger shared by the lab's
// binaries. Both the aggregation CLI and the report server go through
// NewLogger so log level and output format follow the same configuration.
package observability
