// Package sinks implements concrete request log consumers: structured console
// logging, a queue-backed remote sink and Prometheus counters. Each sink
// satisfies requestlog.Sink and is safe for repeated Consume/Close cycles.
package sinks
