// Package requestlog provides the structured request log entry, a non-blocking
// hub that batches entries on a background goroutine, and the Sink/Emitter
// interfaces used by the edge middleware and cron routes. Delivery is detached
// from the response: callers Emit and schedule Flush on a background task.
package requestlog
