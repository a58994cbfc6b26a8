package requestlog

import "context"

// Sink consumes batches of log entries. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Entry) error
	Close(ctx context.Context) error
}

// Emitter records individual entries; Hub satisfies this interface so request
// handlers remain agnostic about how entries are buffered or shipped.
type Emitter interface {
	Emit(entry Entry)
}
