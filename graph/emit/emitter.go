// Package emit provides the observability sinks the workflow engine reports
// to: structured logs, OpenTelemetry spans and in-memory buffers.
package emit

// Emitter receives events from the engine. Emit must not block for long and
// must be safe for concurrent use when an emitter is shared between runs.
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter fans every event out to several emitters in order.
type MultiEmitter []Emitter

// NewMultiEmitter drops nil entries.
func NewMultiEmitter(emitters ...Emitter) MultiEmitter {
	out := make(MultiEmitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
