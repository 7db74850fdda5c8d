package emit

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LogEmitter writes events as structured zerolog records.
//
// Error events (node_error, run_failed, or any event carrying meta["error"])
// are logged at error level, llm_call and node lifecycle events at debug,
// and run completion at info.
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter creates an emitter writing to w. In JSON mode every event is
// one JSON object per line; otherwise a human-readable console format is
// used. A nil writer defaults to stderr.
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stderr
	}
	if !jsonMode {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true}
	}
	return &LogEmitter{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// NewLoggerEmitter wraps an existing zerolog logger, typically the global
// one configured at process start.
func NewLoggerEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(event Event) {
	_, hasErr := event.Meta["error"]

	var ev *zerolog.Event
	switch {
	case hasErr || strings.HasSuffix(event.Msg, "_error") || event.Msg == "run_failed":
		ev = l.logger.Error()
	case event.Msg == "run_complete" || event.Msg == "checkpoint_saved" || event.Msg == "resume":
		ev = l.logger.Info()
	default:
		ev = l.logger.Debug()
	}

	ev = ev.Str("run_id", event.RunID).Int("step", event.Step)
	if event.NodeID != "" {
		ev = ev.Str("node_id", event.NodeID)
	}
	if len(event.Meta) > 0 {
		ev = ev.Fields(event.Meta)
	}
	ev.Msg(event.Msg)
}
