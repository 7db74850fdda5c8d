package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each event into a short OpenTelemetry span named after
// the event. Standard fields become llmflow.* attributes; model usage fields
// are mapped to llmflow.llm.* and an "error" meta value marks the span as
// failed.
type OTelEmitter struct {
	tracer trace.Tracer
}

func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("llmflow.run_id", event.RunID),
		attribute.Int("llmflow.step", event.Step),
		attribute.String("llmflow.node_id", event.NodeID),
	)

	for key, value := range event.Meta {
		span.SetAttributes(metaAttribute(attributeKey(key), value))
	}

	if msg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
}

func attributeKey(key string) string {
	switch key {
	case "model":
		return "llmflow.llm.model"
	case "tokens_in":
		return "llmflow.llm.tokens_in"
	case "tokens_out":
		return "llmflow.llm.tokens_out"
	case "cost_usd":
		return "llmflow.llm.cost_usd"
	case "latency_ms":
		return "llmflow.node.latency_ms"
	default:
		return "llmflow." + key
	}
}

func metaAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case time.Duration:
		return attribute.Int64(key, v.Milliseconds())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
