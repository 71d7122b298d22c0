package httpx

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "dqx0.com/go/httpwire/httpx"

// HeaderCarrier adapts a *Header to propagation.TextMapCarrier so trace
// context can be injected into and extracted from wire headers.
type HeaderCarrier struct{ H *Header }

var _ propagation.TextMapCarrier = HeaderCarrier{}

func (c HeaderCarrier) Get(key string) string { return c.H.Get(key) }

func (c HeaderCarrier) Set(key, value string) { c.H.Set(key, value) }

func (c HeaderCarrier) Keys() []string {
	seen := make(map[string]bool, c.H.Len())
	var keys []string
	c.H.Each(func(name, _ string) {
		k := headerKey(name)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	})
	return keys
}

// DefaultPropagator propagates W3C trace context and baggage.
func DefaultPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

func tracerOrNoop(t trace.Tracer) trace.Tracer {
	if t != nil {
		return t
	}
	return noop.NewTracerProvider().Tracer(instrumentationName)
}

func propagatorOrDefault(p propagation.TextMapPropagator) propagation.TextMapPropagator {
	if p != nil {
		return p
	}
	return DefaultPropagator()
}

func spanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
