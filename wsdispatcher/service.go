package wsdispatcher

import (
	"context"
	"fmt"

	"github.com/gbdevw/gowsengine/wscodec"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// # Description
//
// Application logic called by the dispatcher for each decoded frame.
//
// # Expected behaviour
//
//   - Call is run in its own goroutine: several calls can run at the same time and the messages
//     they return are written in the order calls complete.
//   - Call SHOULD return when ctx is cancelled. ctx is cancelled when the dispatcher stops.
//   - Returning wscodec.NopMessage() writes nothing. Returning wscodec.StopMessage() flushes and
//     stops the dispatcher. Returning a close message writes it and then stops the dispatcher.
//   - Returning an error stops the dispatcher with a ServiceError.
type Service interface {
	Call(ctx context.Context, frame wscodec.Frame) (wscodec.Message, error)
}

// Adapter which allows the use of ordinary functions as Service.
type ServiceFunc func(ctx context.Context, frame wscodec.Frame) (wscodec.Message, error)

// Call f(ctx, frame).
func (f ServiceFunc) Call(ctx context.Context, frame wscodec.Frame) (wscodec.Message, error) {
	return f(ctx, frame)
}

// Package private decorator used to trace service calls
type serviceInstrumentationDecorator struct {
	// Tracer used to instrument code
	tracer trace.Tracer
	// Decorated Service implementation
	decorated Service
}

// # Description
//
// Build and return a new decorator which instruments a provided Service implementation.
//
// # Inputs
//
//   - decorated: The Service implementation to decorate. Must not be nil.
//   - tracerProvider: Tracer provider used to get a tracer. If nil, global tracer provider will be used.
//
// # Returns
//
// A new instrumentation decorator for the provided Service implementation or an error if
// decorated is nil.
func newServiceInstrumentationDecorator(decorated Service, tracerProvider trace.TracerProvider) (*serviceInstrumentationDecorator, error) {
	if decorated == nil {
		return nil, fmt.Errorf("provided service is nil")
	}
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	return &serviceInstrumentationDecorator{
		decorated: decorated,
		tracer:    tracerProvider.Tracer(pkgName, trace.WithInstrumentationVersion(pkgVersion)),
	}, nil
}

// Instrument decorated.Call
func (decorator *serviceInstrumentationDecorator) Call(ctx context.Context, frame wscodec.Frame) (wscodec.Message, error) {
	// Start a span
	ctx, span := decorator.tracer.Start(ctx, spanServiceCall,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(attrFrameKind, frame.Kind.String()),
			attribute.Int(attrFrameLength, len(frame.Payload)),
		))
	defer span.End()
	// Call decorated.Call, handle and return results
	msg, err := decorator.decorated.Call(ctx, frame)
	if err == nil {
		span.SetAttributes(attribute.String(attrMessageKind, msg.Kind.String()))
	}
	return msg, handlePotentialError(err, span)
}
