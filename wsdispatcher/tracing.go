package wsdispatcher

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

/*************************************************************************************************/
/* TRACING & METRICS RELATED CONSTANTS                                                           */
/*************************************************************************************************/

// Constants used for tracing and metrics purpose.
const (
	// Package name used by library tracer and meter
	pkgName = "wsdispatcher"
	// Package version
	pkgVersion = "0.0.0"

	// Namespace used by spans, events, attributes and metrics
	namespace = "wsdispatcher"
	// Sub-namespace used by spans related to the service
	serviceNamespace = namespace + ".service"

	// Name of span used to trace Run public method
	spanDispatcherRun = namespace + ".run"
	// Name of span used to trace a service call
	spanServiceCall = serviceNamespace + ".call"
	// Name of span used to trace the final flush when the dispatcher stops
	spanDispatcherFlush = namespace + ".flush"

	// Event used in span to signal the dispatcher changed state
	eventStateChange = namespace + ".state_change"
	// Event used in span to signal an oversized frame has been skipped
	eventFrameSkipped = namespace + ".frame_skipped"
	// Event used in span to signal the peer closed the transport
	eventEndOfStream = namespace + ".end_of_stream"

	// Attribute used to store dispatcher session ID
	attrSessionId = namespace + ".session_id"
	// Attribute used to store the dispatcher role
	attrServerMode = namespace + ".server_mode"
	// Attribute used to store the dispatcher state
	attrState = namespace + ".state"
	// Attribute used to indicate the kind of a frame
	attrFrameKind = namespace + ".frame.kind"
	// Attribute used to indicate the length of a frame payload
	attrFrameLength = namespace + ".frame.length"
	// Attribute used to indicate the kind of a message
	attrMessageKind = namespace + ".message.kind"
	// Attribute used to indicate the number of flushed bytes
	attrFlushedBytes = namespace + ".flushed_bytes"

	// Counter of decoded frames
	metricFramesDecoded = namespace + ".frames_decoded"
	// Counter of encoded messages
	metricMessagesEncoded = namespace + ".messages_encoded"
	// Counter of bytes read from the transport
	metricBytesRead = namespace + ".bytes_read"
	// Counter of bytes written to the transport
	metricBytesWritten = namespace + ".bytes_written"
	// Counter of protocol errors
	metricProtocolErrors = namespace + ".protocol_errors"
	// Counter of service errors
	metricServiceErrors = namespace + ".service_errors"
	// Number of service calls in flight
	metricInFlightCalls = namespace + ".in_flight_calls"
)

// # Description
//
// The function records the input error in the provided span using span.RecordError(err) and set
// the span status with the provided code and description. The function returns the provided error.
//
// # Usage tips
//
// The function is meant to replace code blocks like this one:
//
//	if err != nil {
//			span.RecordError(err)
//			span.SetStatus(code, description)
//			return err
//	}
//
// By:
//
//	if err != nil {
//			return handleError(err, span, code, description)
//	}
func handleError(err error, span trace.Span, code codes.Code, description string) error {
	span.RecordError(err)
	span.SetStatus(code, description)
	return err
}

// # Description
//
// If the error is not nil, the function records the input error in the provided span and set the
// span status with an error code and description. In the other case, the span status is set with
// a Ok code. The function returns the provided error in all cases.
func handlePotentialError(err error, span trace.Span) error {
	if err != nil {
		return handleError(err, span, codes.Error, codes.Error.String())
	}
	span.SetStatus(codes.Ok, codes.Ok.String())
	return nil
}
