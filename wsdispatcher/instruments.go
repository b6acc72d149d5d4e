package wsdispatcher

import (
	"go.opentelemetry.io/otel/metric"
)

// Internal structure used to retain references to instruments that record dispatcher metrics.
type dispatcherInstruments struct {
	// Counter of decoded frames
	framesDecoded metric.Int64Counter
	// Counter of encoded messages
	messagesEncoded metric.Int64Counter
	// Counter of bytes read from the transport
	bytesRead metric.Int64Counter
	// Counter of bytes written to the transport
	bytesWritten metric.Int64Counter
	// Counter of protocol errors
	protocolErrors metric.Int64Counter
	// Counter of service errors
	serviceErrors metric.Int64Counter
	// Number of service calls in flight
	inFlightCalls metric.Int64UpDownCounter
}

// Create the dispatcher instruments from the provided meter.
func newDispatcherInstruments(meter metric.Meter) (*dispatcherInstruments, error) {
	framesDecoded, err := meter.Int64Counter(metricFramesDecoded,
		metric.WithDescription("Number of frames decoded from the transport"))
	if err != nil {
		return nil, err
	}
	messagesEncoded, err := meter.Int64Counter(metricMessagesEncoded,
		metric.WithDescription("Number of messages encoded for the transport"))
	if err != nil {
		return nil, err
	}
	bytesRead, err := meter.Int64Counter(metricBytesRead, metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	bytesWritten, err := meter.Int64Counter(metricBytesWritten, metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	protocolErrors, err := meter.Int64Counter(metricProtocolErrors,
		metric.WithDescription("Number of incoming frames which violated the protocol"))
	if err != nil {
		return nil, err
	}
	serviceErrors, err := meter.Int64Counter(metricServiceErrors,
		metric.WithDescription("Number of service calls which failed"))
	if err != nil {
		return nil, err
	}
	inFlightCalls, err := meter.Int64UpDownCounter(metricInFlightCalls,
		metric.WithDescription("Number of service calls in flight"))
	if err != nil {
		return nil, err
	}
	return &dispatcherInstruments{
		framesDecoded:   framesDecoded,
		messagesEncoded: messagesEncoded,
		bytesRead:       bytesRead,
		bytesWritten:    bytesWritten,
		protocolErrors:  protocolErrors,
		serviceErrors:   serviceErrors,
		inFlightCalls:   inFlightCalls,
	}, nil
}
