// Package wsdispatcher pumps frames decoded from a duplex transport into an application service
// and writes the messages the service produces back onto the transport.
//
// Each decoded frame is processed by its own goroutine. Results are delivered to the dispatcher
// through a single queue and written in the order service calls complete, not in the order frames
// were received. Callers which need in-order responses must serialize themselves.
package wsdispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/gbdevw/gowsengine/wscodec"
	"github.com/gbdevw/gowsengine/wsproto"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Dispatcher state.
type state int

const (
	// Read and write phases alternate
	stateProcessing state = iota
	// A service or encoding error occured
	stateError
	// A decoding or transport error occured
	stateFramedError
	// Buffered bytes must be flushed, then the dispatcher stops
	stateFlushAndStop
	// The peer closed the transport: pending results are written, then the dispatcher stops
	stateStopping
)

func (s state) String() string {
	switch s {
	case stateProcessing:
		return "Processing"
	case stateError:
		return "Error"
	case stateFramedError:
		return "FramedError"
	case stateFlushAndStop:
		return "FlushAndStop"
	case stateStopping:
		return "Stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome of a read performed by the reader goroutine.
type readResult struct {
	// Bytes read. The slice is reused by the next read.
	data []byte
	// Read error
	err error
}

// Dispatcher which owns a duplex transport and serves the frames it receives with a Service.
type Dispatcher struct {
	// Duplex byte stream. The dispatcher never closes it.
	transport io.ReadWriter
	// Instrumented service
	service Service
	// Frames codec
	codec *wscodec.Codec
	// Configuration options
	opts *DispatcherConfigurationOptions
	// Unique ID used in logs and traces
	sessionId string
	// Tracer used to instrument code
	tracer trace.Tracer
	// Instruments used to record metrics
	instruments *dispatcherInstruments
	// Logger
	logger *zap.Logger
	// Queue of results waiting to be encoded
	results *resultQueue
	// Bytes read from the transport and not yet decoded. Owned by the read phase.
	inbound bytes.Buffer
	// Encoded bytes not yet written to the transport. Owned by the write phase.
	outbound bytes.Buffer
	// Number of service calls in flight
	inFlight atomic.Int64
	// Flag used to ensure Run is called once
	started atomic.Bool
	// Current state
	state state
	// Error captured when entering Error or FramedError
	err error
}

// # Description
//
// Factory - Return a new dispatcher which is not running yet.
//
// # Inputs
//
//   - transport: Duplex byte stream obtained after the websocket handshake. Must not be nil.
//   - service: Application logic called for each decoded frame. Must not be nil.
//   - opts: Dispatcher configuration options. If nil, default options are used.
//   - tracerProvider: OpenTelemetry tracer provider to use. If nil, global TracerProvider is used.
//   - meterProvider: OpenTelemetry meter provider to use. If nil, global MeterProvider is used.
//   - logger: Logger to use. If nil, a no-op logger is used.
//
// # Return
//
// A new dispatcher or an error if inputs are nil or if options are invalid.
func NewDispatcher(
	transport io.ReadWriter,
	service Service,
	opts *DispatcherConfigurationOptions,
	tracerProvider trace.TracerProvider,
	meterProvider metric.MeterProvider,
	logger *zap.Logger) (*Dispatcher, error) {
	// Check provided transport and service are not nil
	if transport == nil {
		return nil, fmt.Errorf("provided transport is nil")
	}
	if service == nil {
		return nil, fmt.Errorf("provided service is nil")
	}
	// Use default options if not set and validate them
	if opts == nil {
		opts = NewDispatcherConfigurationOptions()
	}
	if err := Validate(opts); err != nil {
		return nil, err
	}
	// Use globals if providers are not set
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	instruments, err := newDispatcherInstruments(
		meterProvider.Meter(pkgName, metric.WithInstrumentationVersion(pkgVersion)))
	if err != nil {
		return nil, err
	}
	// Decorate service
	decorated, err := newServiceInstrumentationDecorator(service, tracerProvider)
	if err != nil {
		return nil, err
	}
	// Configure codec
	codec := wscodec.NewCodec().WithMaxSize(opts.MaxFrameSize)
	if !opts.ServerMode {
		codec = codec.WithClientMode()
	}
	sessionId := uuid.NewString()
	return &Dispatcher{
		transport:   transport,
		service:     decorated,
		codec:       codec,
		opts:        opts,
		sessionId:   sessionId,
		tracer:      tracerProvider.Tracer(pkgName, trace.WithInstrumentationVersion(pkgVersion)),
		instruments: instruments,
		logger:      logger.With(zap.String("session_id", sessionId)),
		results:     newResultQueue(),
		state:       stateProcessing,
	}, nil
}

// Get the dispatcher session ID.
func (d *Dispatcher) SessionId() string {
	return d.sessionId
}

// # Description
//
// Queue a message which will be written to the transport as if it had been returned by a service
// call. The method can be called from any goroutine, before or while Run executes. Messages sent
// after Run has returned are ignored.
func (d *Dispatcher) Send(msg wscodec.Message) {
	d.results.push(result{msg: msg})
	d.results.notify()
}

// # Description
//
// Run the dispatcher until the transport is closed by the peer, a close or stop message is
// written or an error occurs. Run can only be called once.
//
// Each pass reads and decodes as many frames as possible, starting one service call per frame,
// then encodes the available results and flushes them to the transport. When a pass makes no
// progress, the dispatcher waits for bytes from the transport, a result, or ctx cancellation.
// Bytes are read from the transport only when decoding needs them and while the number of
// service calls in flight is below the configured limit.
//
// # Inputs
//
//   - ctx: Context used for tracing and cancellation. Service calls receive a child context
//     which is cancelled when Run returns.
//
// # Return
//
//   - nil when the peer closed the transport (after pending results have been written) or when
//     a close or stop message has been written.
//   - DecodeError when incoming bytes violate the protocol.
//   - TransportError when the transport could not be read or written.
//   - ServiceError when a service call failed.
//   - EncodeError when a message could not be encoded.
//   - ctx.Err() when ctx is cancelled.
//
// Except for transport errors, buffered bytes are flushed before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher %s has already run", d.sessionId)
	}
	// Start span
	ctx, span := d.tracer.Start(ctx, spanDispatcherRun,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(attrSessionId, d.sessionId),
			attribute.Bool(attrServerMode, d.opts.ServerMode),
		))
	defer span.End()
	// Child context cancelled on exit: stops the reader and in-flight service calls
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	demand := make(chan struct{}, 1)
	reads := make(chan readResult)
	go d.readTransport(runCtx, demand, reads)
	d.logger.Debug("dispatcher started", zap.Bool("server_mode", d.opts.ServerMode))
	// True while a read requested from the reader goroutine has not been received yet
	reading := false
	// True once the peer closed the transport
	eof := false
	for {
		switch d.state {
		case stateProcessing:
			readProgress := d.pollRead(runCtx, eof)
			if d.state != stateProcessing {
				continue
			}
			writeProgress := d.pollWrite(runCtx)
			if d.state != stateProcessing || readProgress || writeProgress {
				continue
			}
			// Ask for more bytes only when decoding needs them
			if !reading && !eof && d.ready() {
				demand <- struct{}{}
				reading = true
			}
			select {
			case r := <-reads:
				reading = false
				if len(r.data) > 0 {
					d.inbound.Write(r.data)
					d.instruments.bytesRead.Add(runCtx, int64(len(r.data)))
				}
				if r.err != nil {
					if errors.Is(r.err, io.EOF) {
						span.AddEvent(eventEndOfStream)
						eof = true
					} else {
						d.fail(runCtx, stateFramedError, TransportError{Err: r.err})
					}
				}
			case <-d.results.ready():
			case <-runCtx.Done():
				d.fail(runCtx, stateError, ctx.Err())
			}
		case stateStopping:
			// Write the results of in-flight calls before stopping
			d.pollWrite(runCtx)
			if d.state != stateStopping {
				continue
			}
			if d.inFlight.Load() == 0 && d.results.len() == 0 {
				if err := d.flush(ctx); err != nil {
					d.logger.Warn("failed to flush buffered bytes while stopping", zap.Error(err))
				}
				d.logger.Debug("dispatcher stopped: transport closed by peer")
				return handlePotentialError(nil, span)
			}
			select {
			case <-d.results.ready():
			case <-runCtx.Done():
				d.fail(runCtx, stateError, ctx.Err())
			}
		case stateFlushAndStop:
			if err := d.flush(ctx); err != nil {
				d.logger.Warn("failed to flush buffered bytes while stopping", zap.Error(err))
			}
			d.logger.Debug("dispatcher stopped")
			return handlePotentialError(nil, span)
		case stateError, stateFramedError:
			// Best-effort: write already queued results and buffered bytes
			d.encodeQueued(runCtx)
			if err := d.flush(ctx); err != nil {
				d.logger.Debug("best-effort flush failed", zap.Error(err))
			}
			d.logger.Info("dispatcher stopped on error", zap.Stringer("state", d.state), zap.Error(d.err))
			return handleError(d.err, span, codes.Error, d.state.String())
		default:
			return handleError(fmt.Errorf("unknown dispatcher state %s", d.state), span, codes.Error, codes.Error.String())
		}
	}
}

/*************************************************************************************************/
/* READ PHASE                                                                                    */
/*************************************************************************************************/

// Decode frames while the service is ready and start one service call per frame. Return true if
// at least one frame has been decoded or skipped.
func (d *Dispatcher) pollRead(ctx context.Context, eof bool) bool {
	progress := false
	for d.ready() {
		frame, err := d.codec.Decode(&d.inbound)
		if err != nil {
			d.instruments.protocolErrors.Add(ctx, 1)
			if d.opts.SkipOversizedFrames && errors.Is(err, wsproto.ErrOverflow) {
				trace.SpanFromContext(ctx).AddEvent(eventFrameSkipped)
				d.logger.Warn("oversized frame skipped", zap.Error(err))
				progress = true
				continue
			}
			d.fail(ctx, stateFramedError, DecodeError{Err: err})
			return progress
		}
		if frame == nil {
			if eof {
				d.setState(ctx, stateStopping)
			}
			return progress
		}
		progress = true
		d.instruments.framesDecoded.Add(ctx, 1,
			metric.WithAttributes(attribute.String(attrFrameKind, frame.Kind.String())))
		d.call(ctx, *frame)
	}
	return progress
}

// Start a service call in its own goroutine. The result is queued, then the in-flight counter
// is decremented, then the consumer is notified.
func (d *Dispatcher) call(ctx context.Context, frame wscodec.Frame) {
	d.inFlight.Add(1)
	d.instruments.inFlightCalls.Add(ctx, 1)
	go func() {
		var res result
		func() {
			defer func() {
				if r := recover(); r != nil {
					res = result{err: fmt.Errorf("service panicked: %v", r)}
				}
			}()
			res.msg, res.err = d.service.Call(ctx, frame)
		}()
		d.results.push(res)
		d.inFlight.Add(-1)
		d.instruments.inFlightCalls.Add(context.WithoutCancel(ctx), -1)
		d.results.notify()
	}()
}

// Check whether a new service call can be started.
func (d *Dispatcher) ready() bool {
	return d.opts.MaxConcurrentCalls == 0 || d.inFlight.Load() < int64(d.opts.MaxConcurrentCalls)
}

// Reader goroutine: perform one transport read each time a demand is received.
func (d *Dispatcher) readTransport(ctx context.Context, demand <-chan struct{}, reads chan<- readResult) {
	buf := make([]byte, d.opts.ReadBufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-demand:
		}
		n, err := d.transport.Read(buf)
		select {
		case <-ctx.Done():
			return
		case reads <- readResult{data: buf[:n], err: err}:
		}
	}
}

/*************************************************************************************************/
/* WRITE PHASE                                                                                   */
/*************************************************************************************************/

// Encode queued results while buffered bytes are below the high watermark and flush them to the
// transport, until the queue is empty. Return true if at least one result has been consumed.
func (d *Dispatcher) pollWrite(ctx context.Context) bool {
	progress := false
	for {
		consumed := false
		for d.outbound.Len() < d.opts.WriteBufferHighWatermark {
			res, ok := d.results.pop()
			if !ok {
				break
			}
			consumed = true
			progress = true
			if !d.handleResult(ctx, res) {
				return progress
			}
		}
		if d.outbound.Len() > 0 {
			if _, err := d.writeOutbound(ctx); err != nil {
				d.fail(ctx, stateFramedError, TransportError{Err: err})
				return progress
			}
		}
		if !consumed {
			return progress
		}
	}
}

// Encode one result. Return false if the state changed.
func (d *Dispatcher) handleResult(ctx context.Context, res result) bool {
	if res.err != nil {
		d.instruments.serviceErrors.Add(ctx, 1)
		d.fail(ctx, stateError, ServiceError{Err: res.err})
		return false
	}
	switch res.msg.Kind {
	case wscodec.MessageStop:
		d.setState(ctx, stateFlushAndStop)
		return false
	case wscodec.MessageNop:
		return true
	}
	if err := d.codec.Encode(res.msg, &d.outbound); err != nil {
		d.fail(ctx, stateError, EncodeError{Err: err})
		return false
	}
	d.instruments.messagesEncoded.Add(ctx, 1,
		metric.WithAttributes(attribute.String(attrMessageKind, res.msg.Kind.String())))
	if res.msg.Kind == wscodec.MessageClose {
		d.setState(ctx, stateFlushAndStop)
		return false
	}
	return true
}

// Encode the messages already queued, ignoring errors. Used before surfacing an error.
func (d *Dispatcher) encodeQueued(ctx context.Context) {
	for {
		res, ok := d.results.pop()
		if !ok {
			return
		}
		if res.err != nil || res.msg.Kind == wscodec.MessageStop {
			continue
		}
		if err := d.codec.Encode(res.msg, &d.outbound); err == nil && res.msg.Kind != wscodec.MessageNop {
			d.instruments.messagesEncoded.Add(ctx, 1,
				metric.WithAttributes(attribute.String(attrMessageKind, res.msg.Kind.String())))
		}
	}
}

// Write buffered bytes to the transport.
func (d *Dispatcher) writeOutbound(ctx context.Context) (int64, error) {
	n, err := d.outbound.WriteTo(d.transport)
	if n > 0 {
		d.instruments.bytesWritten.Add(ctx, n)
	}
	return n, err
}

// Traced final flush.
func (d *Dispatcher) flush(ctx context.Context) error {
	if d.outbound.Len() == 0 {
		return nil
	}
	ctx, span := d.tracer.Start(ctx, spanDispatcherFlush, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	n, err := d.writeOutbound(ctx)
	span.SetAttributes(attribute.Int64(attrFlushedBytes, n))
	return handlePotentialError(err, span)
}

/*************************************************************************************************/
/* STATE                                                                                         */
/*************************************************************************************************/

// Change state.
func (d *Dispatcher) setState(ctx context.Context, s state) {
	trace.SpanFromContext(ctx).AddEvent(eventStateChange, trace.WithAttributes(
		attribute.String(attrState, s.String()),
	))
	d.logger.Debug("dispatcher state change", zap.Stringer("from", d.state), zap.Stringer("to", s))
	d.state = s
}

// Capture err and move to an error state.
func (d *Dispatcher) fail(ctx context.Context, s state, err error) {
	d.err = err
	d.setState(ctx, s)
}
