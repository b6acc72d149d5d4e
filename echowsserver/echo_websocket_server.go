// This package contains the implementation of a simple echo websocket server. Each accepted
// connection is served by its own dispatcher which uses EchoService.
package echowsserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gbdevw/gowsengine/wsdispatcher"
	"github.com/gbdevw/gowsengine/wsupgrade"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Structure for the websocket server
type EchoWebsocketServer struct {
	// Underlying http.Server
	httpServer *http.Server
	// Listener used by the http.Server once started
	listener net.Listener
	// Options used by the dispatcher of each session
	opts *wsdispatcher.DispatcherConfigurationOptions
	// Indicates that server has started
	started bool
	// Context bound to websocket server lifetime
	serverCtx context.Context
	// Cancel function used to stop server
	cancelServerCtx context.CancelFunc
	// Internal mutex used to coordinate start/stop
	startMu *sync.Mutex
	// Number of sessions being served
	activeSessions atomic.Int64
	// Number of sessions opened during server lifetime
	openedSessions atomic.Int64
	// Tracer provider passed to dispatchers
	tracerProvider trace.TracerProvider
	// Meter provider passed to dispatchers
	meterProvider metric.MeterProvider
	// Tracer used to instrument server code
	tracer trace.Tracer
	// Reference to instruments used to record server metrics
	instruments *echoWebsocketServerInstruments
	// Logger
	logger *zap.Logger
}

// Internal structure used to retain references to instruments that record server metrics.
type echoWebsocketServerInstruments struct {
	// Gauge which watches the number of sessions being served
	activeSessionsGauge metric.Int64ObservableGauge
	// Counter which records the number of sessions opened during server lifetime
	sessionsCounter metric.Int64ObservableCounter
}

// # Description
//
// Factory which creates a new, non-started EchoWebsocketServer.
//
// # Inputs
//
//   - httpServer: The underlying HTTP Server to use. The provided HTTP Server handler will be
//     overriden with this server handler. If nil is provided, a default HTTP server listening
//     on localhost:8080 will be used.
//   - opts: Options used by the dispatcher of each session. If nil, default options are used.
//   - tracerProvider: Tracer provider to use. If nil, the global tracer provider will be used.
//   - meterProvider: Meter provider to use. If nil, the global meter provider will be used.
//   - logger: Logger to use. If nil, a no-op logger will be used.
//
// # Returns
//
// A new, non-started EchoWebsocketServer or an error if options are invalid or instruments
// could not be created.
func NewEchoWebsocketServer(
	httpServer *http.Server,
	opts *wsdispatcher.DispatcherConfigurationOptions,
	tracerProvider trace.TracerProvider,
	meterProvider metric.MeterProvider,
	logger *zap.Logger) (*EchoWebsocketServer, error) {
	if httpServer == nil {
		// Use a default http.Server
		httpServer = &http.Server{Addr: "localhost:8080", BaseContext: func(l net.Listener) context.Context { return context.Background() }}
	}
	if opts == nil {
		opts = wsdispatcher.NewDispatcherConfigurationOptions()
	}
	if err := wsdispatcher.Validate(opts); err != nil {
		return nil, err
	}
	if !opts.ServerMode {
		return nil, fmt.Errorf("dispatcher options must use server mode")
	}
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Build server with initial state
	wssrv := &EchoWebsocketServer{
		httpServer:     httpServer,
		opts:           opts,
		started:        false,
		startMu:        &sync.Mutex{},
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
		tracer:         tracerProvider.Tracer(echowsserver_instrumentation_id),
		logger:         logger,
	}
	meter := meterProvider.Meter(echowsserver_instrumentation_id)
	// Create gauge that will watch the number of sessions being served
	activeSessionsGauge, err := meter.Int64ObservableGauge(echowsserver_metric_active_sessions_gauge, metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
		io.Observe(wssrv.activeSessions.Load())
		return nil
	}))
	if err != nil {
		return nil, err
	}
	// Create counter that records the total number of opened sessions during server lifetime
	sessionsCounter, err := meter.Int64ObservableCounter(echowsserver_metric_sessions_counter, metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
		io.Observe(wssrv.openedSessions.Load())
		return nil
	}))
	if err != nil {
		return nil, err
	}
	wssrv.instruments = &echoWebsocketServerInstruments{
		activeSessionsGauge: activeSessionsGauge,
		sessionsCounter:     sessionsCounter,
	}
	// Register server as handler of the underlying http server
	httpServer.Handler = wssrv
	// Return server
	return wssrv, nil
}

// # Description
//
// Start the websocket server that will accept incoming websocket connections. The method returns
// once the server listens.
func (srv *EchoWebsocketServer) Start() error {
	_, span := srv.tracer.Start(context.Background(), echowsserver_span_start, trace.WithAttributes(
		attribute.String(echowsserver_span_attr_start_host, srv.httpServer.Addr),
	))
	defer span.End()
	// Lock start mutex
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	if srv.started {
		// Server is already started -> error
		err := fmt.Errorf("server already started")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	// Listen
	l, err := net.Listen("tcp", srv.httpServer.Addr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	// Create cancelable server context
	srv.serverCtx, srv.cancelServerCtx = context.WithCancel(context.Background())
	srv.listener = l
	srv.started = true
	go func() {
		if err := srv.httpServer.Serve(l); err != nil && err != http.ErrServerClosed {
			srv.logger.Error("http server failure", zap.Error(err))
		}
	}()
	srv.logger.Info("echo websocket server started", zap.Stringer("address", l.Addr()))
	span.SetStatus(codes.Ok, codes.Ok.String())
	return nil
}

// # Description
//
// Stop the websocket server. Sessions being served are interrupted.
//
// # Returns
//
// Nil in case of success, an error otherwise.
func (srv *EchoWebsocketServer) Stop() error {
	_, span := srv.tracer.Start(context.Background(), echowsserver_span_stop)
	defer span.End()
	// Lock start mutex
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	// Check started flag
	if !srv.started {
		err := fmt.Errorf("server not started")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	// Cancel server context to interrupt all sessions
	srv.cancelServerCtx()
	srv.started = false
	srv.logger.Info("echo websocket server stopped")
	// Close server
	err := srv.httpServer.Close()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, codes.Ok.String())
	return nil
}

// Get the address the server listens on or nil if the server has not started.
func (srv *EchoWebsocketServer) Addr() net.Addr {
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

// # Description
//
// Server handler which accepts incoming websocket connections.
func (srv *EchoWebsocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := srv.tracer.Start(r.Context(), echowsserver_span_accept, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	srv.startMu.Lock()
	serverCtx := srv.serverCtx
	srv.startMu.Unlock()
	if serverCtx == nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	// Accept incoming client connection
	conn, err := wsupgrade.Upgrade(w, r, nil)
	if err != nil {
		// Log, record error in span and exit
		srv.logger.Info("an error occured while accepting client connection", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	id := uuid.NewString()
	span.SetAttributes(attribute.String(echowsserver_span_attr_session_id, id))
	span.SetStatus(codes.Ok, codes.Ok.String())
	// Session context is linked to the accept span and bound to the server lifetime
	sessionCtx, cancel := context.WithCancel(trace.ContextWithSpanContext(serverCtx, trace.SpanContextFromContext(ctx)))
	// Start goroutines which will handle new client
	go srv.closeWatchdog(sessionCtx, conn)
	go srv.runClientSession(sessionCtx, cancel, id, conn)
}

// Serve the client session with a dispatcher until it stops.
func (srv *EchoWebsocketServer) runClientSession(ctx context.Context, cancel context.CancelFunc, id string, conn *wsupgrade.Conn) {
	// Closes the connection through the watchdog
	defer cancel()
	srv.activeSessions.Add(1)
	srv.openedSessions.Add(1)
	defer srv.activeSessions.Add(-1)
	ctx, span := srv.tracer.Start(ctx, echowsserver_span_session, trace.WithAttributes(
		attribute.String(echowsserver_span_attr_session_id, id),
	))
	defer span.End()
	logger := srv.logger.With(zap.String("session", id))
	logger.Debug("new client session", zap.Stringer("remote", conn.NetConn().RemoteAddr()))
	dispatcher, err := wsdispatcher.NewDispatcher(conn, EchoService{}, srv.opts, srv.tracerProvider, srv.meterProvider, logger)
	if err != nil {
		logger.Error("failed to create dispatcher", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	err = dispatcher.Run(ctx)
	if err != nil {
		logger.Info("client session ended with an error", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	logger.Debug("client session ended")
	span.SetStatus(codes.Ok, codes.Ok.String())
}

// This function waits for a cancelation signal on provided context Done channel
// and close the provided connection
func (srv *EchoWebsocketServer) closeWatchdog(ctx context.Context, conn *wsupgrade.Conn) {
	// Wait for context to be canceled
	<-ctx.Done()
	// Close connection
	conn.Close()
}
