package wsdispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gbdevw/gowsengine/wscodec"
	"github.com/gbdevw/gowsengine/wsproto"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

/*************************************************************************************************/
/* TEST TRANSPORT                                                                                */
/*************************************************************************************************/

// Transport used by tests: reads come from a pipe, writes are stored in a buffer.
type testTransport struct {
	// Input side
	input *io.PipeReader
	// Mutex which protects output and writeErr
	mu sync.Mutex
	// Written bytes
	output bytes.Buffer
	// Size of each successful write
	writes []int
	// Error returned by Write if set
	writeErr error
}

func (t *testTransport) Read(p []byte) (int, error) {
	return t.input.Read(p)
}

func (t *testTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	t.writes = append(t.writes, len(p))
	return t.output.Write(p)
}

// Get the size of each write performed so far.
func (t *testTransport) writeSizes() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.writes...)
}

// Decode the frames written so far (frames written by a server are not masked).
func (t *testTransport) frames() []wscodec.Frame {
	t.mu.Lock()
	buf := bytes.NewBuffer(append([]byte(nil), t.output.Bytes()...))
	t.mu.Unlock()
	codec := wscodec.NewCodec().WithClientMode()
	frames := []wscodec.Frame{}
	for {
		frame, err := codec.Decode(buf)
		if err != nil || frame == nil {
			return frames
		}
		frames = append(frames, *frame)
	}
}

/*************************************************************************************************/
/* TEST SUITES                                                                                   */
/*************************************************************************************************/

// Test suite used for Dispatcher unit tests
type DispatcherUnitTestSuite struct {
	suite.Suite
	// Writer used to feed the dispatcher
	input *io.PipeWriter
	// Transport used by the dispatcher
	transport *testTransport
}

// Run DispatcherUnitTestSuite test suite
func TestDispatcherUnitTestSuite(t *testing.T) {
	suite.Run(t, new(DispatcherUnitTestSuite))
}

// Create a fresh transport before each test
func (suite *DispatcherUnitTestSuite) SetupTest() {
	pr, pw := io.Pipe()
	suite.input = pw
	suite.transport = &testTransport{input: pr}
}

// Close the input pipe after each test so the reader goroutine exits
func (suite *DispatcherUnitTestSuite) TearDownTest() {
	suite.input.Close()
}

/*************************************************************************************************/
/* HELPERS                                                                                       */
/*************************************************************************************************/

// Echo service used by tests.
var echoService = ServiceFunc(func(ctx context.Context, frame wscodec.Frame) (wscodec.Message, error) {
	switch frame.Kind {
	case wscodec.FrameText:
		return wscodec.TextMessage(string(frame.Payload)), nil
	case wscodec.FrameBinary:
		return wscodec.BinaryMessage(frame.Payload), nil
	case wscodec.FramePing:
		return wscodec.PongMessage(frame.Payload), nil
	case wscodec.FrameClose:
		return wscodec.CloseMessage(frame.CloseReason), nil
	default:
		return wscodec.NopMessage(), nil
	}
})

// Encode messages the way a client does (masked).
func (suite *DispatcherUnitTestSuite) encode(msgs ...wscodec.Message) []byte {
	codec := wscodec.NewCodec().WithClientMode()
	buf := new(bytes.Buffer)
	for _, msg := range msgs {
		require.NoError(suite.T(), codec.Encode(msg, buf))
	}
	return buf.Bytes()
}

// Feed the dispatcher from a separate goroutine as pipe writes block until read.
func (suite *DispatcherUnitTestSuite) feed(data []byte) {
	go func() {
		suite.input.Write(data)
	}()
}

// Start the dispatcher in a separate goroutine and return the channel which receives Run result.
func (suite *DispatcherUnitTestSuite) start(ctx context.Context, d *Dispatcher) chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Run(ctx)
	}()
	return errCh
}

// Wait for Run to return.
func (suite *DispatcherUnitTestSuite) wait(errCh chan error) error {
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		suite.FailNow("timeout while waiting for dispatcher to stop")
		return nil
	}
}

// Build a dispatcher which uses the test transport.
func (suite *DispatcherUnitTestSuite) newDispatcher(service Service, opts *DispatcherConfigurationOptions) *Dispatcher {
	d, err := NewDispatcher(suite.transport, service, opts, nil, nil, nil)
	require.NoError(suite.T(), err)
	return d
}

/*************************************************************************************************/
/* UNIT TESTS                                                                                    */
/*************************************************************************************************/

// Test factory input checks.
func (suite *DispatcherUnitTestSuite) TestNewDispatcher() {
	_, err := NewDispatcher(nil, echoService, nil, nil, nil, nil)
	require.Error(suite.T(), err)
	_, err = NewDispatcher(suite.transport, nil, nil, nil, nil, nil)
	require.Error(suite.T(), err)
	_, err = NewDispatcher(suite.transport, echoService, NewDispatcherConfigurationOptions().WithMaxFrameSize(0), nil, nil, nil)
	require.Error(suite.T(), err)
	d, err := NewDispatcher(suite.transport, echoService, nil, nil, nil, nil)
	require.NoError(suite.T(), err)
	require.NotEmpty(suite.T(), d.SessionId())
}

// Test frames are echoed and Run returns nil once the peer closes the transport.
func (suite *DispatcherUnitTestSuite) TestEchoUntilEndOfStream() {
	d := suite.newDispatcher(echoService, nil)
	errCh := suite.start(context.Background(), d)
	_, err := suite.input.Write(suite.encode(
		wscodec.TextMessage("hello"),
		wscodec.BinaryMessage([]byte{1, 2, 3}),
		wscodec.PingMessage([]byte("ping")),
		wscodec.PongMessage(nil),
	))
	require.NoError(suite.T(), err)
	suite.input.Close()
	require.NoError(suite.T(), suite.wait(errCh))
	require.ElementsMatch(suite.T(), []wscodec.Frame{
		{Kind: wscodec.FrameText, Payload: []byte("hello")},
		{Kind: wscodec.FrameBinary, Payload: []byte{1, 2, 3}},
		{Kind: wscodec.FramePong, Payload: []byte("ping")},
	}, suite.transport.frames())
}

// Test a frame delivered in small chunks is decoded once complete.
func (suite *DispatcherUnitTestSuite) TestPartialReads() {
	d := suite.newDispatcher(echoService, NewDispatcherConfigurationOptions().WithReadBufferSize(1))
	errCh := suite.start(context.Background(), d)
	payload := bytes.Repeat([]byte("x"), 300)
	raw := suite.encode(wscodec.BinaryMessage(payload))
	for _, b := range raw {
		_, err := suite.input.Write([]byte{b})
		require.NoError(suite.T(), err)
	}
	suite.input.Close()
	require.NoError(suite.T(), suite.wait(errCh))
	require.Equal(suite.T(), []wscodec.Frame{{Kind: wscodec.FrameBinary, Payload: payload}}, suite.transport.frames())
}

// Test an unmasked frame in server mode stops the dispatcher with a DecodeError after earlier
// responses have been written.
func (suite *DispatcherUnitTestSuite) TestUnmaskedFrame() {
	d := suite.newDispatcher(echoService, nil)
	errCh := suite.start(context.Background(), d)
	_, err := suite.input.Write(suite.encode(wscodec.TextMessage("first")))
	require.NoError(suite.T(), err)
	require.Eventually(suite.T(), func() bool {
		return len(suite.transport.frames()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	// Unmasked text frame
	suite.feed([]byte{0x81, 0x01, 'x'})
	err = suite.wait(errCh)
	require.Error(suite.T(), err)
	decodeErr := new(DecodeError)
	require.True(suite.T(), errors.As(err, decodeErr))
	require.ErrorIs(suite.T(), err, wsproto.ErrUnmaskedFrame)
	require.Equal(suite.T(), []wscodec.Frame{{Kind: wscodec.FrameText, Payload: []byte("first")}}, suite.transport.frames())
}

// Test a failing service stops the dispatcher with a ServiceError.
func (suite *DispatcherUnitTestSuite) TestServiceError() {
	expected := fmt.Errorf("service failure")
	d := suite.newDispatcher(ServiceFunc(func(ctx context.Context, frame wscodec.Frame) (wscodec.Message, error) {
		return wscodec.Message{}, expected
	}), nil)
	errCh := suite.start(context.Background(), d)
	suite.feed(suite.encode(wscodec.TextMessage("hello")))
	err := suite.wait(errCh)
	serviceErr := new(ServiceError)
	require.True(suite.T(), errors.As(err, serviceErr))
	require.ErrorIs(suite.T(), err, expected)
}

// Test a panicking service stops the dispatcher with a ServiceError.
func (suite *DispatcherUnitTestSuite) TestServicePanic() {
	d := suite.newDispatcher(ServiceFunc(func(ctx context.Context, frame wscodec.Frame) (wscodec.Message, error) {
		panic("boom")
	}), nil)
	errCh := suite.start(context.Background(), d)
	suite.feed(suite.encode(wscodec.TextMessage("hello")))
	err := suite.wait(errCh)
	serviceErr := new(ServiceError)
	require.True(suite.T(), errors.As(err, serviceErr))
	require.Contains(suite.T(), err.Error(), "boom")
}

// Test a stop message flushes pending bytes and stops the dispatcher.
func (suite *DispatcherUnitTestSuite) TestStop() {
	d := suite.newDispatcher(ServiceFunc(func(ctx context.Context, frame wscodec.Frame) (wscodec.Message, error) {
		if string(frame.Payload) == "stop" {
			return wscodec.StopMessage(), nil
		}
		return wscodec.TextMessage("ack"), nil
	}), NewDispatcherConfigurationOptions().WithMaxConcurrentCalls(1))
	errCh := suite.start(context.Background(), d)
	suite.feed(suite.encode(wscodec.TextMessage("one"), wscodec.TextMessage("stop"), wscodec.TextMessage("two")))
	require.NoError(suite.T(), suite.wait(errCh))
	require.Equal(suite.T(), []wscodec.Frame{{Kind: wscodec.FrameText, Payload: []byte("ack")}}, suite.transport.frames())
}

// Test a close frame is echoed and stops the dispatcher.
func (suite *DispatcherUnitTestSuite) TestCloseEcho() {
	d := suite.newDispatcher(echoService, nil)
	errCh := suite.start(context.Background(), d)
	reason := wsproto.NewCloseReasonWithDescription(wsproto.CloseNormal, "bye")
	suite.feed(suite.encode(wscodec.CloseMessage(reason)))
	require.NoError(suite.T(), suite.wait(errCh))
	require.Equal(suite.T(), []wscodec.Frame{{Kind: wscodec.FrameClose, CloseReason: reason}}, suite.transport.frames())
}

// Test messages are written in the order service calls complete.
func (suite *DispatcherUnitTestSuite) TestCompletionOrder() {
	release := make(chan struct{})
	d := suite.newDispatcher(ServiceFunc(func(ctx context.Context, frame wscodec.Frame) (wscodec.Message, error) {
		if string(frame.Payload) == "slow" {
			<-release
		}
		return wscodec.TextMessage(string(frame.Payload)), nil
	}), nil)
	errCh := suite.start(context.Background(), d)
	_, err := suite.input.Write(suite.encode(wscodec.TextMessage("slow"), wscodec.TextMessage("fast")))
	require.NoError(suite.T(), err)
	require.Eventually(suite.T(), func() bool {
		return len(suite.transport.frames()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	close(release)
	suite.input.Close()
	require.NoError(suite.T(), suite.wait(errCh))
	require.Equal(suite.T(), []wscodec.Frame{
		{Kind: wscodec.FrameText, Payload: []byte("fast")},
		{Kind: wscodec.FrameText, Payload: []byte("slow")},
	}, suite.transport.frames())
}

// Test the number of concurrent service calls is bounded.
func (suite *DispatcherUnitTestSuite) TestMaxConcurrentCalls() {
	var current, peak atomic.Int64
	d := suite.newDispatcher(ServiceFunc(func(ctx context.Context, frame wscodec.Frame) (wscodec.Message, error) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			m := peak.Load()
			if n <= m || peak.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return wscodec.TextMessage(string(frame.Payload)), nil
	}), NewDispatcherConfigurationOptions().WithMaxConcurrentCalls(2))
	errCh := suite.start(context.Background(), d)
	msgs := []wscodec.Message{}
	for i := 0; i < 10; i++ {
		msgs = append(msgs, wscodec.TextMessage(fmt.Sprint(i)))
	}
	_, err := suite.input.Write(suite.encode(msgs...))
	require.NoError(suite.T(), err)
	suite.input.Close()
	require.NoError(suite.T(), suite.wait(errCh))
	require.Len(suite.T(), suite.transport.frames(), 10)
	require.LessOrEqual(suite.T(), peak.Load(), int64(2))
}

// Test a transport write failure stops the dispatcher with a TransportError.
func (suite *DispatcherUnitTestSuite) TestWriteFailure() {
	expected := fmt.Errorf("broken pipe")
	suite.transport.writeErr = expected
	d := suite.newDispatcher(echoService, nil)
	errCh := suite.start(context.Background(), d)
	suite.feed(suite.encode(wscodec.TextMessage("hello")))
	err := suite.wait(errCh)
	transportErr := new(TransportError)
	require.True(suite.T(), errors.As(err, transportErr))
	require.ErrorIs(suite.T(), err, expected)
}

// Test a transport read failure stops the dispatcher with a TransportError.
func (suite *DispatcherUnitTestSuite) TestReadFailure() {
	expected := fmt.Errorf("connection reset")
	d := suite.newDispatcher(echoService, nil)
	errCh := suite.start(context.Background(), d)
	suite.input.CloseWithError(expected)
	err := suite.wait(errCh)
	require.ErrorIs(suite.T(), err, expected)
	transportErr := new(TransportError)
	require.True(suite.T(), errors.As(err, transportErr))
}

// Test cancelling the context stops the dispatcher and cancels in-flight calls.
func (suite *DispatcherUnitTestSuite) TestContextCancel() {
	called := make(chan struct{})
	cancelled := make(chan struct{})
	d := suite.newDispatcher(ServiceFunc(func(ctx context.Context, frame wscodec.Frame) (wscodec.Message, error) {
		close(called)
		<-ctx.Done()
		close(cancelled)
		return wscodec.Message{}, ctx.Err()
	}), nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := suite.start(ctx, d)
	suite.feed(suite.encode(wscodec.TextMessage("hello")))
	<-called
	cancel()
	require.ErrorIs(suite.T(), suite.wait(errCh), context.Canceled)
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		suite.FailNow("in-flight call was not cancelled")
	}
}

// Test oversized frames are skipped when enabled.
func (suite *DispatcherUnitTestSuite) TestSkipOversizedFrames() {
	d := suite.newDispatcher(echoService, NewDispatcherConfigurationOptions().
		WithMaxFrameSize(4).
		WithSkipOversizedFrames(true))
	errCh := suite.start(context.Background(), d)
	_, err := suite.input.Write(suite.encode(wscodec.TextMessage("too long"), wscodec.TextMessage("ok")))
	require.NoError(suite.T(), err)
	suite.input.Close()
	require.NoError(suite.T(), suite.wait(errCh))
	require.Equal(suite.T(), []wscodec.Frame{{Kind: wscodec.FrameText, Payload: []byte("ok")}}, suite.transport.frames())
}

// Test oversized frames stop the dispatcher by default.
func (suite *DispatcherUnitTestSuite) TestOversizedFrame() {
	d := suite.newDispatcher(echoService, NewDispatcherConfigurationOptions().WithMaxFrameSize(4))
	errCh := suite.start(context.Background(), d)
	suite.feed(suite.encode(wscodec.TextMessage("too long")))
	err := suite.wait(errCh)
	require.ErrorIs(suite.T(), err, wsproto.ErrOverflow)
	require.Empty(suite.T(), suite.transport.frames())
}

// Test messages pushed with Send are written.
func (suite *DispatcherUnitTestSuite) TestSend() {
	d := suite.newDispatcher(echoService, nil)
	d.Send(wscodec.TextMessage("push"))
	errCh := suite.start(context.Background(), d)
	require.Eventually(suite.T(), func() bool {
		return len(suite.transport.frames()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	d.Send(wscodec.CloseMessage(wsproto.NewCloseReason(wsproto.CloseGoingAway)))
	require.NoError(suite.T(), suite.wait(errCh))
	require.Equal(suite.T(), []wscodec.Frame{
		{Kind: wscodec.FrameText, Payload: []byte("push")},
		{Kind: wscodec.FrameClose, CloseReason: wsproto.NewCloseReason(wsproto.CloseGoingAway)},
	}, suite.transport.frames())
}

// # Description
//
// Test encoded bytes are flushed once the high watermark is reached.
//
// Test will succeed if
//   - Every write carries at most the watermark plus one frame.
//   - Queued messages are spread over several writes.
//   - All messages are written.
func (suite *DispatcherUnitTestSuite) TestWriteBufferHighWatermark() {
	watermark := 10
	d := suite.newDispatcher(echoService, NewDispatcherConfigurationOptions().WithWriteBufferHighWatermark(watermark))
	// Unmasked text frame with a 6 bytes payload: 8 bytes
	frameSize := 8
	expected := []wscodec.Frame{}
	for i := 0; i < 20; i++ {
		d.Send(wscodec.TextMessage("abcdef"))
		expected = append(expected, wscodec.Frame{Kind: wscodec.FrameText, Payload: []byte("abcdef")})
	}
	d.Send(wscodec.StopMessage())
	require.NoError(suite.T(), suite.wait(suite.start(context.Background(), d)))
	writes := suite.transport.writeSizes()
	require.Greater(suite.T(), len(writes), 1)
	total := 0
	for _, n := range writes {
		require.LessOrEqual(suite.T(), n, watermark+frameSize)
		total += n
	}
	require.Equal(suite.T(), 20*frameSize, total)
	require.Equal(suite.T(), expected, suite.transport.frames())
}

// Test results queued when a service error is consumed are still written before Run returns.
func (suite *DispatcherUnitTestSuite) TestServiceErrorWritesQueuedResults() {
	expected := fmt.Errorf("service failure")
	d := suite.newDispatcher(echoService, nil)
	d.results.push(result{err: expected})
	d.Send(wscodec.TextMessage("queued"))
	err := suite.wait(suite.start(context.Background(), d))
	serviceErr := new(ServiceError)
	require.True(suite.T(), errors.As(err, serviceErr))
	require.ErrorIs(suite.T(), err, expected)
	require.Equal(suite.T(), []wscodec.Frame{{Kind: wscodec.FrameText, Payload: []byte("queued")}}, suite.transport.frames())
}

// Test results queued when a decode error occurs are still written before Run returns.
func (suite *DispatcherUnitTestSuite) TestDecodeErrorWritesQueuedResults() {
	d := suite.newDispatcher(echoService, nil)
	// Unmasked text frame, already buffered when Run starts
	d.inbound.Write([]byte{0x81, 0x01, 'x'})
	d.Send(wscodec.TextMessage("queued"))
	err := suite.wait(suite.start(context.Background(), d))
	decodeErr := new(DecodeError)
	require.True(suite.T(), errors.As(err, decodeErr))
	require.ErrorIs(suite.T(), err, wsproto.ErrUnmaskedFrame)
	require.Equal(suite.T(), []wscodec.Frame{{Kind: wscodec.FrameText, Payload: []byte("queued")}}, suite.transport.frames())
}

// Test an unknown message kind stops the dispatcher with an EncodeError.
func (suite *DispatcherUnitTestSuite) TestEncodeError() {
	d := suite.newDispatcher(echoService, nil)
	d.Send(wscodec.Message{Kind: wscodec.MessageKind(42)})
	err := suite.wait(suite.start(context.Background(), d))
	encodeErr := new(EncodeError)
	require.True(suite.T(), errors.As(err, encodeErr))
	require.ErrorIs(suite.T(), err, wsproto.ErrBadOpcode)
}

// Test Run can only be called once.
func (suite *DispatcherUnitTestSuite) TestRunTwice() {
	d := suite.newDispatcher(echoService, nil)
	d.Send(wscodec.StopMessage())
	require.NoError(suite.T(), suite.wait(suite.start(context.Background(), d)))
	require.Error(suite.T(), d.Run(context.Background()))
}

// Test the dispatcher with a mocked service.
func (suite *DispatcherUnitTestSuite) TestServiceMock() {
	service := NewServiceMock()
	service.On("Call", mock.Anything, wscodec.Frame{Kind: wscodec.FrameBinary, Payload: []byte{1, 2}}).
		Return(wscodec.BinaryMessage([]byte{3}), nil).Once()
	d := suite.newDispatcher(service, nil)
	errCh := suite.start(context.Background(), d)
	_, err := suite.input.Write(suite.encode(wscodec.BinaryMessage([]byte{1, 2})))
	require.NoError(suite.T(), err)
	suite.input.Close()
	require.NoError(suite.T(), suite.wait(errCh))
	service.AssertExpectations(suite.T())
	require.Equal(suite.T(), []wscodec.Frame{{Kind: wscodec.FrameBinary, Payload: []byte{3}}}, suite.transport.frames())
}

// Test spans recorded for a run.
func (suite *DispatcherUnitTestSuite) TestTracing() {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	d, err := NewDispatcher(suite.transport, echoService, nil, tp, nil, nil)
	require.NoError(suite.T(), err)
	errCh := suite.start(context.Background(), d)
	_, err = suite.input.Write(suite.encode(wscodec.TextMessage("hello")))
	require.NoError(suite.T(), err)
	suite.input.Close()
	require.NoError(suite.T(), suite.wait(errCh))
	names := []string{}
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	require.Contains(suite.T(), names, spanDispatcherRun)
	require.Contains(suite.T(), names, spanServiceCall)
}
