package realtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/launchdarkly/eventsource"

	"github.com/kitaflow/realtime-go-sdk/util"
)

// SSETransport opens Server-Sent Events connections. Retrying is left to
// EventStream: the library is told to close the stream on the first error.
type SSETransport struct {
	HTTPClient  *http.Client
	ReadTimeout time.Duration
}

func NewSSETransport(client *http.Client, readTimeout time.Duration) *SSETransport {
	return &SSETransport{HTTPClient: client, ReadTimeout: readTimeout}
}

func (t *SSETransport) Supported() bool {
	return t != nil && t.HTTPClient != nil
}

func (t *SSETransport) Open(url string, header http.Header, handler ConnHandler) (Conn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	for key, values := range header {
		req.Header[key] = values
	}

	conn := &sseConn{ctx: ctx, cancel: cancel}
	conn.state.Store(int32(ReadyStateConnecting))
	go conn.run(req, t.streamOptions(conn, handler), handler)
	return conn, nil
}

func (t *SSETransport) streamOptions(conn *sseConn, handler ConnHandler) []eventsource.StreamOption {
	options := []eventsource.StreamOption{
		eventsource.StreamOptionHTTPClient(t.HTTPClient),
		eventsource.StreamOptionLogger(util.EventSourceLogger{}),
		eventsource.StreamOptionErrorHandler(func(err error) eventsource.StreamErrorHandlerResult {
			conn.fail(err, handler)
			return eventsource.StreamErrorHandlerResult{
				CloseNow: true,
			}
		}),
	}
	if t.ReadTimeout > 0 {
		options = append(options, eventsource.StreamOptionReadTimeout(t.ReadTimeout))
	}
	return options
}

type sseConn struct {
	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32

	mu     sync.Mutex
	stream *eventsource.Stream
	closed bool
	failed bool
}

func (c *sseConn) run(req *http.Request, options []eventsource.StreamOption, handler ConnHandler) {
	stream, err := eventsource.SubscribeWithRequestAndOptions(req, options...)
	if err != nil {
		c.fail(err, handler)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		stream.Close()
		return
	}
	c.stream = stream
	c.mu.Unlock()

	c.state.Store(int32(ReadyStateOpen))
	handler.OnOpen()

	for {
		select {
		case <-c.ctx.Done():
			return
		case event, ok := <-stream.Events:
			if !ok {
				c.fail(io.EOF, handler)
				return
			}
			if c.isClosed() {
				return
			}
			handler.OnMessage(event.Event(), event.Data())
		}
	}
}

// fail reports the first error of the connection; later ones are dropped.
func (c *sseConn) fail(err error, handler ConnHandler) {
	c.mu.Lock()
	if c.closed || c.failed {
		c.mu.Unlock()
		return
	}
	c.failed = true
	c.mu.Unlock()

	if serverClosed(err) {
		c.state.Store(int32(ReadyStateClosed))
	} else {
		c.state.Store(int32(ReadyStateConnecting))
	}
	handler.OnError(err)
}

func serverClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var subscriptionErr eventsource.SubscriptionError
	if errors.As(err, &subscriptionErr) {
		return true
	}
	var subscriptionErrPtr *eventsource.SubscriptionError
	return errors.As(err, &subscriptionErrPtr)
}

func (c *sseConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *sseConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	c.state.Store(int32(ReadyStateClosed))
	c.cancel()
	if stream != nil {
		// Close is safe to call from any goroutine
		stream.Close()
	}
}

func (c *sseConn) ReadyState() ReadyState {
	return ReadyState(c.state.Load())
}
