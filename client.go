package realtime

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/kitaflow/realtime-go-sdk/api"
	"github.com/kitaflow/realtime-go-sdk/util"
)

// Client owns the one event stream and the one router of a process. Build it
// once at the application root and pass it to whatever needs live updates.
type Client struct {
	cfg     *HTTPConfiguration
	options *Options
	session SessionProvider
	stream  *EventStream
	router  *EventRouter

	unsubscribe func()
	closeOnce   sync.Once
}

// NewClient creates the stream and router for baseURL. The stream stays
// disabled until session reports an authenticated status.
func NewClient(baseURL string, cache Cache, session SessionProvider, options *Options) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("missing base URL! Call NewClient with the URL of the web app")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if session == nil {
		return nil, fmt.Errorf("session provider cannot be nil")
	}
	if options == nil {
		options = &Options{}
	}
	if options.Logger != nil {
		util.SetLogger(options.Logger)
	}
	options.CheckDefaults()

	c := &Client{
		cfg:     NewConfiguration(baseURL, options),
		options: options,
		session: session,
	}
	c.router = NewEventRouter(cache, options.routerOptions())

	transport := options.Transport
	if transport == nil {
		transport = NewSSETransport(c.cfg.StreamHTTPClient, options.ReadTimeout)
	}
	streamOptions := options.streamOptions(transport, c.streamHeaders)
	streamOptions.OnMessage = c.onMessage

	stream, err := NewEventStream(c.cfg.EventsURL, streamOptions)
	if err != nil {
		return nil, err
	}
	c.stream = stream
	if err = c.stream.Start(); err != nil {
		return nil, err
	}

	c.unsubscribe = session.Subscribe(c.applySessionStatus)
	c.applySessionStatus(session.Status())
	return c, nil
}

func (c *Client) onMessage(event api.IncomingEvent) {
	c.router.OnEvent(event)
	if c.options.OnMessage != nil {
		c.options.OnMessage(event)
	}
}

func (c *Client) applySessionStatus(status api.SessionStatus) {
	enabled := status == api.SessionStatus_Authenticated && !c.options.DisableRealtimeUpdates
	util.Debugf("Session status %s, realtime updates enabled: %t", status, enabled)
	c.stream.SetEnabled(enabled)
}

func (c *Client) streamHeaders() http.Header {
	header := http.Header{}
	c.cfg.applyHeaders(header)
	if token := c.session.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return header
}

// AddDefaultHeader adds a header sent with every request, e.g. a session cookie.
func (c *Client) AddDefaultHeader(key, value string) {
	c.cfg.AddDefaultHeader(key, value)
}

func (c *Client) State() api.StreamState {
	return c.stream.State()
}

func (c *Client) Stream() *EventStream {
	return c.stream
}

func (c *Client) Router() *EventRouter {
	return c.router
}

// NotifyVisible forwards a visibility-regained signal to the stream.
func (c *Client) NotifyVisible() {
	c.stream.NotifyVisible()
}

// NotifyOnline forwards a network-online signal to the stream.
func (c *Client) NotifyOnline() {
	c.stream.NotifyOnline()
}

// Close stops the stream and the router. Pending invalidations are flushed
// first so the cache does not keep stale entries.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		c.stream.Close()
		c.router.Flush()
		c.router.Close()
		util.Infof("Realtime client closed.")
	})
}
