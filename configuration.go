package realtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/kitaflow/realtime-go-sdk/api"
	"github.com/kitaflow/realtime-go-sdk/util"
)

const (
	DefaultEventsPath           = "/api/sse/events"
	DefaultReconnectInterval    = time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultMaxReconnectDelay    = 30 * time.Second
	DefaultDebounceWindow       = 500 * time.Millisecond
	DefaultRequestTimeout       = 10 * time.Second
	DefaultSessionPolling       = 30 * time.Second
)

type AdvancedOptions struct {
	// Transport overrides the SSE transport, mainly for tests.
	Transport Transport
	Clock     Clock
	Network   NetworkMonitor
}

type Options struct {
	EventsPath             string          `json:"eventsPath,omitempty" yaml:"events_path"`
	ReconnectInterval      time.Duration   `json:"reconnectInterval,omitempty" yaml:"reconnect_interval"`
	MaxReconnectAttempts   int             `json:"maxReconnectAttempts,omitempty" yaml:"max_reconnect_attempts"`
	MaxReconnectDelay      time.Duration   `json:"maxReconnectDelay,omitempty" yaml:"max_reconnect_delay"`
	DebounceWindow         time.Duration   `json:"debounceWindow,omitempty" yaml:"debounce_window"`
	RequestTimeout         time.Duration   `json:"requestTimeout,omitempty" yaml:"request_timeout"`
	ReadTimeout            time.Duration   `json:"readTimeout,omitempty" yaml:"read_timeout"`
	SessionPollingInterval time.Duration   `json:"sessionPollingInterval,omitempty" yaml:"session_polling_interval"`
	DisableRealtimeUpdates bool            `json:"disableRealtimeUpdates,omitempty" yaml:"disable_realtime_updates"`
	EventTypes             []api.EventType `json:"eventTypes,omitempty" yaml:"event_types"`
	KeyPatterns            KeyPatterns     `json:"keyPatterns,omitempty" yaml:"key_patterns"`
	// OnMessage and OnError observe the stream in addition to the router.
	OnMessage          func(api.IncomingEvent) `json:"-" yaml:"-"`
	OnError            func(error)             `json:"-" yaml:"-"`
	ClientEventHandler chan api.ClientEvent    `json:"-" yaml:"-"`
	Logger             util.Logger             `json:"-" yaml:"-"`
	AdvancedOptions    `json:"-" yaml:"-"`
}

func (o *Options) CheckDefaults() {
	if o.EventsPath == "" {
		o.EventsPath = DefaultEventsPath
	} else if !strings.HasPrefix(o.EventsPath, "/") {
		o.EventsPath = "/" + o.EventsPath
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = DefaultDebounceWindow
	} else if o.DebounceWindow > 10*time.Second {
		util.Warnf("DebounceWindow cannot be longer than 10 seconds. Defaulting to %s.", DefaultDebounceWindow)
		o.DebounceWindow = DefaultDebounceWindow
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.SessionPollingInterval < time.Second {
		if o.SessionPollingInterval != 0 {
			util.Warnf("SessionPollingInterval cannot be less than 1 second. Defaulting to %s.", DefaultSessionPolling)
		}
		o.SessionPollingInterval = DefaultSessionPolling
	}
	o.KeyPatterns = o.KeyPatterns.withDefaults()
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.Network == nil {
		o.Network = alwaysOnline{}
	}
}

func (o *Options) streamOptions(transport Transport, headers func() http.Header) *StreamOptions {
	return &StreamOptions{
		OnError:              o.OnError,
		ReconnectInterval:    o.ReconnectInterval,
		MaxReconnectAttempts: o.MaxReconnectAttempts,
		MaxReconnectDelay:    o.MaxReconnectDelay,
		// The client enables the stream once the session is authenticated.
		Disabled:           true,
		EventTypes:         o.EventTypes,
		Headers:            headers,
		ClientEventHandler: o.ClientEventHandler,
		AdvancedOptions: AdvancedOptions{
			Transport: transport,
			Clock:     o.Clock,
			Network:   o.Network,
		},
	}
}

func (o *Options) routerOptions() *RouterOptions {
	return &RouterOptions{
		DebounceWindow:     o.DebounceWindow,
		Keys:               o.KeyPatterns,
		Clock:              o.Clock,
		ClientEventHandler: o.ClientEventHandler,
	}
}

// StreamOptions configures a single EventStream.
type StreamOptions struct {
	// OnMessage is invoked once per successfully parsed event.
	OnMessage func(api.IncomingEvent)
	// OnError is invoked once per transport error, never for parse errors.
	OnError              func(error)
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	MaxReconnectDelay    time.Duration
	Disabled             bool
	EventTypes           []api.EventType `validate:"dive,required"`
	// Headers is consulted for every connection attempt.
	Headers            func() http.Header
	ClientEventHandler chan api.ClientEvent
	AdvancedOptions
}

// CheckDefaults replaces zero or negative reconnect settings with defaults,
// warning about the negative ones.
func (o *StreamOptions) CheckDefaults() {
	if o.ReconnectInterval <= 0 {
		if o.ReconnectInterval < 0 {
			util.Warnf("ReconnectInterval cannot be negative. Defaulting to %s.", DefaultReconnectInterval)
		}
		o.ReconnectInterval = DefaultReconnectInterval
	}
	if o.MaxReconnectAttempts <= 0 {
		if o.MaxReconnectAttempts < 0 {
			util.Warnf("MaxReconnectAttempts cannot be negative. Defaulting to %d.", DefaultMaxReconnectAttempts)
		}
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.MaxReconnectDelay <= 0 {
		if o.MaxReconnectDelay < 0 {
			util.Warnf("MaxReconnectDelay cannot be negative. Defaulting to %s.", DefaultMaxReconnectDelay)
		}
		o.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if o.MaxReconnectDelay < o.ReconnectInterval {
		util.Warnf("MaxReconnectDelay cannot be shorter than ReconnectInterval. Using %s.", o.ReconnectInterval)
		o.MaxReconnectDelay = o.ReconnectInterval
	}
	if len(o.EventTypes) == 0 {
		o.EventTypes = api.DefaultEventCatalog()
	}
	if o.Transport == nil {
		o.Transport = NewSSETransport(&http.Client{}, 0)
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.Network == nil {
		o.Network = alwaysOnline{}
	}
}

type HTTPConfiguration struct {
	BasePath      string            `json:"basePath,omitempty"`
	EventsURL     string            `json:"eventsURL,omitempty"`
	DefaultHeader map[string]string `json:"defaultHeader,omitempty"`
	UserAgent     string            `json:"userAgent,omitempty"`
	// HTTPClient serves request/response calls such as the session endpoint.
	HTTPClient *http.Client
	// StreamHTTPClient serves the long-lived event stream and has no overall timeout.
	StreamHTTPClient *http.Client
}

func NewConfiguration(baseURL string, options *Options) *HTTPConfiguration {
	basePath := strings.TrimSuffix(baseURL, "/")
	cfg := &HTTPConfiguration{
		BasePath:      basePath,
		EventsURL:     basePath + options.EventsPath,
		DefaultHeader: make(map[string]string),
		UserAgent:     "Kitaflow-Realtime-SDK/" + VERSION + "/go",
		HTTPClient: &http.Client{
			// Set an explicit timeout so that we don't wait forever on a request
			Timeout: options.RequestTimeout,
		},
		StreamHTTPClient: &http.Client{},
	}
	return cfg
}

func (c *HTTPConfiguration) AddDefaultHeader(key string, value string) {
	c.DefaultHeader[key] = value
}

func (c *HTTPConfiguration) applyHeaders(header http.Header) {
	header.Set("User-Agent", c.UserAgent)
	for key, value := range c.DefaultHeader {
		header.Set(key, value)
	}
}
