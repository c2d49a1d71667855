package realtime

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kitaflow/realtime-go-sdk/api"
	"github.com/kitaflow/realtime-go-sdk/util"
)

const (
	errMsgUnsupported      = "Server-Sent Events are not supported in this environment"
	errMsgMaxAttempts      = "Max reconnection attempts reached"
	errMsgNetwork          = "Network connection interrupted"
	errMsgClosedByServer   = "Connection closed by server"
	errMsgConnectionFailed = "Connection error"
)

var (
	ErrTransportUnsupported = errors.New(errMsgUnsupported)
	ErrMaxReconnectAttempts = errors.New(errMsgMaxAttempts)
	ErrStreamClosed         = errors.New("event stream has been closed")
)

// ParseError reports a push message that could not be decoded.
type ParseError struct {
	EventType string
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("Failed to parse %s event: %v", e.EventType, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// use a single instance of Validate, it caches struct info
var validate = validator.New()

// EventStream maintains at most one live push connection to a fixed endpoint
// and reconnects with exponential backoff after transport errors.
//
// All state is guarded by mu. Callbacks registered in StreamOptions are queued
// while the lock is held and run after it is released.
type EventStream struct {
	url      string
	options  *StreamOptions
	clientID string

	mu                sync.Mutex
	conn              Conn
	generation        uint64
	mounted           bool
	started           bool
	enabled           bool
	isConnected       bool
	lastError         string
	reconnectAttempts int
	reconnectTimer    Timer
	timerSeq          uint64
	catalog           map[string]struct{}
	effects           []func()
}

func NewEventStream(url string, options *StreamOptions) (*EventStream, error) {
	if url == "" {
		return nil, fmt.Errorf("SSE - url cannot be empty")
	}
	if options == nil {
		options = &StreamOptions{}
	}
	if err := validate.Struct(options); err != nil {
		return nil, fmt.Errorf("SSE - invalid options: %w", err)
	}
	options.CheckDefaults()

	catalog := make(map[string]struct{}, len(options.EventTypes))
	for _, t := range options.EventTypes {
		catalog[string(t)] = struct{}{}
	}

	return &EventStream{
		url:      url,
		options:  options,
		clientID: uuid.New().String(),
		mounted:  true,
		enabled:  !options.Disabled,
		catalog:  catalog,
	}, nil
}

// Start opens the connection if the stream is enabled. Calling it more than
// once has no effect. An unsupported transport is reported through State,
// not as an error.
func (s *EventStream) Start() error {
	s.mu.Lock()
	defer s.unlock()
	if !s.mounted {
		return ErrStreamClosed
	}
	if s.started {
		return nil
	}
	s.started = true
	if !s.options.Transport.Supported() {
		s.lastError = errMsgUnsupported
		util.Warnf("SSE - %s", errMsgUnsupported)
		s.emitLocked(api.ClientEvent{
			EventType: api.ClientEventType_Error,
			EventData: s.stateLocked(),
			Status:    "failure",
			Error:     ErrTransportUnsupported,
		})
		return nil
	}
	if s.enabled {
		s.connectLocked()
	}
	return nil
}

// State returns a snapshot of the live connection state.
func (s *EventStream) State() api.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *EventStream) ClientID() string {
	return s.clientID
}

func (s *EventStream) stateLocked() api.StreamState {
	return api.StreamState{
		IsConnected:       s.isConnected,
		Error:             s.lastError,
		ReconnectAttempts: s.reconnectAttempts,
		Status:            api.DeriveStatus(s.isConnected, s.reconnectAttempts, s.options.MaxReconnectAttempts),
	}
}

// SetEnabled gates the stream. Disabling tears the connection down and resets
// the attempt counter; enabling connects again.
func (s *EventStream) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.unlock()
	if !s.mounted || s.enabled == enabled {
		return
	}
	s.enabled = enabled
	if !enabled {
		s.teardownLocked()
		s.reconnectAttempts = 0
		s.lastError = ""
		util.Debugf("SSE - Stream disabled (%s)", s.clientID)
		s.emitLocked(api.ClientEvent{
			EventType: api.ClientEventType_SSEDisabled,
			EventData: s.stateLocked(),
			Status:    "info",
		})
		return
	}
	if s.started && s.options.Transport.Supported() {
		s.connectLocked()
	}
}

// NotifyVisible is called when the hosting view becomes visible again.
func (s *EventStream) NotifyVisible() {
	s.recoverConnection("visibility regained")
}

// NotifyOnline is called when the host network goes from offline to online.
func (s *EventStream) NotifyOnline() {
	s.recoverConnection("network back online")
}

// recoverConnection reconnects immediately, bypassing backoff, unless the
// connection is already open.
func (s *EventStream) recoverConnection(reason string) {
	s.mu.Lock()
	defer s.unlock()
	if !s.mounted || !s.started || !s.enabled || s.isConnected {
		return
	}
	if !s.options.Transport.Supported() {
		return
	}
	util.Infof("SSE - Reconnecting after %s", reason)
	s.cancelReconnectLocked()
	s.reconnectAttempts = 0
	s.connectLocked()
}

// Close tears the stream down. Late transport callbacks become no-ops.
func (s *EventStream) Close() {
	s.mu.Lock()
	defer s.unlock()
	if !s.mounted {
		return
	}
	s.mounted = false
	s.teardownLocked()
	util.Debugf("SSE - Stream closed (%s)", s.clientID)
}

func (s *EventStream) teardownLocked() {
	s.cancelReconnectLocked()
	s.closeConnLocked()
	s.isConnected = false
}

func (s *EventStream) closeConnLocked() {
	// Superseded connections must not reach the state machine anymore.
	s.generation++
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *EventStream) cancelReconnectLocked() {
	s.timerSeq++
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *EventStream) connectLocked() {
	s.closeConnLocked()
	s.isConnected = false
	generation := s.generation

	header := http.Header{}
	if s.options.Headers != nil {
		for key, values := range s.options.Headers() {
			header[key] = values
		}
	}
	header.Set("Accept", "text/event-stream")
	header.Set("X-Client-Id", s.clientID)

	util.Debugf("SSE - Connecting to %s (attempt %d)", s.url, s.reconnectAttempts)
	conn, err := s.options.Transport.Open(s.url, header, &connHandler{stream: s, generation: generation})
	if err != nil {
		s.handleErrorLocked(err, ReadyStateClosed)
		return
	}
	s.conn = conn
}

func (s *EventStream) handleOpen(generation uint64) {
	s.mu.Lock()
	defer s.unlock()
	if !s.current(generation) {
		return
	}
	s.isConnected = true
	s.lastError = ""
	s.reconnectAttempts = 0
	util.Infof("SSE - Connected to %s", s.url)
	s.emitLocked(api.ClientEvent{
		EventType: api.ClientEventType_SSEConnected,
		EventData: "Connected to SSE stream: " + s.url,
		Status:    "success",
	})
}

func (s *EventStream) handleError(generation uint64, err error) {
	s.mu.Lock()
	defer s.unlock()
	if !s.current(generation) {
		return
	}
	readyState := ReadyStateClosed
	if s.conn != nil {
		readyState = s.conn.ReadyState()
	}
	s.handleErrorLocked(err, readyState)
}

func (s *EventStream) handleErrorLocked(err error, readyState ReadyState) {
	s.closeConnLocked()
	s.isConnected = false
	s.lastError = s.classify(readyState)
	util.Debugf("SSE - Error: %v", err)

	if s.options.OnError != nil {
		onError := s.options.OnError
		s.effects = append(s.effects, func() { onError(err) })
	}

	// The counter is read here, at error time, never from an earlier snapshot.
	attemptsBefore := s.reconnectAttempts
	s.reconnectAttempts++

	if s.reconnectAttempts >= s.options.MaxReconnectAttempts {
		s.cancelReconnectLocked()
		s.lastError = errMsgMaxAttempts
		util.Warnf("SSE - %s (%d)", errMsgMaxAttempts, s.reconnectAttempts)
		s.emitLocked(api.ClientEvent{
			EventType: api.ClientEventType_SSEFailure,
			EventData: s.stateLocked(),
			Status:    "failure",
			Error:     ErrMaxReconnectAttempts,
		})
		return
	}

	delay := s.backoff(attemptsBefore)
	s.scheduleReconnectLocked(delay)
	util.Infof("SSE - Reconnecting in %s (attempt %d/%d)", delay, s.reconnectAttempts, s.options.MaxReconnectAttempts)
	s.emitLocked(api.ClientEvent{
		EventType: api.ClientEventType_SSEReconnecting,
		EventData: delay,
		Status:    "failure",
		Error:     err,
	})
}

func (s *EventStream) classify(readyState ReadyState) string {
	switch {
	case !s.options.Network.Online():
		return errMsgNetwork
	case readyState == ReadyStateClosed:
		return errMsgClosedByServer
	default:
		return errMsgConnectionFailed
	}
}

// backoff returns ReconnectInterval * 2^attempts, capped at MaxReconnectDelay.
func (s *EventStream) backoff(attempts int) time.Duration {
	delay := s.options.ReconnectInterval
	for i := 0; i < attempts; i++ {
		if delay >= s.options.MaxReconnectDelay/2 {
			return s.options.MaxReconnectDelay
		}
		delay *= 2
	}
	if delay > s.options.MaxReconnectDelay {
		return s.options.MaxReconnectDelay
	}
	return delay
}

func (s *EventStream) scheduleReconnectLocked(delay time.Duration) {
	s.cancelReconnectLocked()
	seq := s.timerSeq
	s.reconnectTimer = s.options.Clock.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.unlock()
		if !s.mounted || !s.enabled || seq != s.timerSeq {
			return
		}
		s.reconnectTimer = nil
		s.connectLocked()
	})
}

func (s *EventStream) handleMessage(generation uint64, eventName, data string) {
	s.mu.Lock()
	defer s.unlock()
	if !s.current(generation) {
		return
	}

	label := eventName
	if eventName == "" || eventName == "message" {
		label = "message"
	} else if _, ok := s.catalog[eventName]; !ok {
		util.Debugf("SSE - Ignoring unsubscribed event type %q", eventName)
		return
	}

	event, err := s.parseEvent(label, eventName, data)
	if err != nil {
		s.lastError = fmt.Sprintf("Failed to parse %s event", label)
		util.Warnf("SSE - %v", err)
		return
	}

	if s.options.OnMessage != nil {
		onMessage := s.options.OnMessage
		s.effects = append(s.effects, func() { onMessage(event) })
	}
	s.emitLocked(api.ClientEvent{
		EventType: api.ClientEventType_RealtimeUpdates,
		EventData: event,
		Status:    "info",
	})
}

func (s *EventStream) parseEvent(label, eventName, data string) (event api.IncomingEvent, err error) {
	if err = util.Decode([]byte(data), &event, util.DefaultConfig()); err != nil {
		return event, &ParseError{EventType: label, Err: err}
	}
	// Named channels carry their type in the event name.
	if event.Type == "" && label != "message" {
		event.Type = api.EventType(eventName)
	}
	if err = validate.Struct(event); err != nil {
		return event, &ParseError{EventType: label, Err: err}
	}
	return event, nil
}

func (s *EventStream) current(generation uint64) bool {
	return s.mounted && s.enabled && generation == s.generation
}

func (s *EventStream) emitLocked(event api.ClientEvent) {
	if s.options.ClientEventHandler == nil {
		return
	}
	ch := s.options.ClientEventHandler
	s.effects = append(s.effects, func() { emitClientEvent(ch, event) })
}

// unlock releases mu and runs the callbacks queued while it was held.
func (s *EventStream) unlock() {
	effects := s.effects
	s.effects = nil
	s.mu.Unlock()
	for _, effect := range effects {
		effect()
	}
}

func emitClientEvent(ch chan api.ClientEvent, event api.ClientEvent) {
	if ch == nil {
		return
	}
	select {
	case ch <- event:
	default:
		util.Debugf("Client event channel is full, dropping %s event", event.EventType)
	}
}

type connHandler struct {
	stream     *EventStream
	generation uint64
}

func (h *connHandler) OnOpen() {
	h.stream.handleOpen(h.generation)
}

func (h *connHandler) OnMessage(eventName, data string) {
	h.stream.handleMessage(h.generation, eventName, data)
}

func (h *connHandler) OnError(err error) {
	h.stream.handleError(h.generation, err)
}
