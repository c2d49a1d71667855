package realtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matryer/try"

	"github.com/kitaflow/realtime-go-sdk/api"
	"github.com/kitaflow/realtime-go-sdk/util"
)

const (
	sessionPath        = "/api/auth/session"
	sessionRefreshPath = "/api/auth/refresh"
	maxSessionAttempts = 3
	tokenExpiryLeeway  = 30 * time.Second
)

var ErrSessionManagerClosed = errors.New("session manager has been closed")

// SessionManager is a SessionProvider backed by the web app's session
// endpoint, which it polls on a fixed interval.
type SessionManager struct {
	cfg        *HTTPConfiguration
	options    *Options
	httpClient *http.Client
	context    context.Context
	cancel     context.CancelFunc
	now        func() time.Time

	mu          sync.RWMutex
	status      api.SessionStatus
	session     api.Session
	firstLoad   bool
	ticker      *time.Ticker
	closed      bool
	subscribers sessionSubscribers
}

func NewSessionManager(baseURL string, options *Options) *SessionManager {
	if options == nil {
		options = &Options{}
	}
	options.CheckDefaults()
	cfg := NewConfiguration(baseURL, options)
	m := &SessionManager{
		cfg:        cfg,
		options:    options,
		httpClient: cfg.HTTPClient,
		now:        time.Now,
		status:     api.SessionStatus_Loading,
		firstLoad:  true,
	}
	m.context, m.cancel = context.WithCancel(context.Background())
	return m
}

// Initialize fetches the session once and starts polling. It fails with
// ErrSessionManagerClosed after Close.
func (m *SessionManager) Initialize() (err error) {
	if m.isClosed() {
		return ErrSessionManagerClosed
	}
	err = m.initialFetch()
	if err != nil {
		util.Warnf("Session - Initial fetch failed: %s", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSessionManagerClosed
	}
	if m.ticker != nil {
		return
	}
	ticker := time.NewTicker(m.options.SessionPollingInterval)
	m.ticker = ticker
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-m.context.Done():
				util.Infof("Session - Stopping session polling.")
				return
			case <-ticker.C:
				if err := m.fetchSession(false); err != nil && m.context.Err() == nil {
					util.Warnf("Session - Error fetching session: %s", err)
				}
			}
		}
	}()
	return
}

func (m *SessionManager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *SessionManager) initialFetch() error {
	return m.fetchSession(false)
}

func (m *SessionManager) fetchSession(retrying bool) error {
	resp, body, err := m.performRequest(http.MethodGet, m.cfg.BasePath+sessionPath)
	if err != nil {
		return err
	}

	switch statusCode := resp.StatusCode; {
	case statusCode == http.StatusOK:
		return m.storeSession(body, retrying)
	case statusCode == http.StatusUnauthorized:
		// Retry exactly once after a refresh.
		if !retrying {
			if err = m.refresh(); err == nil {
				return m.fetchSession(true)
			}
			util.Debugf("Session - Refresh failed: %s", err)
		}
		m.setSession(api.SessionStatus_Unauthenticated, api.Session{})
		return nil
	case statusCode == http.StatusForbidden:
		m.setSession(api.SessionStatus_Unauthenticated, api.Session{})
		return nil
	default:
		return fmt.Errorf("unexpected response code from session endpoint: %d", statusCode)
	}
}

func (m *SessionManager) storeSession(body []byte, retrying bool) error {
	var session api.Session
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := util.Decode(trimmed, &session, util.DefaultConfig()); err != nil {
			return fmt.Errorf("invalid JSON data received for session: %w", err)
		}
	}

	if err := validate.Struct(session); err != nil {
		m.setSession(api.SessionStatus_Unauthenticated, api.Session{})
		return nil
	}

	if tokenExpired(session.Token, m.now()) {
		if retrying {
			m.setSession(api.SessionStatus_Unauthenticated, api.Session{})
			return fmt.Errorf("session token still expired after refresh")
		}
		if err := m.refresh(); err != nil {
			m.setSession(api.SessionStatus_Unauthenticated, api.Session{})
			return err
		}
		return m.fetchSession(true)
	}

	m.setSession(api.SessionStatus_Authenticated, session)
	return nil
}

func (m *SessionManager) refresh() error {
	resp, _, err := m.performRequest(http.MethodPost, m.cfg.BasePath+sessionRefreshPath)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("token refresh failed: %s", resp.Status)
	}
	util.Debugf("Session - Token refreshed")
	return nil
}

func (m *SessionManager) performRequest(method, url string) (response *http.Response, body []byte, err error) {
	// This retrying lib works by retrying as long as the bool is true and err is not nil
	// the attempt param is auto-incremented
	err = try.Do(func(attempt int) (bool, error) {
		req, err := http.NewRequestWithContext(m.context, method, url, nil)
		// Don't retry if theres an error preparing the request
		if err != nil {
			return false, err
		}
		m.cfg.applyHeaders(req.Header)
		req.Header.Set("Accept", "application/json")
		if token := m.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := m.httpClient.Do(req)
		if err != nil {
			if m.context.Err() != nil {
				return false, err
			}
			if !m.backoff(attempt) {
				return false, m.context.Err()
			}
			return attempt < maxSessionAttempts, err
		}
		responseBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if err == nil && resp.StatusCode >= 500 {
			err = fmt.Errorf("session endpoint returned %s", resp.Status)
		}
		if err != nil {
			if !m.backoff(attempt) {
				return false, m.context.Err()
			}
			return attempt < maxSessionAttempts, err
		}

		response, body = resp, responseBody
		return false, nil
	})
	return
}

// backoff waits before the next attempt and reports false if the manager
// was closed meanwhile.
func (m *SessionManager) backoff(attempt int) bool {
	if attempt >= maxSessionAttempts {
		return true
	}
	timer := time.NewTimer(time.Duration(exponentialBackoff(attempt)) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-m.context.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *SessionManager) setSession(status api.SessionStatus, session api.Session) {
	m.mu.Lock()
	changed := m.status != status
	m.status = status
	m.session = session
	firstLoad := m.firstLoad
	m.firstLoad = false
	m.mu.Unlock()

	if firstLoad {
		util.Infof("Session - Initial status: %s", status)
	}
	if !changed {
		return
	}
	emitClientEvent(m.options.ClientEventHandler, api.ClientEvent{
		EventType: api.ClientEventType_SessionChanged,
		EventData: status,
		Status:    "info",
	})
	m.subscribers.notify(status)
}

func (m *SessionManager) Status() api.SessionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *SessionManager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != api.SessionStatus_Authenticated {
		return ""
	}
	return m.session.Token
}

// AddDefaultHeader adds a header sent with every session request, e.g. the
// session cookie.
func (m *SessionManager) AddDefaultHeader(key, value string) {
	m.cfg.AddDefaultHeader(key, value)
}

func (m *SessionManager) Session() api.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

func (m *SessionManager) Subscribe(fn func(api.SessionStatus)) func() {
	return m.subscribers.add(fn)
}

// Close stops polling and aborts in-flight requests and retry waits.
func (m *SessionManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
}

// tokenExpired reports whether a JWT's exp claim has passed. Opaque tokens
// never expire from the client's point of view.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.Time.After(now.Add(tokenExpiryLeeway))
}

func exponentialBackoff(attempt int) float64 {
	delay := math.Pow(2, float64(attempt)) * 100
	randomSum := delay * 0.2 * rand.Float64()
	return delay + randomSum
}
